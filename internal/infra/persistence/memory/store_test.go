package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warrantycore/pkg/domain"
)

func seedProduct(t *testing.T, store *Store, imei string) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(domain.Product{IMEI: imei, Name: "Phone", Model: "X1"}); err != nil {
			return err
		}
		_, err := tx.CreateWarranty(domain.Warranty{
			ProductIMEI: imei,
			StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			Terms:       "standard",
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	seedProduct(t, store, "111")

	var requestID string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindServiceRequest("missing"); ok {
			t.Fatalf("expected missing request lookup")
		}
		created, err := tx.CreateServiceRequest(domain.ServiceRequest{CustomerID: "c1", ProductIMEI: "111", IssueDescription: "screen"})
		if err != nil {
			return err
		}
		if created.ID == "" || created.Seq == 0 {
			t.Fatalf("expected generated ID and seq, got %+v", created)
		}
		if created.Status != domain.RequestPending {
			t.Fatalf("expected default status PENDING, got %s", created.Status)
		}
		requestID = created.ID
		if len(tx.Snapshot().ListServiceRequests()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if _, ok := store.GetServiceRequest(requestID); !ok {
		t.Fatalf("expected persisted request")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListServiceRequests()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListServiceRequests()) != 1 {
		t.Fatalf("expected restored state")
	}
	err = store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindProductByIMEI("111"); !ok {
			t.Fatalf("expected product index rebuilt on import")
		}
		if _, ok := view.FindWarrantyByIMEI("111"); !ok {
			t.Fatalf("expected warranty index rebuilt on import")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreRejectsDuplicateIMEI(t *testing.T) {
	store := NewStore(nil)
	seedProduct(t, store, "222")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateProduct(domain.Product{IMEI: "222"})
		return err
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateWarranty(domain.Warranty{ProductIMEI: "222", EndDate: time.Now()})
		return err
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected warranty conflict, got %v", err)
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	store := NewStore(nil)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		field string
		fn    func(tx domain.Transaction) error
	}{
		{"blank imei", "imei", func(tx domain.Transaction) error {
			_, err := tx.CreateProduct(domain.Product{IMEI: "  "})
			return err
		}},
		{"missing end date", "end_date", func(tx domain.Transaction) error {
			if _, err := tx.CreateProduct(domain.Product{IMEI: "901"}); err != nil {
				return err
			}
			_, err := tx.CreateWarranty(domain.Warranty{ProductIMEI: "901"})
			return err
		}},
		{"ends before start", "end_date", func(tx domain.Transaction) error {
			if _, err := tx.CreateProduct(domain.Product{IMEI: "902"}); err != nil {
				return err
			}
			_, err := tx.CreateWarranty(domain.Warranty{ProductIMEI: "902", StartDate: start, EndDate: start.Add(-time.Hour)})
			return err
		}},
	}
	for _, tc := range cases {
		_, err := store.RunInTransaction(context.Background(), tc.fn)
		var invalid domain.ErrInvalidInput
		if !errors.As(err, &invalid) || invalid.Field != tc.field {
			t.Fatalf("%s: expected invalid %s, got %T %v", tc.name, tc.field, err, err)
		}
	}
	if got := len(store.ExportState().Products); got != 0 {
		t.Fatalf("expected failed transactions to leave no products, got %d", got)
	}
}

func TestStoreMissingReferences(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateWarranty(domain.Warranty{ProductIMEI: "nope", EndDate: time.Now()}); !domain.IsNotFound(err) {
			t.Fatalf("expected missing product for warranty, got %v", err)
		}
		if _, err := tx.CreateServiceRequest(domain.ServiceRequest{ProductIMEI: "nope"}); !domain.IsNotFound(err) {
			t.Fatalf("expected missing product for request, got %v", err)
		}
		if _, err := tx.CreateLogisticsOrder(domain.LogisticsOrder{RequestID: "nope", Type: domain.LogisticsPickup}); !domain.IsNotFound(err) {
			t.Fatalf("expected missing request for order, got %v", err)
		}
		if _, err := tx.CreateRepair(domain.Repair{RequestID: "nope"}); !domain.IsNotFound(err) {
			t.Fatalf("expected missing request for repair, got %v", err)
		}
		if _, err := tx.UpdateServiceRequest("nope", func(*domain.ServiceRequest) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected missing request update, got %v", err)
		}
		if _, err := tx.UpdateLogisticsOrder("nope", func(*domain.LogisticsOrder) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected missing order update, got %v", err)
		}
		if _, err := tx.UpdateRepair("nope", func(*domain.Repair) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected missing repair update, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestStoreOrdersHistoryBySeq(t *testing.T) {
	store := NewStore(nil)
	seedProduct(t, store, "333")
	ctx := context.Background()
	var reqID, firstOrder, lastOrder string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		req, err := tx.CreateServiceRequest(domain.ServiceRequest{ProductIMEI: "333"})
		if err != nil {
			return err
		}
		reqID = req.ID
		pickup, err := tx.CreateLogisticsOrder(domain.LogisticsOrder{RequestID: req.ID, Type: domain.LogisticsPickup})
		if err != nil {
			return err
		}
		firstOrder = pickup.ID
		if _, err := tx.CreateRepair(domain.Repair{RequestID: req.ID}); err != nil {
			return err
		}
		delivery, err := tx.CreateLogisticsOrder(domain.LogisticsOrder{RequestID: req.ID, Type: domain.LogisticsDelivery})
		if err != nil {
			return err
		}
		lastOrder = delivery.ID
		if _, err := tx.CreateLogisticsOrder(domain.LogisticsOrder{RequestID: req.ID, Type: "BOAT"}); !domain.IsInvalidStatus(err) {
			t.Fatalf("expected invalid logistics type, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	err = store.View(ctx, func(view domain.TransactionView) error {
		agg, err := domain.LoadAggregate(view, reqID)
		if err != nil {
			return err
		}
		if len(agg.Logistics) != 2 || agg.Logistics[0].ID != firstOrder || agg.Logistics[1].ID != lastOrder {
			t.Fatalf("unexpected logistics order: %+v", agg.Logistics)
		}
		if agg.Logistics[0].Status != domain.LogisticsScheduled {
			t.Fatalf("expected default SCHEDULED, got %s", agg.Logistics[0].Status)
		}
		if agg.Repairs[0].Status != domain.RepairPending {
			t.Fatalf("expected default repair PENDING, got %s", agg.Repairs[0].Status)
		}
		current, ok := view.CurrentLogisticsOrder(reqID)
		if !ok || current.ID != lastOrder {
			t.Fatalf("expected current order %s, got %+v", lastOrder, current)
		}
		if _, ok := view.CurrentRepair(reqID); !ok {
			t.Fatalf("expected current repair")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreUpdatesPreserveImmutableFields(t *testing.T) {
	store := NewStore(nil)
	seedProduct(t, store, "444")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		req, err := tx.CreateServiceRequest(domain.ServiceRequest{ProductIMEI: "444"})
		if err != nil {
			return err
		}
		order, err := tx.CreateLogisticsOrder(domain.LogisticsOrder{RequestID: req.ID, Type: domain.LogisticsPickup})
		if err != nil {
			return err
		}
		updated, err := tx.UpdateLogisticsOrder(order.ID, func(o *domain.LogisticsOrder) error {
			o.Type = domain.LogisticsDelivery
			o.RequestID = "other"
			o.Seq = 99
			o.Status = domain.LogisticsInTransit
			return nil
		})
		if err != nil {
			return err
		}
		if updated.Type != domain.LogisticsPickup || updated.RequestID != req.ID || updated.Seq != order.Seq {
			t.Fatalf("immutable fields changed: %+v", updated)
		}
		if updated.Status != domain.LogisticsInTransit {
			t.Fatalf("expected status update, got %s", updated.Status)
		}
		r, err := tx.UpdateServiceRequest(req.ID, func(sr *domain.ServiceRequest) error {
			sr.ID = "forged"
			sr.Status = domain.RequestApproved
			return nil
		})
		if err != nil {
			return err
		}
		if r.ID != req.ID || r.Status != domain.RequestApproved {
			t.Fatalf("unexpected request update: %+v", r)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestStoreMutatorErrorDiscardsTransaction(t *testing.T) {
	store := NewStore(nil)
	seedProduct(t, store, "555")
	sentinel := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateServiceRequest(domain.ServiceRequest{ProductIMEI: "555"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if len(store.ListServiceRequests()) != 0 {
		t.Fatalf("expected rollback")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockingRule{})
	store := NewStore(engine)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateProduct(domain.Product{IMEI: "666"})
		return e
	})
	if !domain.IsRuleViolation(err) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ExportState().Products) != 0 {
		t.Fatalf("expected blocked transaction to leave no trace")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.TransactionView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestStoreCommitHookFailureAborts(t *testing.T) {
	store := NewStore(nil)
	store.OnCommit(func(context.Context, Snapshot, []Change) error { return errors.New("disk full") })
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateProduct(domain.Product{IMEI: "777"})
		return e
	})
	if !domain.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(store.ExportState().Products) != 0 {
		t.Fatalf("expected nothing committed after hook failure")
	}
}

func TestStoreCommitHookReceivesCandidateState(t *testing.T) {
	store := NewStore(nil)
	var got Snapshot
	var changes []Change
	store.OnCommit(func(_ context.Context, snap Snapshot, ch []Change) error {
		got = snap
		changes = ch
		return nil
	})
	seedProduct(t, store, "888")
	if len(got.Products) != 1 || len(got.Warranties) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(changes) != 2 || changes[0].Entity != domain.EntityProduct || changes[1].Entity != domain.EntityWarranty {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestStoreCancelledContextWaitingForWriter(t *testing.T) {
	store := NewStore(nil)
	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.RunInTransaction(context.Background(), func(domain.Transaction) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := store.RunInTransaction(ctx, func(domain.Transaction) error {
		t.Fatalf("transaction should not run while the writer slot is held")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(hold)
	wg.Wait()
}

func TestStoreSetClock(t *testing.T) {
	store := NewStore(nil)
	fixed := time.Date(2025, 5, 5, 10, 0, 0, 0, time.FixedZone("X", 3600))
	store.SetClock(func() time.Time { return fixed })
	seedProduct(t, store, "999")
	p := store.ExportState().Products[0]
	if !p.CreatedAt.Equal(fixed) || p.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC clock time, got %v", p.CreatedAt)
	}
}
