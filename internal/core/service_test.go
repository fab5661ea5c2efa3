package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"warrantycore/internal/infra/persistence/memory"
	"warrantycore/pkg/domain"
)

func TestServiceObservabilityHooks(t *testing.T) {
	logger := &captureLogger{}
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	svc := newTestService(
		WithLogger(logger),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)
	ctx := context.Background()

	product, _, err := svc.RegisterProduct(ctx, Product{IMEI: "356938035643809", Name: "Phone"})
	if err != nil {
		t.Fatalf("register product: %v", err)
	}
	if !audit.has("register_product", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == product.ID && e.Entity == EntityProduct && e.Action == ActionCreate && e.Timestamp.Equal(testNow)
	}) {
		t.Fatalf("expected success audit entry, got %+v", audit.entries)
	}
	if !metrics.has("register_product", true) || !tracer.has("register_product", true) {
		t.Fatalf("expected metrics and span for register_product")
	}
	if !logger.has("i:operation completed") {
		t.Fatalf("expected completion log, got %v", logger.calls)
	}

	if _, _, err := svc.RegisterProduct(ctx, Product{IMEI: "356938035643809"}); !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !audit.has("register_product", AuditStatusError, func(e AuditEntry) bool { return e.Error != "" }) {
		t.Fatalf("expected error audit entry")
	}
	if !metrics.has("register_product", false) || !tracer.has("register_product", false) {
		t.Fatalf("expected failure metrics and span")
	}
	if !logger.has("e:operation failed") {
		t.Fatalf("expected failure log")
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("expected every span ended, started %d ended %d", len(tracer.started), len(tracer.ended))
	}
}

func TestServiceReadsAreNotAudited(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	svc := newTestService(WithAuditRecorder(audit), WithMetricsRecorder(metrics))
	if _, err := svc.GetServiceRequest(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(audit.entries) != 0 {
		t.Fatalf("expected no audit entries for reads, got %+v", audit.entries)
	}
	if !metrics.has("get_service_request", false) {
		t.Fatalf("expected read metrics")
	}
}

func TestRecordAuditIgnoresUnknownOperations(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := newTestService(WithAuditRecorder(audit))
	svc.recordAuditSuccess(context.Background(), "unknown", "id", time.Millisecond)
	svc.recordAuditError(context.Background(), "unknown", "id", errors.New("boom"), time.Millisecond)
	if len(audit.entries) != 0 {
		t.Fatalf("expected unknown operations skipped, got %+v", audit.entries)
	}
	svc.recordAuditError(context.Background(), "on_repair_update", "r1", errors.New("boom"), time.Millisecond)
	if !audit.has("on_repair_update", AuditStatusError, func(e AuditEntry) bool {
		return e.Entity == EntityRepair && e.Action == ActionUpdate && e.Error == "boom"
	}) {
		t.Fatalf("expected repair audit entry, got %+v", audit.entries)
	}
}

func TestRuleWarningsAreLogged(t *testing.T) {
	engine := NewDefaultRulesEngine()
	engine.Register(warnEveryChange{})
	logger := &captureLogger{}
	svc := NewInMemoryService(engine, WithClock(stubClock{t: testNow}), WithLogger(logger))
	_, res, err := svc.RegisterProduct(context.Background(), Product{IMEI: "1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != SeverityWarn {
		t.Fatalf("expected one warning, got %+v", res.Violations)
	}
	if !logger.has("w:rule violation") {
		t.Fatalf("expected warning log, got %v", logger.calls)
	}
}

type warnEveryChange struct{}

func (warnEveryChange) Name() string { return "warn_every_change" }

func (warnEveryChange) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}
	return Result{Violations: []Violation{{Rule: "warn_every_change", Severity: SeverityWarn, Message: "noted"}}}, nil
}

func TestDefaultServiceOptions(t *testing.T) {
	o := defaultServiceOptions()
	if o.clock == nil || o.logger == nil || o.audit == nil || o.metrics == nil || o.tracer == nil {
		t.Fatalf("expected non-nil defaults")
	}
	if o.clockSet || o.timeout != 0 || len(o.listeners) != 0 || o.blobs != nil {
		t.Fatalf("unexpected defaults %+v", o)
	}
	WithLogger(nil)(&o)
	WithClock(nil)(&o)
	WithOperationTimeout(-time.Second)(&o)
	WithTransitionListener(nil)(&o)
	if o.clockSet || o.timeout != 0 || len(o.listeners) != 0 {
		t.Fatalf("expected nil options ignored")
	}
}

func TestClockFuncAlwaysUTC(t *testing.T) {
	local := time.Date(2025, 1, 1, 8, 0, 0, 0, time.FixedZone("X", 3600))
	got := ClockFunc(func() time.Time { return local }).Now()
	if got.Location() != time.UTC || !got.Equal(local) {
		t.Fatalf("expected UTC instant, got %v", got)
	}
	if ClockFunc(nil).Now().Location() != time.UTC {
		t.Fatalf("expected nil clock in UTC")
	}
}

func TestSelectNowFuncPrecedence(t *testing.T) {
	store := memory.NewStore(nil)
	storeTime := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return storeTime })
	if got := selectNowFunc(store, nil)(); !got.Equal(storeTime) {
		t.Fatalf("expected store clock, got %v", got)
	}
	if got := selectNowFunc(store, stubClock{t: testNow})(); !got.Equal(testNow) {
		t.Fatalf("expected explicit clock, got %v", got)
	}
	if got := selectNowFunc(nil, nil)(); got.Location() != time.UTC {
		t.Fatalf("expected system clock in UTC")
	}
}

func TestWithClockDrivesStoreTimestamps(t *testing.T) {
	svc := newTestService()
	product, _, err := svc.RegisterProduct(context.Background(), Product{IMEI: "42"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !product.CreatedAt.Equal(testNow) {
		t.Fatalf("expected record stamped with service clock, got %v", product.CreatedAt)
	}
}

func TestExtractRulesEngine(t *testing.T) {
	engine := NewDefaultRulesEngine()
	store := memory.NewStore(engine)
	if extractRulesEngine(store) != engine {
		t.Fatalf("expected engine from store")
	}
	if extractRulesEngine(nil) != nil {
		t.Fatalf("expected nil engine for nil store")
	}
	svc := NewService(store)
	if len(svc.Rules()) != 3 {
		t.Fatalf("expected default rules, got %v", svc.Rules())
	}
	if svc.Store() != store {
		t.Fatalf("expected store accessor")
	}
	if (&Service{}).Rules() != nil {
		t.Fatalf("expected no rules without engine")
	}
}

func TestCatalogOperations(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seedProduct(t, svc, "111", testNow.Add(time.Hour))
	seedProduct(t, svc, "222", testNow.Add(-time.Hour))

	product, err := svc.GetProduct(ctx, " 111 ")
	if err != nil || product.Model != "X1" {
		t.Fatalf("get product: %+v %v", product, err)
	}
	if _, err := svc.GetProduct(ctx, "999"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := svc.RegisterWarranty(ctx, Warranty{ProductIMEI: "111", EndDate: testNow}); !domain.IsConflict(err) {
		t.Fatalf("expected one warranty per product, got %v", err)
	}
	if _, _, err := svc.RegisterWarranty(ctx, Warranty{ProductIMEI: "404", EndDate: testNow}); !domain.IsNotFound(err) {
		t.Fatalf("expected unknown product, got %v", err)
	}

	eval, err := svc.EvaluateProductWarranty(ctx, "111")
	if err != nil || !eval.Valid || eval.Terms != "standard" {
		t.Fatalf("expected valid warranty, got %+v %v", eval, err)
	}
	eval, err = svc.EvaluateProductWarranty(ctx, "222")
	if err != nil || eval.Valid || eval.Reason != domain.ReasonExpired {
		t.Fatalf("expected expired warranty, got %+v %v", eval, err)
	}
	if _, err := svc.EvaluateProductWarranty(ctx, "999"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	first, _, err := svc.OnIntake(ctx, IntakeRequest{CustomerID: "a", ProductIMEI: "111"})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	second, _, err := svc.OnIntake(ctx, IntakeRequest{CustomerID: "b", ProductIMEI: "222"})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	list, err := svc.ListServiceRequests(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("expected intake order, got %+v", list)
	}
	got, err := svc.GetServiceRequest(ctx, second.ID)
	if err != nil || got.Status != domain.RequestRejected {
		t.Fatalf("expected rejected request, got %+v %v", got, err)
	}
	if _, err := svc.LoadAggregate(ctx, "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found aggregate, got %v", err)
	}
}

func TestRegisterCoverageIsAtomic(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	svc := newTestService(WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer))
	ctx := context.Background()
	product, warranty, _, err := svc.RegisterCoverage(ctx, Product{IMEI: " 555 ", Name: "Phone"}, Warranty{EndDate: testNow.Add(time.Hour), Terms: "gold"})
	if err != nil {
		t.Fatalf("register coverage: %v", err)
	}
	if product.IMEI != "555" || warranty.ProductIMEI != "555" {
		t.Fatalf("expected warranty bound to trimmed imei, got %+v %+v", product, warranty)
	}
	if !audit.has("register_coverage", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == product.ID && e.Entity == EntityProduct && e.Action == ActionCreate
	}) {
		t.Fatalf("expected register_coverage audit entry, got %+v", audit.entries)
	}
	if audit.has("register_product", AuditStatusSuccess, func(AuditEntry) bool { return true }) {
		t.Fatalf("expected coverage not recorded as plain product registration")
	}
	if !metrics.has("register_coverage", true) || !tracer.has("register_coverage", true) {
		t.Fatalf("expected register_coverage metrics and span")
	}

	if _, _, _, err := svc.RegisterCoverage(ctx, Product{IMEI: "556"}, Warranty{}); err == nil {
		t.Fatalf("expected missing end date rejected")
	}
	if _, err := svc.GetProduct(ctx, "556"); !domain.IsNotFound(err) {
		t.Fatalf("expected product rolled back with failed warranty, got %v", err)
	}
}

func TestLoggerAuditRecorder(t *testing.T) {
	logger := &captureLogger{}
	LoggerAuditRecorder{Logger: logger}.Record(context.Background(), AuditEntry{Operation: "on_intake", Status: AuditStatusError, Error: "boom"})
	if !logger.has("i:audit") {
		t.Fatalf("expected audit log line")
	}
	LoggerAuditRecorder{}.Record(context.Background(), AuditEntry{})
}
