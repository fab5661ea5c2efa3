package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"warrantycore/pkg/domain"
)

// IntakeRequest opens a service request for a registered product.
type IntakeRequest struct {
	CustomerID       string `json:"customer_id"`
	ProductIMEI      string `json:"product_imei"`
	IssueDescription string `json:"issue_description"`
}

// LogisticsUpdate reports progress on the current logistics order of a request.
type LogisticsUpdate struct {
	RequestID string                 `json:"request_id"`
	Status    domain.LogisticsStatus `json:"status"`
	AgentID   *string                `json:"agent_id,omitempty"`
}

// RepairUpdate reports progress on the current repair of a request.
type RepairUpdate struct {
	RequestID    string              `json:"request_id"`
	Status       domain.RepairStatus `json:"status"`
	TechnicianID *string             `json:"technician_id,omitempty"`
	Notes        *string             `json:"notes,omitempty"`
}

// TransitionEvent describes one committed status change of a request.
type TransitionEvent struct {
	RequestID string               `json:"request_id"`
	From      domain.RequestStatus `json:"from"`
	To        domain.RequestStatus `json:"to"`
	Trigger   domain.Trigger       `json:"trigger"`
	At        time.Time            `json:"at"`
}

// TransitionListener is notified after a transaction carrying transitions
// commits. Events of one operation arrive in the order they were applied.
type TransitionListener interface {
	OnTransition(ctx context.Context, ev TransitionEvent)
}

// TransitionListenerFunc adapts a function to TransitionListener.
type TransitionListenerFunc func(ctx context.Context, ev TransitionEvent)

// OnTransition implements TransitionListener.
func (f TransitionListenerFunc) OnTransition(ctx context.Context, ev TransitionEvent) { f(ctx, ev) }

// dispatch applies lifecycle transitions inside one transaction and buffers
// the resulting events until commit.
type dispatch struct {
	tx     Transaction
	now    time.Time
	events []TransitionEvent
}

func (s *Service) newDispatch(tx Transaction) *dispatch {
	return &dispatch{tx: tx, now: s.now()}
}

// fire applies trigger to the request, performs its side effect and then any
// follow-on trigger of the reached status.
func (d *dispatch) fire(requestID string, trigger domain.Trigger, decorate func(*ServiceRequest)) (ServiceRequest, error) {
	req, ok := d.tx.FindServiceRequest(requestID)
	if !ok {
		return ServiceRequest{}, domain.ErrNotFound{Entity: EntityServiceRequest, ID: requestID}
	}
	t, err := domain.NextTransition(req.Status, trigger)
	if err != nil {
		var invalid domain.ErrInvalidTransition
		if errors.As(err, &invalid) {
			invalid.ID = requestID
			return ServiceRequest{}, invalid
		}
		return ServiceRequest{}, err
	}

	var orderID, repairID *string
	switch t.Effect {
	case domain.EffectSchedulePickup, domain.EffectScheduleReturn:
		kind := domain.LogisticsPickup
		if t.Effect == domain.EffectScheduleReturn {
			kind = domain.LogisticsDelivery
		}
		order, err := d.tx.CreateLogisticsOrder(LogisticsOrder{RequestID: requestID, Type: kind, Status: domain.LogisticsScheduled})
		if err != nil {
			return ServiceRequest{}, err
		}
		orderID = &order.ID
	case domain.EffectInitiateRepair:
		repair, err := d.tx.CreateRepair(Repair{RequestID: requestID, Status: domain.RepairPending})
		if err != nil {
			return ServiceRequest{}, err
		}
		repairID = &repair.ID
	}

	updated, err := d.tx.UpdateServiceRequest(requestID, func(r *ServiceRequest) error {
		if decorate != nil {
			decorate(r)
		}
		r.Status = t.To
		if orderID != nil {
			r.CurrentLogisticsOrderID = orderID
		}
		if repairID != nil {
			r.CurrentRepairID = repairID
		}
		r.History = append(r.History, domain.StatusChange{From: t.From, To: t.To, Trigger: trigger, At: d.now})
		return nil
	})
	if err != nil {
		return ServiceRequest{}, err
	}
	d.events = append(d.events, TransitionEvent{RequestID: requestID, From: t.From, To: t.To, Trigger: trigger, At: d.now})

	if next, ok := domain.FollowOn(t.To); ok {
		return d.fire(requestID, next, nil)
	}
	return updated, nil
}

func (s *Service) emit(ctx context.Context, events []TransitionEvent) {
	for _, ev := range events {
		s.logger.Debug("request transition", "request_id", ev.RequestID, "from", string(ev.From), "to", string(ev.To), "trigger", string(ev.Trigger))
		for _, l := range s.listeners {
			l.OnTransition(ctx, ev)
		}
	}
}

// OnIntake creates a request for a registered product, evaluates its warranty
// and applies the intake branch. An approved request continues straight to
// PICKUP_SCHEDULED with its pickup order; a rejected one stops at REJECTED
// without side effects.
func (s *Service) OnIntake(ctx context.Context, in IntakeRequest) (ServiceRequest, Result, error) {
	var (
		out    ServiceRequest
		events []TransitionEvent
	)
	res, err := s.run(ctx, "on_intake", func(tx Transaction) (string, error) {
		d := s.newDispatch(tx)
		imei := strings.TrimSpace(in.ProductIMEI)
		product, ok := tx.FindProductByIMEI(imei)
		if !ok {
			return "", domain.ErrNotFound{Entity: EntityProduct, ID: imei}
		}
		req, err := tx.CreateServiceRequest(ServiceRequest{
			CustomerID:       in.CustomerID,
			ProductIMEI:      product.IMEI,
			IssueDescription: in.IssueDescription,
			Status:           domain.RequestPending,
		})
		if err != nil {
			return "", err
		}
		var coverage *Warranty
		if w, ok := tx.FindWarrantyByIMEI(product.IMEI); ok {
			coverage = &w
		}
		eval := domain.EvaluateWarranty(coverage, d.now)
		out, err = d.fire(req.ID, domain.IntakeTrigger(eval), func(r *ServiceRequest) {
			r.Decision = eval.Decision()
			r.DecisionReason = eval.Reason
		})
		events = d.events
		return req.ID, err
	})
	if err != nil {
		return ServiceRequest{}, res, err
	}
	s.emit(ctx, events)
	return out, res, nil
}

// OnLogisticsUpdate advances the current logistics order of a request.
// COMPLETED fires pickup_completed or delivery_completed depending on the
// order type. Replaying COMPLETED on a completed order changes nothing.
func (s *Service) OnLogisticsUpdate(ctx context.Context, upd LogisticsUpdate) (LogisticsOrder, Result, error) {
	var (
		out    LogisticsOrder
		events []TransitionEvent
	)
	res, err := s.run(ctx, "on_logistics_update", func(tx Transaction) (string, error) {
		if !upd.Status.Valid() {
			return "", domain.ErrInvalidStatus{Field: "logistics status", Value: string(upd.Status)}
		}
		req, ok := tx.FindServiceRequest(upd.RequestID)
		if !ok {
			return "", domain.ErrNotFound{Entity: EntityServiceRequest, ID: upd.RequestID}
		}
		if req.CurrentLogisticsOrderID == nil {
			return "", domain.ErrNotFound{Entity: EntityLogisticsOrder, ID: "for request " + req.ID}
		}
		order, ok := tx.FindLogisticsOrder(*req.CurrentLogisticsOrderID)
		if !ok {
			return "", domain.ErrNotFound{Entity: EntityLogisticsOrder, ID: *req.CurrentLogisticsOrderID}
		}
		if order.Status == domain.LogisticsCompleted && upd.Status == domain.LogisticsCompleted {
			out = order
			return order.ID, nil
		}
		if order.Status == upd.Status && (upd.AgentID == nil || sameString(order.AgentID, upd.AgentID)) {
			out = order
			return order.ID, nil
		}
		if !order.Status.CanAdvanceTo(upd.Status) {
			return order.ID, domain.ErrInvalidTransition{
				Entity: EntityLogisticsOrder,
				ID:     order.ID,
				From:   string(order.Status),
				To:     string(upd.Status),
				Reason: "logistics status only moves forward",
			}
		}
		completing := upd.Status == domain.LogisticsCompleted
		updated, err := tx.UpdateLogisticsOrder(order.ID, func(o *LogisticsOrder) error {
			o.Status = upd.Status
			if upd.AgentID != nil {
				o.AgentID = upd.AgentID
			}
			return nil
		})
		if err != nil {
			return order.ID, err
		}
		out = updated
		if completing {
			d := s.newDispatch(tx)
			if _, err := d.fire(req.ID, domain.CompletionTrigger(updated.Type), nil); err != nil {
				return order.ID, err
			}
			events = d.events
		}
		return order.ID, nil
	})
	if err != nil {
		return LogisticsOrder{}, res, err
	}
	s.emit(ctx, events)
	return out, res, nil
}

// OnRepairUpdate advances the current repair of a request. COMPLETED fires
// repair_completed, which schedules the return delivery. Replaying COMPLETED
// on a completed repair changes nothing.
func (s *Service) OnRepairUpdate(ctx context.Context, upd RepairUpdate) (Repair, Result, error) {
	var (
		out    Repair
		events []TransitionEvent
	)
	res, err := s.run(ctx, "on_repair_update", func(tx Transaction) (string, error) {
		if !upd.Status.Valid() {
			return "", domain.ErrInvalidStatus{Field: "repair status", Value: string(upd.Status)}
		}
		req, ok := tx.FindServiceRequest(upd.RequestID)
		if !ok {
			return "", domain.ErrNotFound{Entity: EntityServiceRequest, ID: upd.RequestID}
		}
		if req.CurrentRepairID == nil {
			return "", domain.ErrNotFound{Entity: EntityRepair, ID: "for request " + req.ID}
		}
		repair, ok := tx.FindRepair(*req.CurrentRepairID)
		if !ok {
			return "", domain.ErrNotFound{Entity: EntityRepair, ID: *req.CurrentRepairID}
		}
		if repair.Status == domain.RepairCompleted && upd.Status == domain.RepairCompleted {
			out = repair
			return repair.ID, nil
		}
		if repair.Status == upd.Status &&
			(upd.TechnicianID == nil || sameString(repair.TechnicianID, upd.TechnicianID)) &&
			(upd.Notes == nil || sameString(repair.Notes, upd.Notes)) {
			out = repair
			return repair.ID, nil
		}
		if !repair.Status.CanAdvanceTo(upd.Status) {
			return repair.ID, domain.ErrInvalidTransition{
				Entity: EntityRepair,
				ID:     repair.ID,
				From:   string(repair.Status),
				To:     string(upd.Status),
				Reason: "repair status only moves forward",
			}
		}
		completing := upd.Status == domain.RepairCompleted
		updated, err := tx.UpdateRepair(repair.ID, func(r *Repair) error {
			r.Status = upd.Status
			if upd.TechnicianID != nil {
				r.TechnicianID = upd.TechnicianID
			}
			if upd.Notes != nil {
				r.Notes = upd.Notes
			}
			return nil
		})
		if err != nil {
			return repair.ID, err
		}
		out = updated
		if completing {
			d := s.newDispatch(tx)
			if _, err := d.fire(req.ID, domain.TriggerRepairCompleted, nil); err != nil {
				return repair.ID, err
			}
			events = d.events
		}
		return repair.ID, nil
	})
	if err != nil {
		return Repair{}, res, err
	}
	s.emit(ctx, events)
	return out, res, nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
