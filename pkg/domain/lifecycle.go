package domain

import "fmt"

// Trigger names an event that may advance a service request.
type Trigger string

// Transition triggers.
const (
	TriggerIntakeApproved    Trigger = "intake_approved"
	TriggerIntakeRejected    Trigger = "intake_rejected"
	TriggerWarrantyApproved  Trigger = "warranty_approved"
	TriggerPickupCompleted   Trigger = "pickup_completed"
	TriggerRepairCompleted   Trigger = "repair_completed"
	TriggerDeliveryCompleted Trigger = "delivery_completed"
)

// SideEffect names the record a transition creates.
type SideEffect string

// Side effects performed by transitions.
const (
	EffectNone           SideEffect = ""
	EffectSchedulePickup SideEffect = "schedule_pickup"
	EffectInitiateRepair SideEffect = "initiate_repair"
	EffectScheduleReturn SideEffect = "schedule_return"
)

// Transition is one row of the request lifecycle table.
type Transition struct {
	Trigger Trigger
	From    RequestStatus
	To      RequestStatus
	Effect  SideEffect
}

var transitionTable = map[Trigger]Transition{
	TriggerIntakeApproved:    {Trigger: TriggerIntakeApproved, From: RequestPending, To: RequestApproved},
	TriggerIntakeRejected:    {Trigger: TriggerIntakeRejected, From: RequestPending, To: RequestRejected},
	TriggerWarrantyApproved:  {Trigger: TriggerWarrantyApproved, From: RequestApproved, To: RequestPickupScheduled, Effect: EffectSchedulePickup},
	TriggerPickupCompleted:   {Trigger: TriggerPickupCompleted, From: RequestPickupScheduled, To: RequestRepairInitiated, Effect: EffectInitiateRepair},
	TriggerRepairCompleted:   {Trigger: TriggerRepairCompleted, From: RequestRepairInitiated, To: RequestReturnScheduled, Effect: EffectScheduleReturn},
	TriggerDeliveryCompleted: {Trigger: TriggerDeliveryCompleted, From: RequestReturnScheduled, To: RequestCompleted},
}

// followOn lists triggers fired automatically once a status is reached.
var followOn = map[RequestStatus]Trigger{
	RequestApproved: TriggerWarrantyApproved,
}

// NextTransition looks up the transition for trigger and checks that current
// is its required source state.
func NextTransition(current RequestStatus, trigger Trigger) (Transition, error) {
	t, ok := transitionTable[trigger]
	if !ok {
		return Transition{}, fmt.Errorf("unknown trigger %q", trigger)
	}
	if current != t.From {
		reason := fmt.Sprintf("%s requires status %s", trigger, t.From)
		if current.Terminal() {
			reason = fmt.Sprintf("%s is terminal", current)
		}
		return Transition{}, ErrInvalidTransition{
			Entity: EntityServiceRequest,
			From:   string(current),
			To:     string(t.To),
			Reason: reason,
		}
	}
	return t, nil
}

// FollowOn returns the trigger that fires automatically after status is reached.
func FollowOn(status RequestStatus) (Trigger, bool) {
	t, ok := followOn[status]
	return t, ok
}

// IntakeTrigger selects the intake branch for a warranty evaluation.
func IntakeTrigger(eval Evaluation) Trigger {
	if eval.Valid {
		return TriggerIntakeApproved
	}
	return TriggerIntakeRejected
}

// CompletionTrigger names the trigger fired when a logistics order of type t
// reaches COMPLETED.
func CompletionTrigger(t LogisticsType) Trigger {
	if t == LogisticsDelivery {
		return TriggerDeliveryCompleted
	}
	return TriggerPickupCompleted
}

// DeriveStatus recomputes a request status from its warranty decision and the
// latest order and repair. A stored status that disagrees with this value is
// inconsistent.
func DeriveStatus(decision WarrantyDecision, latestOrder *LogisticsOrder, latestRepair *Repair) RequestStatus {
	switch decision {
	case DecisionNone:
		return RequestPending
	case DecisionRejected:
		return RequestRejected
	}
	if latestOrder == nil {
		return RequestApproved
	}
	if latestOrder.Type == LogisticsDelivery {
		if latestOrder.Status == LogisticsCompleted {
			return RequestCompleted
		}
		return RequestReturnScheduled
	}
	if latestRepair != nil {
		return RequestRepairInitiated
	}
	return RequestPickupScheduled
}

// Transitions returns the lifecycle table in chain order.
func Transitions() []Transition {
	order := []Trigger{
		TriggerIntakeApproved, TriggerIntakeRejected, TriggerWarrantyApproved,
		TriggerPickupCompleted, TriggerRepairCompleted, TriggerDeliveryCompleted,
	}
	out := make([]Transition, 0, len(order))
	for _, trig := range order {
		out = append(out, transitionTable[trig])
	}
	return out
}
