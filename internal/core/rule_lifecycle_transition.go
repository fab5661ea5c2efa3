package core

import (
	"context"
	"fmt"

	"warrantycore/pkg/domain"
)

// LifecycleTransitionRule blocks unknown states, moves out of terminal states,
// request moves that skip the lifecycle table and backwards moves of orders
// and repairs.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity   domain.EntityType
	label    string
	initial  string
	terminal map[string]struct{}
	valid    map[string]struct{}
	// edges lists permitted from>to moves; when nil, rank orders the states
	// and only forward moves are permitted.
	edges     map[string]struct{}
	rank      map[string]int
	extractor func(payload any) (id string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityServiceRequest: {
		entity:   domain.EntityServiceRequest,
		label:    "service request",
		initial:  string(domain.RequestPending),
		terminal: toSet(string(domain.RequestRejected), string(domain.RequestCompleted)),
		valid: toSet(
			string(domain.RequestPending),
			string(domain.RequestApproved),
			string(domain.RequestRejected),
			string(domain.RequestPickupScheduled),
			string(domain.RequestRepairInitiated),
			string(domain.RequestReturnScheduled),
			string(domain.RequestCompleted),
		),
		edges: requestEdges(),
		extractor: func(payload any) (string, string, bool) {
			req, ok := payloadAs[domain.ServiceRequest](payload)
			if !ok {
				return "", "", false
			}
			return req.ID, string(req.Status), true
		},
	},
	domain.EntityLogisticsOrder: {
		entity:   domain.EntityLogisticsOrder,
		label:    "logistics order",
		initial:  string(domain.LogisticsScheduled),
		terminal: toSet(string(domain.LogisticsCompleted)),
		valid: toSet(
			string(domain.LogisticsScheduled),
			string(domain.LogisticsInTransit),
			string(domain.LogisticsCompleted),
		),
		rank: toRank(string(domain.LogisticsScheduled), string(domain.LogisticsInTransit), string(domain.LogisticsCompleted)),
		extractor: func(payload any) (string, string, bool) {
			order, ok := payloadAs[domain.LogisticsOrder](payload)
			if !ok {
				return "", "", false
			}
			return order.ID, string(order.Status), true
		},
	},
	domain.EntityRepair: {
		entity:   domain.EntityRepair,
		label:    "repair",
		initial:  string(domain.RepairPending),
		terminal: toSet(string(domain.RepairCompleted)),
		valid: toSet(
			string(domain.RepairPending),
			string(domain.RepairInProgress),
			string(domain.RepairCompleted),
		),
		rank: toRank(string(domain.RepairPending), string(domain.RepairInProgress), string(domain.RepairCompleted)),
		extractor: func(payload any) (string, string, bool) {
			repair, ok := payloadAs[domain.Repair](payload)
			if !ok {
				return "", "", false
			}
			return repair.ID, string(repair.Status), true
		},
	},
}

func requestEdges() map[string]struct{} {
	edges := make(map[string]struct{})
	for _, t := range domain.Transitions() {
		edges[string(t.From)+">"+string(t.To)] = struct{}{}
	}
	return edges
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}
		afterID, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if _, valid := machine.valid[afterState]; !valid {
			res.Violations = append(res.Violations, r.block(machine, afterID, fmt.Sprintf("%s %s is set to invalid state %s", machine.label, afterID, afterState)))
			continue
		}

		_, beforeState, ok := machine.extractor(change.Before)
		if !ok {
			if change.Action == domain.ActionCreate && afterState != machine.initial {
				res.Violations = append(res.Violations, r.block(machine, afterID, fmt.Sprintf("%s %s must be created in state %s, got %s", machine.label, afterID, machine.initial, afterState)))
			}
			continue
		}
		if beforeState == afterState {
			continue
		}
		if _, terminal := machine.terminal[beforeState]; terminal {
			res.Violations = append(res.Violations, r.block(machine, afterID, fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, afterID, beforeState, afterState)))
			continue
		}
		if machine.edges != nil {
			if _, allowed := machine.edges[beforeState+">"+afterState]; !allowed {
				res.Violations = append(res.Violations, r.block(machine, afterID, fmt.Sprintf("%s %s cannot move from %s to %s", machine.label, afterID, beforeState, afterState)))
			}
			continue
		}
		if machine.rank[afterState] < machine.rank[beforeState] {
			res.Violations = append(res.Violations, r.block(machine, afterID, fmt.Sprintf("%s %s cannot move back from %s to %s", machine.label, afterID, beforeState, afterState)))
		}
	}
	return res, nil
}

func (lifecycleTransitionRule) block(machine lifecycleMachine, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "lifecycle_transition",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   machine.entity,
		EntityID: id,
	}
}

// payloadAs reads a change payload holding T or *T.
func payloadAs[T any](payload any) (T, bool) {
	switch v := payload.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toRank(ordered ...string) map[string]int {
	rank := make(map[string]int, len(ordered))
	for i, v := range ordered {
		rank[v] = i
	}
	return rank
}
