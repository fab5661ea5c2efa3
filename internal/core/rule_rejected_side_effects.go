package core

import (
	"context"
	"fmt"

	"warrantycore/pkg/domain"
)

// RejectedSideEffectsRule blocks logistics orders and repairs created for a
// request whose warranty was not approved.
func RejectedSideEffectsRule() domain.Rule {
	return rejectedSideEffectsRule{}
}

type rejectedSideEffectsRule struct{}

func (rejectedSideEffectsRule) Name() string { return "rejected_side_effects" }

func (rejectedSideEffectsRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionCreate {
			continue
		}
		var id, requestID string
		switch change.Entity {
		case domain.EntityLogisticsOrder:
			order, ok := payloadAs[domain.LogisticsOrder](change.After)
			if !ok {
				continue
			}
			id, requestID = order.ID, order.RequestID
		case domain.EntityRepair:
			repair, ok := payloadAs[domain.Repair](change.After)
			if !ok {
				continue
			}
			id, requestID = repair.ID, repair.RequestID
		default:
			continue
		}
		req, ok := view.FindServiceRequest(requestID)
		if !ok || req.Decision == domain.DecisionApproved {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "rejected_side_effects",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s created for service request %s whose warranty is not approved", change.Entity, id, requestID),
			Entity:   change.Entity,
			EntityID: id,
		})
	}
	return res, nil
}
