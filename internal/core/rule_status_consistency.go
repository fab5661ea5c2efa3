package core

import (
	"context"
	"fmt"
	"sort"

	"warrantycore/pkg/domain"
)

// StatusConsistencyRule blocks commits that leave a touched request with a
// stored status other than the one derived from its decision and latest
// records, or with current pointers that do not name the latest records.
func StatusConsistencyRule() domain.Rule {
	return statusConsistencyRule{}
}

type statusConsistencyRule struct{}

func (statusConsistencyRule) Name() string { return "status_consistency" }

func (r statusConsistencyRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range touchedRequests(changes) {
		req, ok := view.FindServiceRequest(id)
		if !ok {
			continue
		}
		agg := domain.Aggregate{
			Request:   req,
			Logistics: view.ListLogisticsOrders(id),
			Repairs:   view.ListRepairs(id),
		}
		latestOrder := agg.LatestLogistics()
		latestRepair := agg.LatestRepair()
		if derived := domain.DeriveStatus(req.Decision, latestOrder, latestRepair); derived != req.Status {
			res.Violations = append(res.Violations, r.block(id, fmt.Sprintf("service request %s stores status %s but its records imply %s", id, req.Status, derived)))
		}
		if !pointsAt(req.CurrentLogisticsOrderID, latestOrder, func(o *domain.LogisticsOrder) string { return o.ID }) {
			res.Violations = append(res.Violations, r.block(id, fmt.Sprintf("service request %s current logistics order is not the latest", id)))
		}
		if !pointsAt(req.CurrentRepairID, latestRepair, func(rp *domain.Repair) string { return rp.ID }) {
			res.Violations = append(res.Violations, r.block(id, fmt.Sprintf("service request %s current repair is not the latest", id)))
		}
	}
	return res, nil
}

func (statusConsistencyRule) block(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "status_consistency",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityServiceRequest,
		EntityID: id,
	}
}

func pointsAt[T any](ptr *string, latest *T, id func(*T) string) bool {
	if latest == nil {
		return ptr == nil
	}
	return ptr != nil && *ptr == id(latest)
}

// touchedRequests returns the sorted ids of requests affected by changes.
func touchedRequests(changes []domain.Change) []string {
	seen := make(map[string]struct{})
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityServiceRequest:
			if req, ok := payloadAs[domain.ServiceRequest](change.After); ok {
				seen[req.ID] = struct{}{}
			}
		case domain.EntityLogisticsOrder:
			if order, ok := payloadAs[domain.LogisticsOrder](change.After); ok {
				seen[order.RequestID] = struct{}{}
			}
		case domain.EntityRepair:
			if repair, ok := payloadAs[domain.Repair](change.After); ok {
				seen[repair.RequestID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
