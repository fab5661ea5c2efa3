package domain

import "testing"

func TestParseStatusesNormaliseAndReject(t *testing.T) {
	if s, err := ParseLogisticsStatus(" in_transit "); err != nil || s != LogisticsInTransit {
		t.Fatalf("parse logistics: %q %v", s, err)
	}
	if s, err := ParseRepairStatus("completed"); err != nil || s != RepairCompleted {
		t.Fatalf("parse repair: %q %v", s, err)
	}
	if s, err := ParseRequestStatus("RETURN_SCHEDULED"); err != nil || s != RequestReturnScheduled {
		t.Fatalf("parse request: %q %v", s, err)
	}
	if typ, err := ParseLogisticsType("delivery"); err != nil || typ != LogisticsDelivery {
		t.Fatalf("parse type: %q %v", typ, err)
	}
	if _, err := ParseLogisticsStatus("LOST"); !IsInvalidStatus(err) {
		t.Fatalf("expected invalid logistics status, got %v", err)
	}
	if _, err := ParseRepairStatus(""); !IsInvalidStatus(err) {
		t.Fatalf("expected invalid repair status, got %v", err)
	}
	if _, err := ParseRequestStatus("ARCHIVED"); !IsInvalidStatus(err) {
		t.Fatalf("expected invalid request status, got %v", err)
	}
	if _, err := ParseLogisticsType("DRONE"); !IsInvalidStatus(err) {
		t.Fatalf("expected invalid logistics type, got %v", err)
	}
}

func TestStatusesAdvanceForwardOnly(t *testing.T) {
	if !LogisticsScheduled.CanAdvanceTo(LogisticsCompleted) {
		t.Fatalf("scheduled may jump to completed")
	}
	if !LogisticsInTransit.CanAdvanceTo(LogisticsInTransit) {
		t.Fatalf("repeating a status is allowed")
	}
	if LogisticsCompleted.CanAdvanceTo(LogisticsInTransit) {
		t.Fatalf("completed order must not move backwards")
	}
	if LogisticsStatus("LOST").CanAdvanceTo(LogisticsCompleted) {
		t.Fatalf("unknown status must not advance")
	}
	if !RepairPending.CanAdvanceTo(RepairInProgress) {
		t.Fatalf("pending repair may start")
	}
	if RepairCompleted.CanAdvanceTo(RepairPending) {
		t.Fatalf("completed repair must not reopen")
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var res Result
	res.Merge(Result{})
	if res.HasBlocking() {
		t.Fatalf("empty result must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "r", Severity: SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "r", Severity: SeverityBlock}}})
	if !res.HasBlocking() || len(res.Violations) != 2 {
		t.Fatalf("expected blocking result with two violations: %+v", res)
	}
	if !IsRuleViolation(RuleViolationError{Result: res}) {
		t.Fatalf("expected rule violation helper to match")
	}
}
