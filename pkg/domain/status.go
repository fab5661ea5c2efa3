package domain

import "strings"

var (
	requestStatuses = []RequestStatus{
		RequestPending, RequestApproved, RequestRejected, RequestPickupScheduled,
		RequestRepairInitiated, RequestReturnScheduled, RequestCompleted,
	}
	logisticsOrder = []LogisticsStatus{LogisticsScheduled, LogisticsInTransit, LogisticsCompleted}
	repairOrder    = []RepairStatus{RepairPending, RepairInProgress, RepairCompleted}
)

func normalizeStatus(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ParseRequestStatus closes the request status enum.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	v := RequestStatus(normalizeStatus(raw))
	if !v.Valid() {
		return "", ErrInvalidStatus{Field: "request status", Value: raw}
	}
	return v, nil
}

// ParseLogisticsStatus closes the logistics status enum.
func ParseLogisticsStatus(raw string) (LogisticsStatus, error) {
	v := LogisticsStatus(normalizeStatus(raw))
	if !v.Valid() {
		return "", ErrInvalidStatus{Field: "logistics status", Value: raw}
	}
	return v, nil
}

// ParseLogisticsType closes the logistics type enum.
func ParseLogisticsType(raw string) (LogisticsType, error) {
	v := LogisticsType(normalizeStatus(raw))
	if !v.Valid() {
		return "", ErrInvalidStatus{Field: "logistics type", Value: raw}
	}
	return v, nil
}

// ParseRepairStatus closes the repair status enum.
func ParseRepairStatus(raw string) (RepairStatus, error) {
	v := RepairStatus(normalizeStatus(raw))
	if !v.Valid() {
		return "", ErrInvalidStatus{Field: "repair status", Value: raw}
	}
	return v, nil
}

// Valid reports whether s is a recognised request status.
func (s RequestStatus) Valid() bool {
	for _, known := range requestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted
}

// Valid reports whether t is a recognised logistics type.
func (t LogisticsType) Valid() bool {
	return t == LogisticsPickup || t == LogisticsDelivery
}

// Valid reports whether s is a recognised logistics status.
func (s LogisticsStatus) Valid() bool { return s.rank() >= 0 }

func (s LogisticsStatus) rank() int {
	for i, known := range logisticsOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the order moving
// forward. Repeating the current status is allowed.
func (s LogisticsStatus) CanAdvanceTo(next LogisticsStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Valid reports whether s is a recognised repair status.
func (s RepairStatus) Valid() bool { return s.rank() >= 0 }

func (s RepairStatus) rank() int {
	for i, known := range repairOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the repair moving
// forward. Repeating the current status is allowed.
func (s RepairStatus) CanAdvanceTo(next RepairStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}
