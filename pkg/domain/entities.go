// Package domain defines the core persistent entities, value types, lifecycle
// state machine and rule evaluation primitives used by warrantycore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProduct identifies a registered device.
	EntityProduct EntityType = "product"
	// EntityWarranty identifies a warranty attached to a product.
	EntityWarranty EntityType = "warranty"
	// EntityServiceRequest identifies a customer service request.
	EntityServiceRequest EntityType = "service_request"
	// EntityLogisticsOrder identifies a pickup or delivery order.
	EntityLogisticsOrder EntityType = "logistics_order"
	// EntityRepair identifies a repair work order.
	EntityRepair EntityType = "repair"
)

// RequestStatus enumerates the lifecycle states of a service request.
type RequestStatus string

// Canonical service request statuses.
const (
	RequestPending         RequestStatus = "PENDING"
	RequestApproved        RequestStatus = "APPROVED"
	RequestRejected        RequestStatus = "REJECTED"
	RequestPickupScheduled RequestStatus = "PICKUP_SCHEDULED"
	RequestRepairInitiated RequestStatus = "REPAIR_INITIATED"
	RequestReturnScheduled RequestStatus = "RETURN_SCHEDULED"
	RequestCompleted       RequestStatus = "COMPLETED"
)

// LogisticsType distinguishes inbound pickups from outbound deliveries.
type LogisticsType string

// Logistics order types.
const (
	LogisticsPickup   LogisticsType = "PICKUP"
	LogisticsDelivery LogisticsType = "DELIVERY"
)

// LogisticsStatus enumerates logistics order states.
type LogisticsStatus string

// Canonical logistics statuses, in forward order.
const (
	LogisticsScheduled LogisticsStatus = "SCHEDULED"
	LogisticsInTransit LogisticsStatus = "IN_TRANSIT"
	LogisticsCompleted LogisticsStatus = "COMPLETED"
)

// RepairStatus enumerates repair work order states.
type RepairStatus string

// Canonical repair statuses, in forward order.
const (
	RepairPending    RepairStatus = "PENDING"
	RepairInProgress RepairStatus = "IN_PROGRESS"
	RepairCompleted  RepairStatus = "COMPLETED"
)

// WarrantyDecision records the warranty outcome observed when a request was taken in.
type WarrantyDecision string

// Warranty decisions. The zero value means the request has not been evaluated yet.
const (
	DecisionNone     WarrantyDecision = ""
	DecisionApproved WarrantyDecision = "approved"
	DecisionRejected WarrantyDecision = "rejected"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Product is a registered device identified by its IMEI.
type Product struct {
	Base
	IMEI  string `json:"imei"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Warranty covers exactly one product. Validity is computed by EvaluateWarranty.
type Warranty struct {
	Base
	ProductIMEI string    `json:"product_imei"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Terms       string    `json:"terms"`
}

// StatusChange is one entry of a request's transition history.
type StatusChange struct {
	From    RequestStatus `json:"from"`
	To      RequestStatus `json:"to"`
	Trigger Trigger       `json:"trigger"`
	At      time.Time     `json:"at"`
}

// ServiceRequest is a customer-reported issue for one product.
type ServiceRequest struct {
	Base
	Seq                     int64            `json:"seq"`
	CustomerID              string           `json:"customer_id"`
	ProductIMEI             string           `json:"product_imei"`
	IssueDescription        string           `json:"issue_description"`
	Status                  RequestStatus    `json:"status"`
	Decision                WarrantyDecision `json:"warranty_decision"`
	DecisionReason          string           `json:"decision_reason,omitempty"`
	CurrentLogisticsOrderID *string          `json:"current_logistics_order_id,omitempty"`
	CurrentRepairID         *string          `json:"current_repair_id,omitempty"`
	History                 []StatusChange   `json:"history"`
}

// LogisticsOrder is a pickup or return delivery attached to a request.
type LogisticsOrder struct {
	Base
	Seq       int64           `json:"seq"`
	RequestID string          `json:"request_id"`
	Type      LogisticsType   `json:"type"`
	Status    LogisticsStatus `json:"status"`
	AgentID   *string         `json:"agent_id,omitempty"`
}

// Repair is a repair work order attached to a request.
type Repair struct {
	Base
	Seq          int64        `json:"seq"`
	RequestID    string       `json:"request_id"`
	Status       RepairStatus `json:"status"`
	TechnicianID *string      `json:"technician_id,omitempty"`
	Notes        *string      `json:"notes,omitempty"`
}

// Aggregate is a service request together with its order and repair history,
// each ordered by insertion.
type Aggregate struct {
	Request   ServiceRequest   `json:"request"`
	Logistics []LogisticsOrder `json:"logistics_orders"`
	Repairs   []Repair         `json:"repairs"`
}

// LatestLogistics returns the most recently created logistics order, if any.
func (a Aggregate) LatestLogistics() *LogisticsOrder {
	if len(a.Logistics) == 0 {
		return nil
	}
	o := a.Logistics[len(a.Logistics)-1]
	return &o
}

// LatestRepair returns the most recently created repair, if any.
func (a Aggregate) LatestRepair() *Repair {
	if len(a.Repairs) == 0 {
		return nil
	}
	r := a.Repairs[len(a.Repairs)-1]
	return &r
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
// Records are never hard-deleted.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
