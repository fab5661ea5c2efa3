package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Records are created and updated, never
// deleted.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	CreateProduct(Product) (Product, error)
	CreateWarranty(Warranty) (Warranty, error)
	CreateServiceRequest(ServiceRequest) (ServiceRequest, error)
	UpdateServiceRequest(id string, mutator func(*ServiceRequest) error) (ServiceRequest, error)
	CreateLogisticsOrder(LogisticsOrder) (LogisticsOrder, error)
	UpdateLogisticsOrder(id string, mutator func(*LogisticsOrder) error) (LogisticsOrder, error)
	CreateRepair(Repair) (Repair, error)
	UpdateRepair(id string, mutator func(*Repair) error) (Repair, error)
}

// TransactionView provides read-only access to snapshot data for rules and
// readers.
type TransactionView interface {
	FindProductByIMEI(imei string) (Product, bool)
	FindWarrantyByIMEI(imei string) (Warranty, bool)
	FindServiceRequest(id string) (ServiceRequest, bool)
	FindLogisticsOrder(id string) (LogisticsOrder, bool)
	FindRepair(id string) (Repair, bool)
	ListProducts() []Product
	ListServiceRequests() []ServiceRequest
	// ListLogisticsOrders returns the orders of a request ordered by Seq.
	ListLogisticsOrders(requestID string) []LogisticsOrder
	// ListRepairs returns the repairs of a request ordered by Seq.
	ListRepairs(requestID string) []Repair
	// CurrentLogisticsOrder returns the most recently created order of a request.
	CurrentLogisticsOrder(requestID string) (LogisticsOrder, bool)
	// CurrentRepair returns the most recently created repair of a request.
	CurrentRepair(requestID string) (Repair, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}

// LoadAggregate assembles the aggregate rooted at requestID from a view.
func LoadAggregate(view TransactionView, requestID string) (Aggregate, error) {
	req, ok := view.FindServiceRequest(requestID)
	if !ok {
		return Aggregate{}, ErrNotFound{Entity: EntityServiceRequest, ID: requestID}
	}
	return Aggregate{
		Request:   req,
		Logistics: view.ListLogisticsOrders(requestID),
		Repairs:   view.ListRepairs(requestID),
	}, nil
}
