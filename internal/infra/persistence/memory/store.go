// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the transactional engine
// behind the durable backends.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warrantycore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
)

type (
	// Product aliases domain.Product for in-memory persistence operations.
	Product = domain.Product
	// Warranty aliases domain.Warranty.
	Warranty = domain.Warranty
	// ServiceRequest aliases domain.ServiceRequest.
	ServiceRequest = domain.ServiceRequest
	// LogisticsOrder aliases domain.LogisticsOrder.
	LogisticsOrder = domain.LogisticsOrder
	// Repair aliases domain.Repair.
	Repair = domain.Repair
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook durably writes a candidate state before it becomes visible. A
// non-nil error aborts the transaction.
type CommitHook func(ctx context.Context, snapshot Snapshot, changes []Change) error

type memoryState struct {
	products           map[string]Product
	productByIMEI      map[string]string
	warranties         map[string]Warranty
	warrantyByIMEI     map[string]string
	requests           map[string]ServiceRequest
	logistics          map[string]LogisticsOrder
	repairs            map[string]Repair
	logisticsByRequest map[string][]string
	repairsByRequest   map[string][]string
	seq                int64
}

// Snapshot captures a point-in-time copy of the store state.
type Snapshot struct {
	Products   []Product        `json:"products"`
	Warranties []Warranty       `json:"warranties"`
	Requests   []ServiceRequest `json:"service_requests"`
	Logistics  []LogisticsOrder `json:"logistics_orders"`
	Repairs    []Repair         `json:"repairs"`
	Seq        int64            `json:"seq"`
}

func newMemoryState() memoryState {
	return memoryState{
		products:           make(map[string]Product),
		productByIMEI:      make(map[string]string),
		warranties:         make(map[string]Warranty),
		warrantyByIMEI:     make(map[string]string),
		requests:           make(map[string]ServiceRequest),
		logistics:          make(map[string]LogisticsOrder),
		repairs:            make(map[string]Repair),
		logisticsByRequest: make(map[string][]string),
		repairsByRequest:   make(map[string][]string),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.products {
		cloned.products[k] = v
	}
	for k, v := range s.productByIMEI {
		cloned.productByIMEI[k] = v
	}
	for k, v := range s.warranties {
		cloned.warranties[k] = v
	}
	for k, v := range s.warrantyByIMEI {
		cloned.warrantyByIMEI[k] = v
	}
	for k, v := range s.requests {
		cloned.requests[k] = cloneRequest(v)
	}
	for k, v := range s.logistics {
		cloned.logistics[k] = cloneLogistics(v)
	}
	for k, v := range s.repairs {
		cloned.repairs[k] = cloneRepair(v)
	}
	for k, v := range s.logisticsByRequest {
		cloned.logisticsByRequest[k] = append([]string(nil), v...)
	}
	for k, v := range s.repairsByRequest {
		cloned.repairsByRequest[k] = append([]string(nil), v...)
	}
	cloned.seq = s.seq
	return cloned
}

func (s memoryState) export() Snapshot {
	snap := Snapshot{
		Products:   make([]Product, 0, len(s.products)),
		Warranties: make([]Warranty, 0, len(s.warranties)),
		Requests:   make([]ServiceRequest, 0, len(s.requests)),
		Logistics:  make([]LogisticsOrder, 0, len(s.logistics)),
		Repairs:    make([]Repair, 0, len(s.repairs)),
		Seq:        s.seq,
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	for _, w := range s.warranties {
		snap.Warranties = append(snap.Warranties, w)
	}
	for _, r := range s.requests {
		snap.Requests = append(snap.Requests, cloneRequest(r))
	}
	for _, o := range s.logistics {
		snap.Logistics = append(snap.Logistics, cloneLogistics(o))
	}
	for _, r := range s.repairs {
		snap.Repairs = append(snap.Repairs, cloneRepair(r))
	}
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].IMEI < snap.Products[j].IMEI })
	sort.Slice(snap.Warranties, func(i, j int) bool { return snap.Warranties[i].ProductIMEI < snap.Warranties[j].ProductIMEI })
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].Seq < snap.Requests[j].Seq })
	sort.Slice(snap.Logistics, func(i, j int) bool { return snap.Logistics[i].Seq < snap.Logistics[j].Seq })
	sort.Slice(snap.Repairs, func(i, j int) bool { return snap.Repairs[i].Seq < snap.Repairs[j].Seq })
	return snap
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRequest(r ServiceRequest) ServiceRequest {
	cp := r
	cp.CurrentLogisticsOrderID = cloneStringPtr(r.CurrentLogisticsOrderID)
	cp.CurrentRepairID = cloneStringPtr(r.CurrentRepairID)
	cp.History = append([]domain.StatusChange{}, r.History...)
	return cp
}

func cloneLogistics(o LogisticsOrder) LogisticsOrder {
	cp := o
	cp.AgentID = cloneStringPtr(o.AgentID)
	return cp
}

func cloneRepair(r Repair) Repair {
	cp := r
	cp.TechnicianID = cloneStringPtr(r.TechnicianID)
	cp.Notes = cloneStringPtr(r.Notes)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
// Writers are serialized through a single slot; committed state is never
// mutated in place, so readers work on the state they observed.
type Store struct {
	mu       sync.RWMutex
	writer   chan struct{}
	state    memoryState
	engine   *RulesEngine
	nowFn    func() time.Time
	onCommit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		writer: make(chan struct{}, 1),
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// OnCommit installs the hook invoked with the candidate state before a
// transaction becomes visible.
func (s *Store) OnCommit(hook CommitHook) {
	s.mu.Lock()
	s.onCommit = hook
	s.mu.Unlock()
}

// SetClock overrides the timestamp source for created and updated records.
func (s *Store) SetClock(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = func() time.Time { return fn().UTC() }
	s.mu.Unlock()
}

// NowFunc returns the timestamp source used for records.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RulesEngine returns the engine evaluated on every commit.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// ExportState returns a snapshot of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.export()
}

// ImportState replaces the committed state with snapshot, rebuilding indexes.
func (s *Store) ImportState(snapshot Snapshot) {
	st := newMemoryState()
	st.seq = snapshot.Seq
	for _, p := range snapshot.Products {
		st.products[p.ID] = p
		st.productByIMEI[p.IMEI] = p.ID
	}
	for _, w := range snapshot.Warranties {
		st.warranties[w.ID] = w
		st.warrantyByIMEI[w.ProductIMEI] = w.ID
	}
	for _, r := range snapshot.Requests {
		st.requests[r.ID] = cloneRequest(r)
		if r.Seq > st.seq {
			st.seq = r.Seq
		}
	}
	logistics := append([]LogisticsOrder(nil), snapshot.Logistics...)
	sort.Slice(logistics, func(i, j int) bool { return logistics[i].Seq < logistics[j].Seq })
	for _, o := range logistics {
		st.logistics[o.ID] = cloneLogistics(o)
		st.logisticsByRequest[o.RequestID] = append(st.logisticsByRequest[o.RequestID], o.ID)
		if o.Seq > st.seq {
			st.seq = o.Seq
		}
	}
	repairs := append([]Repair(nil), snapshot.Repairs...)
	sort.Slice(repairs, func(i, j int) bool { return repairs[i].Seq < repairs[j].Seq })
	for _, r := range repairs {
		st.repairs[r.ID] = cloneRepair(r)
		st.repairsByRequest[r.RequestID] = append(st.repairsByRequest[r.RequestID], r.ID)
		if r.Seq > st.seq {
			st.seq = r.Seq
		}
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds, no rule blocks
// and the commit hook (if any) persists it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	hook := s.onCommit
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if hook != nil && len(tx.changes) > 0 {
		if err := hook(ctx, tx.state.export(), tx.changes); err != nil {
			return result, domain.ErrPersistence{Op: "commit", Err: err}
		}
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return result, nil
}

// View executes fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return fn(stateView{state: &st})
}

// Close releases nothing for the in-memory store.
func (s *Store) Close() error { return nil }

// GetServiceRequest retrieves a committed service request by ID.
func (s *Store) GetServiceRequest(id string) (ServiceRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateView{state: &s.state}.FindServiceRequest(id)
}

// ListServiceRequests returns all committed service requests ordered by creation.
func (s *Store) ListServiceRequests() []ServiceRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateView{state: &s.state}.ListServiceRequests()
}

// stateView implements domain.TransactionView over a state value.
type stateView struct {
	state *memoryState
}

func (v stateView) FindProductByIMEI(imei string) (Product, bool) {
	id, ok := v.state.productByIMEI[imei]
	if !ok {
		return Product{}, false
	}
	p, ok := v.state.products[id]
	return p, ok
}

func (v stateView) FindWarrantyByIMEI(imei string) (Warranty, bool) {
	id, ok := v.state.warrantyByIMEI[imei]
	if !ok {
		return Warranty{}, false
	}
	w, ok := v.state.warranties[id]
	return w, ok
}

func (v stateView) FindServiceRequest(id string) (ServiceRequest, bool) {
	r, ok := v.state.requests[id]
	if !ok {
		return ServiceRequest{}, false
	}
	return cloneRequest(r), true
}

func (v stateView) FindLogisticsOrder(id string) (LogisticsOrder, bool) {
	o, ok := v.state.logistics[id]
	if !ok {
		return LogisticsOrder{}, false
	}
	return cloneLogistics(o), true
}

func (v stateView) FindRepair(id string) (Repair, bool) {
	r, ok := v.state.repairs[id]
	if !ok {
		return Repair{}, false
	}
	return cloneRepair(r), true
}

func (v stateView) ListProducts() []Product {
	out := make([]Product, 0, len(v.state.products))
	for _, p := range v.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMEI < out[j].IMEI })
	return out
}

func (v stateView) ListServiceRequests() []ServiceRequest {
	out := make([]ServiceRequest, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (v stateView) ListLogisticsOrders(requestID string) []LogisticsOrder {
	ids := v.state.logisticsByRequest[requestID]
	out := make([]LogisticsOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneLogistics(v.state.logistics[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (v stateView) ListRepairs(requestID string) []Repair {
	ids := v.state.repairsByRequest[requestID]
	out := make([]Repair, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRepair(v.state.repairs[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (v stateView) CurrentLogisticsOrder(requestID string) (LogisticsOrder, bool) {
	orders := v.ListLogisticsOrders(requestID)
	if len(orders) == 0 {
		return LogisticsOrder{}, false
	}
	return orders[len(orders)-1], true
}

func (v stateView) CurrentRepair(requestID string) (Repair, bool) {
	repairs := v.ListRepairs(requestID)
	if len(repairs) == 0 {
		return Repair{}, false
	}
	return repairs[len(repairs)-1], true
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	stateView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) view() stateView { return stateView{state: &tx.state} }

// Snapshot exposes a read-only view of the transactional state to rules.
func (tx *transaction) Snapshot() TransactionView { return tx.view() }

func (tx *transaction) FindProductByIMEI(imei string) (Product, bool) {
	return tx.view().FindProductByIMEI(imei)
}

func (tx *transaction) FindWarrantyByIMEI(imei string) (Warranty, bool) {
	return tx.view().FindWarrantyByIMEI(imei)
}

func (tx *transaction) FindServiceRequest(id string) (ServiceRequest, bool) {
	return tx.view().FindServiceRequest(id)
}

func (tx *transaction) FindLogisticsOrder(id string) (LogisticsOrder, bool) {
	return tx.view().FindLogisticsOrder(id)
}

func (tx *transaction) FindRepair(id string) (Repair, bool) { return tx.view().FindRepair(id) }

func (tx *transaction) ListProducts() []Product { return tx.view().ListProducts() }

func (tx *transaction) ListServiceRequests() []ServiceRequest {
	return tx.view().ListServiceRequests()
}

func (tx *transaction) ListLogisticsOrders(requestID string) []LogisticsOrder {
	return tx.view().ListLogisticsOrders(requestID)
}

func (tx *transaction) ListRepairs(requestID string) []Repair {
	return tx.view().ListRepairs(requestID)
}

func (tx *transaction) CurrentLogisticsOrder(requestID string) (LogisticsOrder, bool) {
	return tx.view().CurrentLogisticsOrder(requestID)
}

func (tx *transaction) CurrentRepair(requestID string) (Repair, bool) {
	return tx.view().CurrentRepair(requestID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) nextSeq() int64 {
	tx.state.seq++
	return tx.state.seq
}

func newID() string { return uuid.NewString() }

// CreateProduct stores a new product with a unique IMEI.
func (tx *transaction) CreateProduct(p Product) (Product, error) {
	p.IMEI = strings.TrimSpace(p.IMEI)
	if p.IMEI == "" {
		return Product{}, domain.ErrInvalidInput{Entity: domain.EntityProduct, Field: "imei", Reason: "required"}
	}
	if _, exists := tx.state.productByIMEI[p.IMEI]; exists {
		return Product{}, domain.ErrConflict{Entity: domain.EntityProduct, Key: p.IMEI}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	if _, exists := tx.state.products[p.ID]; exists {
		return Product{}, domain.ErrConflict{Entity: domain.EntityProduct, Key: p.ID}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.products[p.ID] = p
	tx.state.productByIMEI[p.IMEI] = p.ID
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionCreate, After: p})
	return p, nil
}

// CreateWarranty attaches a warranty to an existing product; a product holds at most one.
func (tx *transaction) CreateWarranty(w Warranty) (Warranty, error) {
	if _, ok := tx.state.productByIMEI[w.ProductIMEI]; !ok {
		return Warranty{}, domain.ErrNotFound{Entity: domain.EntityProduct, ID: w.ProductIMEI}
	}
	if _, exists := tx.state.warrantyByIMEI[w.ProductIMEI]; exists {
		return Warranty{}, domain.ErrConflict{Entity: domain.EntityWarranty, Key: w.ProductIMEI}
	}
	if w.EndDate.IsZero() {
		return Warranty{}, domain.ErrInvalidInput{Entity: domain.EntityWarranty, Field: "end_date", Reason: "required"}
	}
	w.StartDate = w.StartDate.UTC()
	w.EndDate = w.EndDate.UTC()
	if !w.StartDate.IsZero() && w.EndDate.Before(w.StartDate) {
		return Warranty{}, domain.ErrInvalidInput{Entity: domain.EntityWarranty, Field: "end_date", Reason: "before start_date"}
	}
	if w.ID == "" {
		w.ID = newID()
	}
	w.CreatedAt = tx.now
	w.UpdatedAt = tx.now
	tx.state.warranties[w.ID] = w
	tx.state.warrantyByIMEI[w.ProductIMEI] = w.ID
	tx.recordChange(Change{Entity: domain.EntityWarranty, Action: domain.ActionCreate, After: w})
	return w, nil
}

// CreateServiceRequest stores a new request for an existing product.
func (tx *transaction) CreateServiceRequest(r ServiceRequest) (ServiceRequest, error) {
	if _, ok := tx.state.productByIMEI[r.ProductIMEI]; !ok {
		return ServiceRequest{}, domain.ErrNotFound{Entity: domain.EntityProduct, ID: r.ProductIMEI}
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return ServiceRequest{}, domain.ErrConflict{Entity: domain.EntityServiceRequest, Key: r.ID}
	}
	if r.Status == "" {
		r.Status = domain.RequestPending
	}
	r.Seq = tx.nextSeq()
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if r.History == nil {
		r.History = []domain.StatusChange{}
	}
	tx.state.requests[r.ID] = cloneRequest(r)
	tx.recordChange(Change{Entity: domain.EntityServiceRequest, Action: domain.ActionCreate, After: cloneRequest(r)})
	return cloneRequest(r), nil
}

// UpdateServiceRequest mutates a request using the provided mutator.
func (tx *transaction) UpdateServiceRequest(id string, mutator func(*ServiceRequest) error) (ServiceRequest, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return ServiceRequest{}, domain.ErrNotFound{Entity: domain.EntityServiceRequest, ID: id}
	}
	before := cloneRequest(current)
	next := cloneRequest(current)
	if err := mutator(&next); err != nil {
		return ServiceRequest{}, err
	}
	next.ID = id
	next.Seq = before.Seq
	next.ProductIMEI = before.ProductIMEI
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	tx.state.requests[id] = cloneRequest(next)
	tx.recordChange(Change{Entity: domain.EntityServiceRequest, Action: domain.ActionUpdate, Before: before, After: cloneRequest(next)})
	return cloneRequest(next), nil
}

// CreateLogisticsOrder appends a logistics order to a request's history.
func (tx *transaction) CreateLogisticsOrder(o LogisticsOrder) (LogisticsOrder, error) {
	if _, ok := tx.state.requests[o.RequestID]; !ok {
		return LogisticsOrder{}, domain.ErrNotFound{Entity: domain.EntityServiceRequest, ID: o.RequestID}
	}
	if !o.Type.Valid() {
		return LogisticsOrder{}, domain.ErrInvalidStatus{Field: "logistics type", Value: string(o.Type)}
	}
	if o.Status == "" {
		o.Status = domain.LogisticsScheduled
	}
	if o.ID == "" {
		o.ID = newID()
	}
	if _, exists := tx.state.logistics[o.ID]; exists {
		return LogisticsOrder{}, domain.ErrConflict{Entity: domain.EntityLogisticsOrder, Key: o.ID}
	}
	o.Seq = tx.nextSeq()
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.logistics[o.ID] = cloneLogistics(o)
	tx.state.logisticsByRequest[o.RequestID] = append(tx.state.logisticsByRequest[o.RequestID], o.ID)
	tx.recordChange(Change{Entity: domain.EntityLogisticsOrder, Action: domain.ActionCreate, After: cloneLogistics(o)})
	return cloneLogistics(o), nil
}

// UpdateLogisticsOrder mutates an order. Its request and type are fixed at creation.
func (tx *transaction) UpdateLogisticsOrder(id string, mutator func(*LogisticsOrder) error) (LogisticsOrder, error) {
	current, ok := tx.state.logistics[id]
	if !ok {
		return LogisticsOrder{}, domain.ErrNotFound{Entity: domain.EntityLogisticsOrder, ID: id}
	}
	before := cloneLogistics(current)
	next := cloneLogistics(current)
	if err := mutator(&next); err != nil {
		return LogisticsOrder{}, err
	}
	next.ID = id
	next.Seq = before.Seq
	next.RequestID = before.RequestID
	next.Type = before.Type
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	tx.state.logistics[id] = cloneLogistics(next)
	tx.recordChange(Change{Entity: domain.EntityLogisticsOrder, Action: domain.ActionUpdate, Before: before, After: cloneLogistics(next)})
	return cloneLogistics(next), nil
}

// CreateRepair appends a repair to a request's history.
func (tx *transaction) CreateRepair(r Repair) (Repair, error) {
	if _, ok := tx.state.requests[r.RequestID]; !ok {
		return Repair{}, domain.ErrNotFound{Entity: domain.EntityServiceRequest, ID: r.RequestID}
	}
	if r.Status == "" {
		r.Status = domain.RepairPending
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if _, exists := tx.state.repairs[r.ID]; exists {
		return Repair{}, domain.ErrConflict{Entity: domain.EntityRepair, Key: r.ID}
	}
	r.Seq = tx.nextSeq()
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.repairs[r.ID] = cloneRepair(r)
	tx.state.repairsByRequest[r.RequestID] = append(tx.state.repairsByRequest[r.RequestID], r.ID)
	tx.recordChange(Change{Entity: domain.EntityRepair, Action: domain.ActionCreate, After: cloneRepair(r)})
	return cloneRepair(r), nil
}

// UpdateRepair mutates a repair. Its request is fixed at creation.
func (tx *transaction) UpdateRepair(id string, mutator func(*Repair) error) (Repair, error) {
	current, ok := tx.state.repairs[id]
	if !ok {
		return Repair{}, domain.ErrNotFound{Entity: domain.EntityRepair, ID: id}
	}
	before := cloneRepair(current)
	next := cloneRepair(current)
	if err := mutator(&next); err != nil {
		return Repair{}, err
	}
	next.ID = id
	next.Seq = before.Seq
	next.RequestID = before.RequestID
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	tx.state.repairs[id] = cloneRepair(next)
	tx.recordChange(Change{Entity: domain.EntityRepair, Action: domain.ActionUpdate, Before: before, After: cloneRepair(next)})
	return cloneRepair(next), nil
}
