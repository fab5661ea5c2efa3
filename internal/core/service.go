package core

import (
	"context"
	"strings"
	"time"

	"warrantycore/internal/blob"
	"warrantycore/internal/infra/persistence/memory"
	"warrantycore/pkg/domain"
)

// Service runs the warranty lifecycle operations against a persistent store.
// Every operation is one store transaction wrapped with tracing, metrics,
// audit and logging.
type Service struct {
	store     PersistentStore
	engine    *RulesEngine
	now       func() time.Time
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	timeout   time.Duration
	listeners []TransitionListener
	blobs     blob.Store
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock     Clock
	clockSet  bool
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	timeout   time.Duration
	listeners []TransitionListener
	blobs     blob.Store
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(nil),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// WithClock sets the clock used for warranty evaluation, history entries and
// record timestamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
			o.clockSet = true
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithOperationTimeout bounds every operation, including the wait for the
// store's writer slot. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTransitionListener adds a listener notified of committed transitions.
func WithTransitionListener(l TransitionListener) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithBlobStore sets the archive used by ArchiveServiceReport.
func WithBlobStore(store blob.Store) Option {
	return func(o *serviceOptions) {
		if store != nil {
			o.blobs = store
		}
	}
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type clockSetter interface {
	SetClock(func() time.Time)
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

// NewService constructs a service over store.
func NewService(store PersistentStore, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var clock Clock
	if o.clockSet {
		clock = o.clock
		if setter, ok := store.(clockSetter); ok {
			setter.SetClock(clock.Now)
		}
	}
	return &Service{
		store:     store,
		engine:    extractRulesEngine(store),
		now:       selectNowFunc(store, clock),
		logger:    o.logger,
		audit:     o.audit,
		metrics:   o.metrics,
		tracer:    o.tracer,
		timeout:   o.timeout,
		listeners: o.listeners,
		blobs:     o.blobs,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// selectNowFunc prefers an explicit clock, then the store's own clock, then
// the system clock. The result is always UTC.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return func() time.Time { return time.Now().UTC() }
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// Rules returns the names of the rules evaluated on every commit.
func (s *Service) Rules() []string {
	if s.engine == nil {
		return nil
	}
	return s.engine.Rules()
}

type auditMetadata struct {
	entity EntityType
	action Action
}

var auditOperations = map[string]auditMetadata{
	"register_product":    {entity: EntityProduct, action: ActionCreate},
	"register_warranty":   {entity: EntityWarranty, action: ActionCreate},
	"register_coverage":   {entity: EntityProduct, action: ActionCreate},
	"on_intake":           {entity: EntityServiceRequest, action: ActionCreate},
	"on_logistics_update": {entity: EntityLogisticsOrder, action: ActionUpdate},
	"on_repair_update":    {entity: EntityRepair, action: ActionUpdate},
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// run executes fn in one store transaction. fn returns the id of the entity
// the operation is about.
func (s *Service) run(ctx context.Context, op string, fn func(tx Transaction) (string, error)) (Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.recordAuditError(ctx, op, entityID, err, duration)
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err, "duration", duration)
		return res, err
	}
	s.recordAuditSuccess(ctx, op, entityID, duration)
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", string(v.Severity), "entity", string(v.Entity), "entity_id", v.EntityID, "message", v.Message)
	}
	s.logger.Info("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	return res, nil
}

// view executes a read-only operation with tracing and metrics.
func (s *Service) view(ctx context.Context, op string, fn func(TransactionView) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := s.store.View(ctx, fn)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Debug("read failed", "operation", op, "error", err)
	}
	return err
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	meta, ok := auditOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, err error, duration time.Duration) {
	meta, ok := auditOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.now(),
	})
}

// RegisterProduct adds a device to the catalog.
func (s *Service) RegisterProduct(ctx context.Context, product Product) (Product, Result, error) {
	var created Product
	res, err := s.run(ctx, "register_product", func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateProduct(product)
		return created.ID, err
	})
	return created, res, err
}

// RegisterWarranty attaches a warranty to an existing product.
func (s *Service) RegisterWarranty(ctx context.Context, warranty Warranty) (Warranty, Result, error) {
	var created Warranty
	res, err := s.run(ctx, "register_warranty", func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateWarranty(warranty)
		return created.ID, err
	})
	return created, res, err
}

// RegisterCoverage registers a product and its warranty in one transaction.
// The warranty is bound to the product's IMEI.
func (s *Service) RegisterCoverage(ctx context.Context, product Product, warranty Warranty) (Product, Warranty, Result, error) {
	var (
		createdProduct  Product
		createdWarranty Warranty
	)
	res, err := s.run(ctx, "register_coverage", func(tx Transaction) (string, error) {
		var err error
		createdProduct, err = tx.CreateProduct(product)
		if err != nil {
			return "", err
		}
		warranty.ProductIMEI = createdProduct.IMEI
		createdWarranty, err = tx.CreateWarranty(warranty)
		return createdProduct.ID, err
	})
	if err != nil {
		return Product{}, Warranty{}, res, err
	}
	return createdProduct, createdWarranty, res, nil
}

// GetProduct looks a product up by IMEI.
func (s *Service) GetProduct(ctx context.Context, imei string) (Product, error) {
	imei = strings.TrimSpace(imei)
	var product Product
	err := s.view(ctx, "get_product", func(view TransactionView) error {
		p, ok := view.FindProductByIMEI(imei)
		if !ok {
			return domain.ErrNotFound{Entity: EntityProduct, ID: imei}
		}
		product = p
		return nil
	})
	return product, err
}

// GetServiceRequest returns one request.
func (s *Service) GetServiceRequest(ctx context.Context, id string) (ServiceRequest, error) {
	var req ServiceRequest
	err := s.view(ctx, "get_service_request", func(view TransactionView) error {
		r, ok := view.FindServiceRequest(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityServiceRequest, ID: id}
		}
		req = r
		return nil
	})
	return req, err
}

// ListServiceRequests returns every request in intake order.
func (s *Service) ListServiceRequests(ctx context.Context) ([]ServiceRequest, error) {
	var out []ServiceRequest
	err := s.view(ctx, "list_service_requests", func(view TransactionView) error {
		out = view.ListServiceRequests()
		return nil
	})
	return out, err
}

// LoadAggregate returns a request with its logistics and repair history.
func (s *Service) LoadAggregate(ctx context.Context, id string) (Aggregate, error) {
	var agg Aggregate
	err := s.view(ctx, "load_aggregate", func(view TransactionView) error {
		var err error
		agg, err = domain.LoadAggregate(view, id)
		return err
	})
	return agg, err
}

// EvaluateProductWarranty checks the warranty of a registered product against
// the service clock.
func (s *Service) EvaluateProductWarranty(ctx context.Context, imei string) (domain.Evaluation, error) {
	imei = strings.TrimSpace(imei)
	var eval domain.Evaluation
	err := s.view(ctx, "evaluate_warranty", func(view TransactionView) error {
		if _, ok := view.FindProductByIMEI(imei); !ok {
			return domain.ErrNotFound{Entity: EntityProduct, ID: imei}
		}
		var coverage *Warranty
		if w, ok := view.FindWarrantyByIMEI(imei); ok {
			coverage = &w
		}
		eval = domain.EvaluateWarranty(coverage, s.now())
		return nil
	})
	return eval, err
}
