package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"warrantycore/pkg/domain"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	c.calls = append(c.calls, entry)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureListener struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (c *captureListener) OnTransition(_ context.Context, ev TransitionEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureListener) snapshot() []TransitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TransitionEvent(nil), c.events...)
}

func newTestService(opts ...Option) *Service {
	opts = append([]Option{WithClock(stubClock{t: testNow})}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

// seedProduct registers a product and, when end is non-zero, a warranty
// ending at end.
func seedProduct(t *testing.T, svc *Service, imei string, end time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.RegisterProduct(ctx, Product{IMEI: imei, Name: "Phone", Model: "X1"}); err != nil {
		t.Fatalf("register product: %v", err)
	}
	if end.IsZero() {
		return
	}
	if _, _, err := svc.RegisterWarranty(ctx, Warranty{ProductIMEI: imei, StartDate: end.AddDate(-1, 0, 0), EndDate: end, Terms: "standard"}); err != nil {
		t.Fatalf("register warranty: %v", err)
	}
}

// approvedRequest returns a request in PICKUP_SCHEDULED.
func approvedRequest(t *testing.T, svc *Service, imei string) ServiceRequest {
	t.Helper()
	seedProduct(t, svc, imei, testNow.Add(24*time.Hour))
	req, _, err := svc.OnIntake(context.Background(), IntakeRequest{CustomerID: "cust-1", ProductIMEI: imei, IssueDescription: "screen cracked"})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	return req
}

func mustAggregate(t *testing.T, svc *Service, id string) Aggregate {
	t.Helper()
	agg, err := svc.LoadAggregate(context.Background(), id)
	if err != nil {
		t.Fatalf("load aggregate: %v", err)
	}
	return agg
}

func countLogistics(agg Aggregate, kind domain.LogisticsType) int {
	n := 0
	for _, o := range agg.Logistics {
		if o.Type == kind {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }
