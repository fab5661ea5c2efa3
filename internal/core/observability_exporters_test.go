package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"warrantycore/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "warrantycore_service_metrics_") {
		t.Fatalf("unexpected name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "on_intake", true, 2*time.Millisecond)
	rec.Observe(ctx, "on_intake", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)
	rec.OnTransition(ctx, TransitionEvent{From: domain.RequestPending, To: domain.RequestApproved})
	rec.OnTransition(ctx, TransitionEvent{From: domain.RequestPending, To: domain.RequestApproved})

	snap := rec.Snapshot()
	if snap.Results["on_intake"]["success"] != 1 || snap.Results["on_intake"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if snap.DurationsMS["on_intake"] != 3 {
		t.Fatalf("unexpected durations %+v", snap.DurationsMS)
	}
	if snap.Transitions["PENDING->APPROVED"] != 2 {
		t.Fatalf("unexpected transitions %+v", snap.Transitions)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("expected empty operation ignored")
	}
	if v := expvar.Get(rec.Name()); v == nil || !strings.Contains(v.String(), "PENDING->APPROVED") {
		t.Fatalf("expected published expvar")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	svc := newTestService(WithMetricsRecorder(rec), WithTransitionListener(rec))
	req := approvedRequest(t, svc, "359881234567890")
	if req.Status != domain.RequestPickupScheduled {
		t.Fatalf("unexpected status %s", req.Status)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("on_intake", "success")); got != 1 {
		t.Fatalf("expected one intake, got %v", got)
	}
	if got := testutil.ToFloat64(rec.transitions.WithLabelValues("APPROVED", "PICKUP_SCHEDULED", "warranty_approved")); got != 1 {
		t.Fatalf("expected follow-on transition counted, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.transitions); n != 2 {
		t.Fatalf("expected two transition series, got %d", n)
	}
	if n := testutil.CollectAndCount(rec.durations); n == 0 {
		t.Fatalf("expected latency series")
	}
}

func TestJSONTracerRetainsRecentSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf, 2)
	clock := testNow
	tracer.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	ctx := context.Background()
	for _, op := range []string{"a", "b", "c"} {
		_, span := tracer.Start(ctx, op)
		span.End(nil)
	}
	_, span := tracer.Start(ctx, "d")
	span.End(errors.New("boom"))
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Operation != "c" || entries[1].Operation != "d" {
		t.Fatalf("unexpected retained spans %+v", entries)
	}
	if entries[1].Status != "error" || entries[1].Error != "boom" || entries[1].DurationMS != 1 {
		t.Fatalf("unexpected error span %+v", entries[1])
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected one line per span, got %d", len(lines))
	}
	var first JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || first.Operation != "a" {
		t.Fatalf("unexpected first line %q: %v", lines[0], err)
	}
}

func TestJSONTracerWithoutWriter(t *testing.T) {
	tracer := NewJSONTracer(nil, 0)
	_, span := tracer.Start(context.Background(), "op")
	span.End(nil)
	if len(tracer.Entries()) != 0 {
		t.Fatalf("expected nothing retained")
	}
}
