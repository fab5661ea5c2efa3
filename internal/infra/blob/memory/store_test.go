package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"warrantycore/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "service-reports/a.json", bytes.NewBufferString(`{"id":"a"}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"status": "COMPLETED"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 10 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "service-reports/a.json", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "service-reports/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":"a"}` || got.Metadata["status"] != "COMPLETED" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	got.Metadata["status"] = "mutated"
	head, err := s.Head(ctx, "service-reports/a.json")
	if err != nil || head.Metadata["status"] != "COMPLETED" {
		t.Fatalf("expected metadata isolation, got %+v %v", head, err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "other/b.json", bytes.NewBufferString("b"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, err := s.List(ctx, "service-reports/")
	if err != nil || len(list) != 1 || list[0].Key != "service-reports/a.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "other/b.json" {
		t.Fatalf("expected sorted list, got %+v", all)
	}
}

func TestMemoryStoreRejectsEmptyKeyAndCancelledContext(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), " ", bytes.NewBufferString("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
