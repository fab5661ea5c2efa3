package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"warrantycore/internal/blob/core"
)

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	info, err := store.Put(ctx, "reports/REQ-1.json", bytes.NewReader([]byte(`{"id":"REQ-1"}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 14 || info.ContentType != "application/json" {
		t.Fatalf("unexpected info: %+v", info)
	}
	got, rc, err := store.Get(ctx, "reports/REQ-1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":"REQ-1"}` || got.ETag != info.ETag {
		t.Fatalf("unexpected get result %q %+v", body, got)
	}
	list, err := store.List(ctx, "reports/")
	if err != nil || len(list) != 1 || list[0].Key != "reports/REQ-1.json" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
}

func TestMockStoreRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("a")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("b")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	if body, _ := io.ReadAll(rc); string(body) != "a" {
		t.Fatalf("expected original content, got %q", body)
	}
}

func TestMockStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := store.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestPrefixMapping(t *testing.T) {
	s := &Store{prefix: "warranty"}
	if got := s.objectKey("a/b"); got != "warranty/a/b" {
		t.Fatalf("unexpected object key %s", got)
	}
	if got := s.blobKey("warranty/a/b"); got != "a/b" {
		t.Fatalf("unexpected blob key %s", got)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}
