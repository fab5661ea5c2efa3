package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"warrantycore/internal/config"
	"warrantycore/pkg/domain"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"--config", "c.yaml", "--addr", ":1234", "--log-level", "debug"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.configPath != "c.yaml" || f.addr != ":1234" || f.logLevel != "debug" {
		t.Fatalf("unexpected flags %+v", f)
	}
	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Fatalf("expected positional argument rejected")
	}
	if _, err := parseFlags([]string{"--help"}, io.Discard); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Setenv(config.EnvPrefix+"CONFIG", "")
	cfg, err := loadConfig(flags{addr: ":9999", logLevel: "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Log.Level != "warn" {
		t.Fatalf("expected flag overrides, got %+v", cfg)
	}
	if _, err := loadConfig(flags{logLevel: "loud"}); err == nil {
		t.Fatalf("expected invalid level rejected")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("unexpected json log output %q", buf.String())
	}
	buf.Reset()
	newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("unexpected text log output %q", buf.String())
	}
}

func TestBuildServesLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "fs"
	cfg.Blob.FSRoot = t.TempDir()
	cfg.Metrics.Expvar = true
	cfg.Trace.Path = filepath.Join(t.TempDir(), "trace.jsonl")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := build(context.Background(), cfg, logger, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = a.Close() }()
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	post := func(path string, body any) *http.Response {
		t.Helper()
		payload, _ := json.Marshal(body)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		return resp
	}

	resp := post("/api/products", map[string]any{
		"imei":     "490154203237518",
		"warranty": map[string]any{"end_date": time.Now().Add(24 * time.Hour)},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d", resp.StatusCode)
	}
	resp = post("/api/request", map[string]any{"customer_id": "c", "product_imei": "490154203237518"})
	var req domain.ServiceRequest
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if req.Status != domain.RequestPickupScheduled {
		t.Fatalf("unexpected status %s", req.Status)
	}

	for _, path := range []string{"/metrics", "/debug/vars"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || len(body) == 0 {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
	}

	preflight, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/request", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	preflight.Header.Set("Origin", "http://localhost:5173")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(preflight)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("expected dashboard preflight allowed, got %d %v", resp.StatusCode, resp.Header)
	}
}

func TestBuildFailsOnBadStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "postgres"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := build(context.Background(), cfg, logger, prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected missing dsn to fail")
	}
}
