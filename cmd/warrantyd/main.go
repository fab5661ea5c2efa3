// warrantyd serves the warranty service-request lifecycle over HTTP.
//
// Configuration comes from the YAML file named by --config (or
// WARRANTYCORE_CONFIG) with WARRANTYCORE_* environment overrides; --addr and
// --log-level override the file.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"warrantycore/internal/adapters/httpapi"
	"warrantycore/internal/adapters/notify"
	"warrantycore/internal/blob"
	"warrantycore/internal/config"
	"warrantycore/internal/core"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	addr       string
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("warrantyd", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML config file (default: $WARRANTYCORE_CONFIG)")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address (overrides server.addr)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return flags{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return f, nil
}

func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// app holds everything run needs to serve and to release on exit.
type app struct {
	handler http.Handler
	service *core.Service
	store   core.PersistentStore
	hub     *notify.Hub
	closers []io.Closer
}

func (a *app) Close() error {
	if a.hub != nil {
		a.hub.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// build wires store, archive, observability and transport from cfg.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	a := &app{}
	store, err := core.OpenPersistentStore(cfg.StorageConfig(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	a.hub = notify.NewHub(logger)
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: logger.With("component", "audit")}),
		core.WithOperationTimeout(cfg.Server.OperationTimeout),
		core.WithTransitionListener(a.hub),
	}

	if bc, ok := cfg.BlobConfig(); ok {
		blobs, err := blob.Open(ctx, bc)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		opts = append(opts, core.WithBlobStore(blobs))
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Prometheus {
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec), core.WithTransitionListener(rec))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else if cfg.Metrics.Expvar {
		rec := core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(rec), core.WithTransitionListener(rec))
	}

	if cfg.Trace.Path != "" {
		f, err := os.OpenFile(cfg.Trace.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f, cfg.Trace.Retain)))
	}

	a.service = core.NewService(store, opts...)
	api := httpapi.NewHandler(a.service, a.hub, metricsHandler, logger)
	mux := http.NewServeMux()
	if cfg.Metrics.Expvar {
		mux.Handle("GET /debug/vars", expvar.Handler())
	}
	mux.Handle("/", api)
	a.handler = httpapi.CORS(cfg.Server.CORSOrigins, mux)
	return a, nil
}

func run(args []string, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("warrantyd listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver, "rules", a.service.Rules())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
