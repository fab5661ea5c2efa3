// Package config loads the warrantyd configuration.
//
// Configuration is read from the YAML file named by --config or the
// WARRANTYCORE_CONFIG environment variable, layered over Default. When no file
// is named the defaults apply. WARRANTYCORE_* variables override individual
// values after the file is read.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"warrantycore/internal/blob"
	"warrantycore/internal/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WARRANTYCORE_"

// Config is the complete daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Metrics MetricsConfig `yaml:"metrics"`
	Trace   TraceConfig   `yaml:"trace"`
}

// ServerConfig configures the HTTP listener and operation bounds.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// OperationTimeout bounds every service operation; zero disables it.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// StorageConfig selects the entity store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects the report archive. An empty driver disables archiving.
type BlobConfig struct {
	Driver string        `yaml:"driver"`
	FSRoot string        `yaml:"fs_root"`
	S3     blob.S3Config `yaml:"s3"`
}

// MetricsConfig toggles the metrics exporters.
type MetricsConfig struct {
	Prometheus bool `yaml:"prometheus"`
	Expvar     bool `yaml:"expvar"`
}

// TraceConfig configures the JSON-lines span tracer. An empty path disables it.
type TraceConfig struct {
	Path   string `yaml:"path"`
	Retain int    `yaml:"retain"`
}

// Default returns the configuration used before the file and environment are
// applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			OperationTimeout: 10 * time.Second,
			ShutdownTimeout:  15 * time.Second,
			CORSOrigins:      []string{"http://localhost:5173"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Driver:     string(core.StorageSQLite),
			SQLitePath: "./warrantycore.db",
		},
		Blob: BlobConfig{
			Driver: string(blob.DriverFilesystem),
			FSRoot: "./blobdata",
		},
		Metrics: MetricsConfig{Prometheus: true},
		Trace:   TraceConfig{Retain: 256},
	}
}

// Load reads path (or WARRANTYCORE_CONFIG when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from WARRANTYCORE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":               &c.Server.Addr,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
		"STORAGE_DRIVER":     &c.Storage.Driver,
		"SQLITE_PATH":        &c.Storage.SQLitePath,
		"POSTGRES_DSN":       &c.Storage.PostgresDSN,
		"BLOB_DRIVER":        &c.Blob.Driver,
		"BLOB_FS_ROOT":       &c.Blob.FSRoot,
		"BLOB_S3_BUCKET":     &c.Blob.S3.Bucket,
		"BLOB_S3_REGION":     &c.Blob.S3.Region,
		"BLOB_S3_PREFIX":     &c.Blob.S3.Prefix,
		"BLOB_S3_ENDPOINT":   &c.Blob.S3.Endpoint,
		"BLOB_S3_ACCESS_KEY": &c.Blob.S3.AccessKeyID,
		"BLOB_S3_SECRET_KEY": &c.Blob.S3.SecretAccessKey,
		"TRACE_PATH":         &c.Trace.Path,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	var errs []error
	bools := map[string]*bool{
		"BLOB_S3_PATH_STYLE": &c.Blob.S3.PathStyle,
		"METRICS_PROMETHEUS": &c.Metrics.Prometheus,
		"METRICS_EXPVAR":     &c.Metrics.Expvar,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = b
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	durations := map[string]*time.Duration{
		"OPERATION_TIMEOUT": &c.Server.OperationTimeout,
		"SHUTDOWN_TIMEOUT":  &c.Server.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = d
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.OperationTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level: %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid log.format: %q", c.Log.Format))
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory:
	case core.StorageSQLite, "":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for sqlite"))
		}
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage.driver: %q", c.Storage.Driver))
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid blob.driver: %q", c.Blob.Driver))
	}
	for _, o := range c.Server.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("invalid server.cors_origins entry: %q", o))
		}
	}
	if c.Trace.Retain < 0 {
		errs = append(errs, errors.New("trace.retain must not be negative"))
	}
	return errors.Join(errs...)
}

// splitList parses a comma separated env value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// StorageConfig converts the storage section for core.OpenPersistentStore.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobConfig converts the blob section for blob.Open. ok is false when
// archiving is disabled.
func (c Config) BlobConfig() (cfg blob.Config, ok bool) {
	if c.Blob.Driver == "" {
		return blob.Config{}, false
	}
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3:     c.Blob.S3,
	}, true
}
