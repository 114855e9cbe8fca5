package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldgrid/fieldgrid/server/internal/geo"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultStorageDriver    = "memory"
	DefaultSQLitePath       = "fieldgrid.db"
	DefaultRetention        = 48 * time.Hour
	DefaultSweepInterval    = 10 * time.Minute
	DefaultWarnMargin       = 0.10
	DefaultMaxBatchItems    = 1000
	DefaultPageSize         = 100
	DefaultMaxPageSize      = 500
	DefaultMaxGridCells     = 250_000
	DefaultMaxOutOfSpec     = 10_000
	DefaultMaxBodyBytes     = 8 << 20
	DefaultCellSize         = 0.01
	DefaultAlertCooldown    = 15 * time.Minute
	DefaultAlertMinSeverity = "fail"
	DefaultMetricsPath      = "/metrics"
	DefaultRateLimitWindow  = time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Classify    ClassifyConfig    `yaml:"classify"`
	Limits      LimitsConfig      `yaml:"limits"`
	Coverage    CoverageConfig    `yaml:"coverage"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Catalog     CatalogConfig     `yaml:"catalog"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | jwt | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header carrying the API key. Defaults to "X-API-Key".
	Header string `yaml:"header"`

	// KeySubject is the identity recorded for API key callers.
	KeySubject string `yaml:"key_subject"`

	// JWTSecretEnv names the environment variable holding the HS256 secret.
	JWTSecretEnv string `yaml:"jwt_secret_env"`

	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string `yaml:"jwt_issuer"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// JWTSecret returns the token secret resolved from the environment.
func (a AuthConfig) JWTSecret() []byte {
	if a.JWTSecretEnv == "" {
		return nil
	}
	return []byte(os.Getenv(a.JWTSecretEnv))
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// StorageConfig selects and configures the measurement store.
type StorageConfig struct {
	// Driver is one of: memory | sqlite | postgres.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the PostgreSQL URL.
	DSNEnv string `yaml:"dsn_env"`

	// AutoMigrate applies pending schema migrations at startup. When false
	// the server refuses to start on an outdated schema.
	AutoMigrate bool `yaml:"auto_migrate"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// DSN returns the connection string for the configured driver.
func (s StorageConfig) DSN() string {
	if s.Driver == "sqlite" {
		return s.Path
	}
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// IdempotencyConfig controls how long batch keys are remembered.
type IdempotencyConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ClassifyConfig holds classifier tunables. Reloadable.
type ClassifyConfig struct {
	// WarnMargin is the fraction of the threshold interval, measured inward
	// from each bound, that classifies as Warn. Test types may override it.
	WarnMargin float64 `yaml:"warn_margin"`
}

// LimitsConfig bounds per-request work. Reloadable, except MaxBodyBytes
// and the rate limit which are read at startup.
type LimitsConfig struct {
	MaxBatchItems   int   `yaml:"max_batch_items"`
	DefaultPageSize int   `yaml:"default_page_size"`
	MaxPageSize     int   `yaml:"max_page_size"`
	MaxGridCells    int   `yaml:"max_grid_cells"`
	MaxOutOfSpec    int   `yaml:"max_out_of_spec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`

	// RateLimit is the number of requests one identity may make per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// CoverageConfig holds coverage grid defaults.
type CoverageConfig struct {
	// DefaultCellSize is the cell edge in degrees used when a request does
	// not specify one.
	DefaultCellSize float64 `yaml:"default_cell_size"`
}

// AlertsConfig controls out-of-spec notifications.
type AlertsConfig struct {
	// MinSeverity is warn | fail: the lowest status that raises an alert.
	MinSeverity string `yaml:"min_severity"`

	// Cooldown suppresses re-fires per project and test type.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// CatalogConfig points at the reference data file.
type CatalogConfig struct {
	// SeedFile lists projects and test types to upsert. Relative paths
	// resolve against the config file's directory.
	SeedFile string `yaml:"seed_file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if f := cfg.Server.Catalog.SeedFile; f != "" && !filepath.IsAbs(f) {
		cfg.Server.Catalog.SeedFile = filepath.Join(filepath.Dir(path), f)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth:     AuthConfig{Mode: "none"},
			Storage: StorageConfig{
				Driver: DefaultStorageDriver,
				Path:   DefaultSQLitePath,
			},
			Idempotency: IdempotencyConfig{
				Retention:     DefaultRetention,
				SweepInterval: DefaultSweepInterval,
			},
			Classify: ClassifyConfig{WarnMargin: DefaultWarnMargin},
			Limits: LimitsConfig{
				MaxBatchItems:   DefaultMaxBatchItems,
				DefaultPageSize: DefaultPageSize,
				MaxPageSize:     DefaultMaxPageSize,
				MaxGridCells:    DefaultMaxGridCells,
				MaxOutOfSpec:    DefaultMaxOutOfSpec,
				MaxBodyBytes:    DefaultMaxBodyBytes,
				RateWindow:      DefaultRateLimitWindow,
			},
			Coverage: CoverageConfig{DefaultCellSize: DefaultCellSize},
			Alerts: AlertsConfig{
				MinSeverity: DefaultAlertMinSeverity,
				Cooldown:    DefaultAlertCooldown,
			},
			Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	case "jwt":
		if s.Auth.JWTSecretEnv == "" {
			return fmt.Errorf("server.auth.jwt_secret_env is required when mode is jwt")
		}
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|jwt|none", s.Auth.Mode)
	}
	switch s.Storage.Driver {
	case "memory":
	case "sqlite":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for sqlite")
		}
	case "postgres":
		if s.Storage.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for postgres")
		}
	default:
		return fmt.Errorf("server.storage.driver %q unknown: want memory|sqlite|postgres", s.Storage.Driver)
	}
	if s.Idempotency.Retention <= 0 {
		return fmt.Errorf("server.idempotency.retention must be positive")
	}
	if s.Idempotency.SweepInterval < 0 {
		return fmt.Errorf("server.idempotency.sweep_interval must not be negative")
	}
	if s.Classify.WarnMargin < 0 || s.Classify.WarnMargin >= 0.5 {
		return fmt.Errorf("server.classify.warn_margin %v is out of range [0, 0.5)", s.Classify.WarnMargin)
	}
	l := s.Limits
	if l.MaxBatchItems <= 0 || l.DefaultPageSize <= 0 || l.MaxPageSize <= 0 || l.MaxGridCells <= 0 || l.MaxOutOfSpec <= 0 || l.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.limits: every limit must be positive")
	}
	if l.DefaultPageSize > l.MaxPageSize {
		return fmt.Errorf("server.limits.default_page_size %d exceeds max_page_size %d", l.DefaultPageSize, l.MaxPageSize)
	}
	if l.RateLimit < 0 || l.RateWindow <= 0 {
		return fmt.Errorf("server.limits: rate_limit must not be negative and rate_window must be positive")
	}
	if s.Coverage.DefaultCellSize < geo.MinCellSize || s.Coverage.DefaultCellSize > 360 {
		return fmt.Errorf("server.coverage.default_cell_size %v is out of range [%g, 360]", s.Coverage.DefaultCellSize, geo.MinCellSize)
	}
	switch s.Alerts.MinSeverity {
	case "warn", "fail":
	default:
		return fmt.Errorf("server.alerts.min_severity %q unknown: want warn|fail", s.Alerts.MinSeverity)
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
	}
	if s.Alerts.Cooldown < 0 {
		return fmt.Errorf("server.alerts.cooldown must not be negative")
	}
	return nil
}
