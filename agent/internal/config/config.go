package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBatchSize   = 500
	DefaultBufferSize  = 100
	DefaultSendTimeout = 30 * time.Second
	DefaultMaxElapsed  = 15 * time.Minute
	DefaultSettleDelay = 500 * time.Millisecond

	// MaxBatchSize matches the server's default limits.max_batch_items.
	MaxBatchSize = 1000
)

// Config is the agent's view of config.yaml. The `server:` key in the same
// file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// Endpoint is the base URL of fieldgrid-server, e.g. https://fieldgrid.example.com.
	Endpoint string `yaml:"endpoint"`

	// ProjectID receives every batch this agent ships.
	ProjectID string `yaml:"project_id"`

	// WatchDir is the drop directory scanned for .csv and .json exports.
	WatchDir string `yaml:"watch_dir"`

	// ArchiveDir receives fully delivered files. Defaults to <watch_dir>/done.
	ArchiveDir string `yaml:"archive_dir"`

	// FailedDir receives files the server rejected, next to a .error.json
	// with the response. Defaults to <watch_dir>/failed.
	FailedDir string `yaml:"failed_dir"`

	// BatchSize is the number of items per request. Reloadable.
	BatchSize int `yaml:"batch_size"`

	// BufferSize bounds files queued for shipping.
	BufferSize int `yaml:"buffer_size"`

	// SendTimeout bounds a single HTTP attempt.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// MaxElapsed bounds retries of one batch before the file is left in
	// place for the next scan. Zero retries forever.
	MaxElapsed time.Duration `yaml:"max_elapsed"`

	// SettleDelay is how long a file must be quiet before it is read.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// Source labels items that carry no source of their own. Reloadable.
	Source string `yaml:"source"`

	// Technician is sent as X-Actor when the server runs without auth.
	Technician string `yaml:"technician"`

	// ServerAuth configures how the agent authenticates to fieldgrid-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode toward the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key. Defaults to X-API-Key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds a bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the API key header name.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &cfg.Agent
	if a.ArchiveDir == "" {
		a.ArchiveDir = filepath.Join(a.WatchDir, "done")
	}
	if a.FailedDir == "" {
		a.FailedDir = filepath.Join(a.WatchDir, "failed")
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			BatchSize:   DefaultBatchSize,
			BufferSize:  DefaultBufferSize,
			SendTimeout: DefaultSendTimeout,
			MaxElapsed:  DefaultMaxElapsed,
			SettleDelay: DefaultSettleDelay,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Endpoint == "" {
		return fmt.Errorf("agent.endpoint is required")
	}
	u, err := url.Parse(a.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.endpoint %q must be an http(s) URL", a.Endpoint)
	}
	if a.ProjectID == "" {
		return fmt.Errorf("agent.project_id is required")
	}
	if a.WatchDir == "" {
		return fmt.Errorf("agent.watch_dir is required")
	}
	if a.BatchSize <= 0 || a.BatchSize > MaxBatchSize {
		return fmt.Errorf("agent.batch_size %d is out of range [1, %d]", a.BatchSize, MaxBatchSize)
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("agent.send_timeout must be positive")
	}
	if a.MaxElapsed < 0 || a.SettleDelay < 0 {
		return fmt.Errorf("agent.max_elapsed and agent.settle_delay must not be negative")
	}
	switch a.ServerAuth.Mode {
	case "mtls":
		if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: cert_file and key_file are required for mtls")
		}
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	return nil
}
