package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules" validate:"dive"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// AlertRule defines one threshold-based alert condition evaluated per student.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name" validate:"required"`

	// Condition is a simple expression: "risk_level == critical",
	// "attendance_pct < 60", "avg_score_pct < 40".
	Condition string `yaml:"condition" validate:"required"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity" validate:"omitempty,oneof=critical warning info"`

	// Cooldown suppresses re-fires for the same student for this duration.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type" validate:"oneof=teams slack http"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env" validate:"required"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultSnapshotTTL       = 24 * time.Hour
	DefaultDashboardInterval = 5 * time.Second
	DefaultCacheTTL          = 24 * time.Hour
	DefaultLogLevel          = "info"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `worker:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the report receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port" validate:"gte=1,lte=65535"`

	// HTTPPort is the port the REST API, metrics and WebSocket hub listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port" validate:"gte=1,lte=65535,nefield=GRPCPort"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Auth configures how the server authenticates incoming gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Snapshot controls in-memory report retention.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Dashboard controls the WebSocket broadcast.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Cache configures the optional shared rank-list cache.
	Cache CacheConfig `yaml:"cache"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=apikey none"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env" validate:"required_if=Mode apikey"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SnapshotConfig controls in-memory report retention.
type SnapshotConfig struct {
	// TTL is how long a tenant's latest report stays live without a newer one.
	// Default: 24h.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// DashboardConfig controls the WebSocket hub.
type DashboardConfig struct {
	// Interval between broadcasts. Default: 5s.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// CacheConfig locates the redis rank-list cache. An empty Addr disables it.
type CacheConfig struct {
	Addr        string        `yaml:"addr" validate:"omitempty,hostname_port"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db" validate:"gte=0"`
	TTL         time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Enabled reports whether a cache address is configured.
func (c CacheConfig) Enabled() bool { return c.Addr != "" }

// Password returns the cache password resolved from the environment.
func (c CacheConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Snapshot: SnapshotConfig{
				TTL: DefaultSnapshotTTL,
			},
			Dashboard: DashboardConfig{
				Interval: DefaultDashboardInterval,
			},
			Cache: CacheConfig{
				TTL: DefaultCacheTTL,
			},
		},
	}
}

// check runs struct-tag validation plus the rules tags cannot express.
func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	seen := make(map[string]bool, len(cfg.Server.Alerts.Rules))
	for i, r := range cfg.Server.Alerts.Rules {
		if seen[r.Name] {
			return fmt.Errorf("server.alerts.rules[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
