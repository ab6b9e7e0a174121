package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/markbook/markbook/pkg/risk"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSchedule    = "@every 5m"
	DefaultParallelism = 4
	DefaultBufferSize  = 100
	DefaultDSNEnv      = "MARKBOOK_DATABASE_URL"
	DefaultMaxConns    = 4
	DefaultAuthHeader  = "x-api-key"
	DefaultLogLevel    = "info"
)

// Config is the top-level worker configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Worker WorkerConfig `yaml:"worker"`
}

// WorkerConfig holds all worker-side settings.
type WorkerConfig struct {
	// ServerEndpoint is the gRPC address of markbook-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint" validate:"required,hostname_port"`

	// Schedule is a cron spec for aggregation passes, e.g. "@every 5m" or
	// "0 2 * * *".
	Schedule string `yaml:"schedule" validate:"required"`

	// Parallelism bounds how many exam×subject groups are ranked at once.
	Parallelism int `yaml:"parallelism" validate:"gte=1,lte=256"`

	// BufferSize is the maximum number of reports held in memory when the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size" validate:"gte=1"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Database DatabaseConfig `yaml:"database"`

	// ServerAuth configures how the worker authenticates to markbook-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Tenants []Tenant `yaml:"tenants" validate:"dive"`
}

// DatabaseConfig locates the records database.
type DatabaseConfig struct {
	// DSNEnv names the environment variable holding the PostgreSQL URL.
	DSNEnv   string `yaml:"dsn_env" validate:"required"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=1"`
}

// DSN returns the connection string resolved from the environment.
func (d DatabaseConfig) DSN() string {
	if d.DSNEnv == "" {
		return ""
	}
	return os.Getenv(d.DSNEnv)
}

// AuthConfig specifies how the worker authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=mtls apikey none"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file" validate:"required_if=Mode mtls"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Mode mtls"`
	CAFile   string `yaml:"ca_file"`

	// Header is the gRPC metadata key carrying the API key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env" validate:"required_if=Mode apikey"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Tenant is one institute processed on every pass.
type Tenant struct {
	ID           string      `yaml:"id" validate:"required"`
	AcademicYear string      `yaml:"academic_year"`
	Scope        ScopeConfig `yaml:"scope"`

	// AttendanceFrom and AttendanceTo bound the attendance window by date.
	// Zero values leave that side open.
	AttendanceFrom time.Time `yaml:"attendance_from"`
	AttendanceTo   time.Time `yaml:"attendance_to"`

	// Risk overrides the default risk thresholds for this tenant.
	Risk *risk.Thresholds `yaml:"risk"`
}

// Thresholds returns the tenant's risk thresholds, or the defaults.
func (t Tenant) Thresholds() risk.Thresholds {
	if t.Risk == nil {
		return risk.Default()
	}
	return *t.Risk
}

// ScopeConfig selects which records of a tenant a pass reads.
type ScopeConfig struct {
	// Kind is one of: all | class | student | teacher.
	Kind string `yaml:"kind" validate:"oneof=all class student teacher"`
	ID   string `yaml:"id" validate:"required_unless=Kind all"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Worker.Tenants {
		if cfg.Worker.Tenants[i].Scope.Kind == "" {
			cfg.Worker.Tenants[i].Scope.Kind = "all"
		}
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			Schedule:    DefaultSchedule,
			Parallelism: DefaultParallelism,
			BufferSize:  DefaultBufferSize,
			LogLevel:    DefaultLogLevel,
			Database: DatabaseConfig{
				DSNEnv:   DefaultDSNEnv,
				MaxConns: DefaultMaxConns,
			},
			ServerAuth: AuthConfig{Header: DefaultAuthHeader},
		},
	}
}

// check runs struct-tag validation plus the rules tags cannot express.
func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	w := cfg.Worker
	if _, err := cron.ParseStandard(w.Schedule); err != nil {
		return fmt.Errorf("worker.schedule %q: %w", w.Schedule, err)
	}
	seen := make(map[string]bool, len(w.Tenants))
	for i, t := range w.Tenants {
		if seen[t.ID] {
			return fmt.Errorf("tenants[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if !t.AttendanceFrom.IsZero() && !t.AttendanceTo.IsZero() && t.AttendanceTo.Before(t.AttendanceFrom) {
			return fmt.Errorf("tenants[%d] %q: attendance_to is before attendance_from", i, t.ID)
		}
		if err := t.Thresholds().Validate(); err != nil {
			return fmt.Errorf("tenants[%d] %q: risk: %w", i, t.ID, err)
		}
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (w WorkerConfig) Level() slog.Level {
	switch strings.ToLower(w.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
