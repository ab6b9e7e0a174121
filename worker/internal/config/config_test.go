package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
worker:
  server_endpoint: "localhost:50051"
  schedule: "0 2 * * *"
  parallelism: 8
  buffer_size: 20
  log_level: debug
  database:
    dsn_env: SCHOOL_DB
    max_conns: 10
  tenants:
    - id: inst-1
      academic_year: "2025-26"
      scope:
        kind: class
        id: 7A
      attendance_from: 2025-04-01
      attendance_to: 2026-03-31
      risk:
        critical_attendance: 65
        critical_score: 35
        warning_attendance: 80
        warning_score: 50
`
	cfg := loadFromString(t, yaml)
	w := cfg.Worker

	if w.ServerEndpoint != "localhost:50051" {
		t.Errorf("server_endpoint: got %q", w.ServerEndpoint)
	}
	if w.Schedule != "0 2 * * *" {
		t.Errorf("schedule: got %q", w.Schedule)
	}
	if w.Parallelism != 8 || w.BufferSize != 20 {
		t.Errorf("parallelism/buffer: got %d/%d", w.Parallelism, w.BufferSize)
	}
	if w.Database.DSNEnv != "SCHOOL_DB" || w.Database.MaxConns != 10 {
		t.Errorf("database: got %+v", w.Database)
	}
	if len(w.Tenants) != 1 {
		t.Fatalf("tenants: got %d, want 1", len(w.Tenants))
	}
	tn := w.Tenants[0]
	if tn.Scope.Kind != "class" || tn.Scope.ID != "7A" {
		t.Errorf("scope: got %+v", tn.Scope)
	}
	if !tn.AttendanceFrom.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("attendance_from: got %v", tn.AttendanceFrom)
	}
	if th := tn.Thresholds(); th.CriticalAttendance != 65 || th.WarningAttendance != 80 {
		t.Errorf("risk: got %+v", th)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
worker:
  server_endpoint: "localhost:50051"
  tenants:
    - id: inst-1
`
	cfg := loadFromString(t, yaml)
	w := cfg.Worker

	if w.Schedule != DefaultSchedule {
		t.Errorf("default schedule: got %q, want %q", w.Schedule, DefaultSchedule)
	}
	if w.Parallelism != DefaultParallelism {
		t.Errorf("default parallelism: got %d, want %d", w.Parallelism, DefaultParallelism)
	}
	if w.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", w.BufferSize, DefaultBufferSize)
	}
	if w.Database.DSNEnv != DefaultDSNEnv {
		t.Errorf("default dsn_env: got %q", w.Database.DSNEnv)
	}
	if w.Tenants[0].Scope.Kind != "all" {
		t.Errorf("default scope kind: got %q", w.Tenants[0].Scope.Kind)
	}
	if th := w.Tenants[0].Thresholds(); th.CriticalAttendance != 60 || th.WarningScore != 50 {
		t.Errorf("default thresholds: got %+v", th)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing server endpoint", `
worker:
  tenants: [{id: a}]
`},
		{"bad schedule", `
worker:
  server_endpoint: "localhost:50051"
  schedule: "every now and then"
`},
		{"zero parallelism", `
worker:
  server_endpoint: "localhost:50051"
  parallelism: 0
`},
		{"unknown scope kind", `
worker:
  server_endpoint: "localhost:50051"
  tenants:
    - id: a
      scope: {kind: district, id: d1}
`},
		{"class scope without id", `
worker:
  server_endpoint: "localhost:50051"
  tenants:
    - id: a
      scope: {kind: class}
`},
		{"duplicate tenant", `
worker:
  server_endpoint: "localhost:50051"
  tenants: [{id: a}, {id: a}]
`},
		{"critical above warning", `
worker:
  server_endpoint: "localhost:50051"
  tenants:
    - id: a
      risk: {critical_attendance: 90, critical_score: 40, warning_attendance: 75, warning_score: 50}
`},
		{"inverted attendance window", `
worker:
  server_endpoint: "localhost:50051"
  tenants:
    - id: a
      attendance_from: 2025-06-01
      attendance_to: 2025-01-01
`},
		{"unknown auth mode", `
worker:
  server_endpoint: "localhost:50051"
  server_auth: {mode: magictoken}
`},
		{"apikey without key_env", `
worker:
  server_endpoint: "localhost:50051"
  server_auth: {mode: apikey}
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
	if got := (AuthConfig{Mode: "apikey"}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Setenv("TEST_DSN", "postgres://u:p@localhost/school")
	if got := (DatabaseConfig{DSNEnv: "TEST_DSN"}).DSN(); got != "postgres://u:p@localhost/school" {
		t.Errorf("DSN(): got %q", got)
	}
}

func TestWatch_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(parallelism string) {
		content := "worker:\n  server_endpoint: \"localhost:50051\"\n  parallelism: " + parallelism + "\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan int, 4)
	go Watch(ctx, path, func(c *Config) { got <- c.Worker.Parallelism }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("0") // invalid, must be ignored
	time.Sleep(400 * time.Millisecond)
	write("6")

	select {
	case p := <-got:
		if p != 6 {
			t.Errorf("reloaded parallelism: got %d, want 6", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
