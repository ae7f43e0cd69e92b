package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskflow/taskflow/internal/remote"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sync.MinInterval != 30*time.Second {
		t.Errorf("Sync.MinInterval = %v, want 30s", cfg.Sync.MinInterval)
	}
	if cfg.Sync.PostPublishDelay != 500*time.Millisecond {
		t.Errorf("Sync.PostPublishDelay = %v, want 500ms", cfg.Sync.PostPublishDelay)
	}
	if cfg.Remote.Backend != remote.BackendMemory {
		t.Errorf("Remote.Backend = %q, want memory", cfg.Remote.Backend)
	}
	if cfg.Network.Mode != NetworkProbe {
		t.Errorf("Network.Mode = %q, want probe", cfg.Network.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestDefaultDataDir_HomeEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	if got := DefaultDataDir(); got != dir {
		t.Errorf("DefaultDataDir() = %q, want %q", got, dir)
	}
	if got := DefaultPath(); got != filepath.Join(dir, FileName) {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Local.Path != filepath.Join(dir, "tasks.db") {
		t.Errorf("Local.Path = %q", cfg.Local.Path)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail for a missing explicit config file")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: ` + dir + `
log:
  level: debug
  format: json
remote:
  backend: postgres
  postgres:
    dsn: postgres://localhost/taskflow
network:
  mode: offline
sync:
  min_interval: 45s
  concurrency: 8
dashboard:
  enabled: true
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Remote.Backend != remote.BackendPostgres || cfg.Remote.Postgres.DSN != "postgres://localhost/taskflow" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Remote.Postgres.ConnectTimeout != 5*time.Second {
		t.Errorf("unset key lost its default: ConnectTimeout = %v", cfg.Remote.Postgres.ConnectTimeout)
	}
	if cfg.Network.Mode != NetworkOffline {
		t.Errorf("Network.Mode = %q", cfg.Network.Mode)
	}
	if cfg.Sync.MinInterval != 45*time.Second || cfg.Sync.Concurrency != 8 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.CallTimeout != 10*time.Second {
		t.Errorf("Sync.CallTimeout = %v, want default 10s", cfg.Sync.CallTimeout)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	t.Setenv("TASKFLOW_SYNC_MIN_INTERVAL", "2m")
	t.Setenv("TASKFLOW_NETWORK_MODE", "online")
	t.Setenv("TASKFLOW_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.MinInterval != 2*time.Minute {
		t.Errorf("Sync.MinInterval = %v, want 2m", cfg.Sync.MinInterval)
	}
	if cfg.Network.Mode != NetworkOnline {
		t.Errorf("Network.Mode = %q, want online", cfg.Network.Mode)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Remote.Backend = "dynamo" }, wantErr: "remote.backend"},
		{name: "firestore without project", mutate: func(c *Config) { c.Remote.Backend = remote.BackendFirestore }, wantErr: "project_id"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Remote.Backend = remote.BackendPostgres }, wantErr: "dsn"},
		{name: "bad network mode", mutate: func(c *Config) { c.Network.Mode = "sometimes" }, wantErr: "network.mode"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Sync.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "port out of range", mutate: func(c *Config) { c.Dashboard.Port = 70000 }, wantErr: "dashboard.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_UnknownBackendIsSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Backend = "dynamo"
	if err := cfg.Validate(); !errors.Is(err, remote.ErrUnknownBackend) {
		t.Errorf("Validate() = %v, want ErrUnknownBackend", err)
	}
}

func TestWriteDefault_Loads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	path := filepath.Join(dir, "sub", FileName)
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of the starter config failed: %v", err)
	}
	if cfg.Sync.MinInterval != 30*time.Second {
		t.Errorf("Sync.MinInterval = %v", cfg.Sync.MinInterval)
	}
}
