// Package config loads taskflow settings from a YAML file and TASKFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskflow/taskflow/internal/account"
	"github.com/taskflow/taskflow/internal/localdb"
	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/remote"
)

// EnvPrefix prefixes every environment override, e.g.
// TASKFLOW_SYNC_MIN_INTERVAL=45s.
const EnvPrefix = "TASKFLOW"

// HomeEnv overrides the data directory and the default config location.
const HomeEnv = "TASKFLOW_HOME"

// FileName is the config file looked up in the data directory.
const FileName = "config.yaml"

// Network modes.
const (
	NetworkProbe   = "probe"
	NetworkOnline  = "online"
	NetworkOffline = "offline"
)

// Config is the full taskflow configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Log       logging.Config  `mapstructure:"log"`
	Local     LocalConfig     `mapstructure:"local"`
	Remote    remote.Config   `mapstructure:"remote"`
	Network   NetworkConfig   `mapstructure:"network"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// LocalConfig configures the local task database.
type LocalConfig struct {
	Driver string `mapstructure:"driver"`
	// Path defaults to <data_dir>/tasks.db.
	Path string `mapstructure:"path"`
}

// NetworkConfig configures the availability oracle.
type NetworkConfig struct {
	// Mode is probe, online or offline.
	Mode          string        `mapstructure:"mode"`
	ProbeAddress  string        `mapstructure:"probe_address"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// SyncConfig tunes the scheduler, the orchestrator and the daemon triggers.
type SyncConfig struct {
	MinInterval      time.Duration `mapstructure:"min_interval"`
	PostPublishDelay time.Duration `mapstructure:"post_publish_delay"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	Concurrency      int           `mapstructure:"concurrency"`
	// ResumeInterval is how often the daemon issues a forced sync.
	ResumeInterval time.Duration `mapstructure:"resume_interval"`
	// Debounce coalesces bursts of local database changes.
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig configures the daemon's status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log:     logging.DefaultConfig(),
		Local: LocalConfig{
			Driver: localdb.DriverSQLite,
		},
		Remote: remote.Config{
			Backend: remote.BackendMemory,
			Postgres: remote.PostgresConfig{
				ConnectTimeout: 5 * time.Second,
			},
		},
		Network: NetworkConfig{
			Mode:          NetworkProbe,
			ProbeAddress:  "1.1.1.1:53",
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Sync: SyncConfig{
			MinInterval:      30 * time.Second,
			PostPublishDelay: 500 * time.Millisecond,
			CallTimeout:      10 * time.Second,
			Concurrency:      4,
			ResumeInterval:   5 * time.Minute,
			Debounce:         250 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
	}
}

// DefaultDataDir is $TASKFLOW_HOME, else ~/.taskflow, else ./.taskflow.
func DefaultDataDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskflow"
	}
	return filepath.Join(home, ".taskflow")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), FileName)
}

// Load reads path (or DefaultPath when empty) over the defaults and applies
// environment overrides. A missing default file is not an error; a missing
// explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case explicit:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Local.Path == "" {
		cfg.Local.Path = filepath.Join(cfg.DataDir, "tasks.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("local.driver", d.Local.Driver)
	v.SetDefault("local.path", d.Local.Path)

	v.SetDefault("remote.backend", d.Remote.Backend)
	v.SetDefault("remote.firestore.project_id", d.Remote.Firestore.ProjectID)
	v.SetDefault("remote.firestore.credentials_file", d.Remote.Firestore.CredentialsFile)
	v.SetDefault("remote.firestore.access_token", d.Remote.Firestore.AccessToken)
	v.SetDefault("remote.postgres.dsn", d.Remote.Postgres.DSN)
	v.SetDefault("remote.postgres.connect_timeout", d.Remote.Postgres.ConnectTimeout)

	v.SetDefault("network.mode", d.Network.Mode)
	v.SetDefault("network.probe_address", d.Network.ProbeAddress)
	v.SetDefault("network.probe_interval", d.Network.ProbeInterval)
	v.SetDefault("network.probe_timeout", d.Network.ProbeTimeout)

	v.SetDefault("sync.min_interval", d.Sync.MinInterval)
	v.SetDefault("sync.post_publish_delay", d.Sync.PostPublishDelay)
	v.SetDefault("sync.call_timeout", d.Sync.CallTimeout)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.resume_interval", d.Sync.ResumeInterval)
	v.SetDefault("sync.debounce", d.Sync.Debounce)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	switch c.Remote.Backend {
	case remote.BackendMemory, remote.BackendFirestore, remote.BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("remote.backend %q: %w", c.Remote.Backend, remote.ErrUnknownBackend))
	}
	if c.Remote.Backend == remote.BackendFirestore && c.Remote.Firestore.ProjectID == "" {
		errs = append(errs, errors.New("remote.firestore.project_id is required"))
	}
	if c.Remote.Backend == remote.BackendPostgres && c.Remote.Postgres.DSN == "" {
		errs = append(errs, errors.New("remote.postgres.dsn is required"))
	}
	switch c.Network.Mode {
	case NetworkProbe, NetworkOnline, NetworkOffline:
	default:
		errs = append(errs, fmt.Errorf("network.mode %q: want probe, online or offline", c.Network.Mode))
	}
	if c.Sync.MinInterval < 0 {
		errs = append(errs, errors.New("sync.min_interval is negative"))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("sync.concurrency must be at least 1"))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SessionPath is where the account session is recorded.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, account.SessionFileName)
}

// WriteDefault writes a commented starter config to path.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := `# taskflow configuration
# Every key can be overridden with TASKFLOW_<SECTION>_<KEY>, e.g.
# TASKFLOW_SYNC_MIN_INTERVAL=45s

log:
  level: info      # debug, info, warn, error
  format: text     # text or json
  # file: ~/.taskflow/taskflow.log

local:
  driver: sqlite3  # sqlite3, or libsql when built with -tags libsql

remote:
  backend: memory  # memory, firestore or postgres
  # firestore:
  #   project_id: my-project
  #   credentials_file: ~/.config/taskflow/service-account.json
  # postgres:
  #   dsn: postgres://taskflow@localhost:5432/taskflow

network:
  mode: probe      # probe, online or offline
  probe_address: 1.1.1.1:53
  probe_interval: 15s

sync:
  min_interval: 30s
  post_publish_delay: 500ms
  call_timeout: 10s
  concurrency: 4
  resume_interval: 5m

dashboard:
  enabled: false
  port: 8080
`
	return os.WriteFile(path, []byte(content), 0o644)
}
