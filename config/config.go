package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Invites    InviteConfig     `yaml:"invites"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                   int     `yaml:"port"`
	RateLimitPerSec        float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst         int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds        int     `yaml:"cache_ttl_seconds"`
	ShutdownTimeoutSeconds int     `yaml:"shutdown_timeout_seconds"`

	CacheTTL        time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// AuthConfig holds session signing and identity provider relay settings.
type AuthConfig struct {
	SessionSecret   string `yaml:"session_secret"`
	SessionTTLHours int    `yaml:"session_ttl_hours"`
	// IdentityRelaySecret authenticates the identity provider callback relay.
	IdentityRelaySecret string `yaml:"identity_relay_secret"`
	BcryptCost          int    `yaml:"bcrypt_cost"`

	SessionTTL time.Duration `yaml:"-"`
}

// InviteConfig holds invite issuance settings.
type InviteConfig struct {
	TTLHours int           `yaml:"ttl_hours"`
	TTL      time.Duration `yaml:"-"`
}

// IngestConfig holds telemetry ingestion settings.
type IngestConfig struct {
	MaxBatchRows         int     `yaml:"max_batch_rows"`
	MaxUploadBytes       int64   `yaml:"max_upload_bytes"`
	PlaceholderLatitude  float64 `yaml:"placeholder_latitude"`
	PlaceholderLongitude float64 `yaml:"placeholder_longitude"`
	LowBatteryVolts      float64 `yaml:"low_battery_volts"`
	RateLimitPerSec      float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst       int     `yaml:"rate_limit_burst"`
}

// LivenessConfig controls the offline sweeper.
type LivenessConfig struct {
	Enabled             bool `yaml:"enabled"`
	IntervalSeconds     int  `yaml:"interval_seconds"`
	OfflineAfterSeconds int  `yaml:"offline_after_seconds"`

	Interval     time.Duration `yaml:"-"`
	OfflineAfter time.Duration `yaml:"-"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DASHBOARD_SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("DASHBOARD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DASHBOARD_IDP_SECRET"); v != "" {
		cfg.Auth.IdentityRelaySecret = v
	}
}

// ApplyDefaults fills every unset value and derives the duration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 15
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cfg.Server.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Auth.SessionTTLHours <= 0 {
		cfg.Auth.SessionTTLHours = 24 * 7
	}
	cfg.Auth.SessionTTL = time.Duration(cfg.Auth.SessionTTLHours) * time.Hour
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = 10
	}

	if cfg.Invites.TTLHours <= 0 {
		cfg.Invites.TTLHours = 24 * 7
	}
	cfg.Invites.TTL = time.Duration(cfg.Invites.TTLHours) * time.Hour

	if cfg.Ingest.MaxBatchRows <= 0 {
		cfg.Ingest.MaxBatchRows = 5000
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		cfg.Ingest.MaxUploadBytes = 5 << 20
	}
	if cfg.Ingest.LowBatteryVolts <= 0 {
		cfg.Ingest.LowBatteryVolts = 3.3
	}
	if cfg.Ingest.RateLimitPerSec <= 0 {
		cfg.Ingest.RateLimitPerSec = 2
	}
	if cfg.Ingest.RateLimitBurst <= 0 {
		cfg.Ingest.RateLimitBurst = 10
	}

	if cfg.Liveness.IntervalSeconds <= 0 {
		cfg.Liveness.IntervalSeconds = 60
	}
	if cfg.Liveness.OfflineAfterSeconds <= 0 {
		cfg.Liveness.OfflineAfterSeconds = 30 * 60
	}
	cfg.Liveness.Interval = time.Duration(cfg.Liveness.IntervalSeconds) * time.Second
	cfg.Liveness.OfflineAfter = time.Duration(cfg.Liveness.OfflineAfterSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}

// Validate checks the settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret must be set")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	return nil
}
