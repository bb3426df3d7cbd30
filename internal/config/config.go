// Package config loads the runtime's TOML configuration surface (spec §6.6).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Runtime is the top-level configuration structure: a nested,
// TOML-tagged struct with one block per component.
type Runtime struct {
	Logging  LoggingConfig           `toml:"logging"`
	Queue    QueueConfig             `toml:"queue"`
	Session  SessionConfig           `toml:"session"`
	Breaker  BreakerConfig           `toml:"circuit_breaker"`
	RateLimit RateLimitConfig        `toml:"rate_limit"`
	Deadlines DeadlineConfig         `toml:"deadlines"`
	Router   RouterConfig            `toml:"router"`
	Storage  StorageConfig           `toml:"storage"`
	Backends []BackendDecl           `toml:"backends"`
	Agents   []AgentDecl             `toml:"agents"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console, json
}

// QueueConfig governs the Task Queue (spec §4.2, §6.6: "queue capacity per
// band default 1024").
type QueueConfig struct {
	CapacityPerBand int `toml:"capacity_per_band"`
}

// SessionConfig governs the Session Hub (spec §4.4, §6.6: "session mailbox
// size default 256").
type SessionConfig struct {
	MailboxSize int `toml:"mailbox_size"`
	ListenAddr  string `toml:"listen_addr"`
}

// BreakerConfig mirrors spec §4.5's circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int     `toml:"failure_threshold"`
	SuccessThreshold int     `toml:"success_threshold"`
	Window           int     `toml:"window"`
	MinSamples       int     `toml:"min_samples"`
	FailureRate      float64 `toml:"failure_rate"`
	CooldownSeconds  int     `toml:"cooldown_seconds"`
}

// RateLimitConfig mirrors spec §4.5's token bucket defaults.
type RateLimitConfig struct {
	Capacity   int     `toml:"capacity"`
	RefillRate float64 `toml:"refill_rate"`
}

// DeadlineConfig mirrors spec §6.6's default task/collab deadlines.
type DeadlineConfig struct {
	DefaultTaskSeconds   int `toml:"default_task_seconds"`
	DefaultCollabSeconds int `toml:"default_collab_seconds"`
}

// RouterConfig mirrors spec §4.1's Model Router tuning knobs.
type RouterConfig struct {
	MaxAttempts          int `toml:"max_attempts"`
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	DegradeAfter         int `toml:"degrade_after"`
	DownAfter            int `toml:"down_after"`
	HealthyAfterProbes   int `toml:"healthy_after_probes"`
	DownRecoverySeconds  int `toml:"down_recovery_seconds"`
}

// StorageConfig selects the backing core.Storage implementation.
type StorageConfig struct {
	PostgresDSN     string `toml:"postgres_dsn"` // empty = NoopStorage
	ResultCapacity  int    `toml:"result_capacity"`
	ResultTTLSeconds int   `toml:"result_ttl_seconds"`
}

// BackendDecl declares one Backend (spec §3 Backend).
type BackendDecl struct {
	ID            string   `toml:"id"`
	Tier          string   `toml:"tier"` // LOCAL, REMOTE
	Capabilities  []string `toml:"capabilities"`
	UnitCost      float64  `toml:"unit_cost"`
	MaxConcurrent int      `toml:"max_concurrent"`
	Priority      int      `toml:"priority"`
	Endpoint      string   `toml:"endpoint"`   // REMOTE only
	Deployment    string   `toml:"deployment"` // REMOTE only
	APIKeySecret  string   `toml:"api_key_secret"`
}

// AgentDecl declares one Agent (spec §3 Agent).
type AgentDecl struct {
	ID                         string   `toml:"id"`
	DisplayName                string   `toml:"display_name"`
	Capabilities               []string `toml:"capabilities"`
	MaxConcurrentTasks         int      `toml:"max_concurrent_tasks"`
	PreferredBackendCapability string   `toml:"preferred_backend_capability"`
	SystemPreamble             string   `toml:"system_preamble"`
}

// Load reads and parses a TOML configuration file at path, applying the
// defaults named throughout spec §6.6.
func Load(path string) (*Runtime, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	var cfg Runtime
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML configuration: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Runtime) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Queue.CapacityPerBand == 0 {
		cfg.Queue.CapacityPerBand = 1024
	}
	if cfg.Session.MailboxSize == 0 {
		cfg.Session.MailboxSize = 256
	}
	if cfg.Session.ListenAddr == "" {
		cfg.Session.ListenAddr = ":8080"
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.Window == 0 {
		cfg.Breaker.Window = 20
	}
	if cfg.Breaker.MinSamples == 0 {
		cfg.Breaker.MinSamples = 10
	}
	if cfg.Breaker.FailureRate == 0 {
		cfg.Breaker.FailureRate = 0.5
	}
	if cfg.Breaker.CooldownSeconds == 0 {
		cfg.Breaker.CooldownSeconds = 30
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 60
	}
	if cfg.RateLimit.RefillRate == 0 {
		cfg.RateLimit.RefillRate = 1
	}
	if cfg.Deadlines.DefaultTaskSeconds == 0 {
		cfg.Deadlines.DefaultTaskSeconds = 60
	}
	if cfg.Deadlines.DefaultCollabSeconds == 0 {
		cfg.Deadlines.DefaultCollabSeconds = 180
	}
	if cfg.Router.MaxAttempts == 0 {
		cfg.Router.MaxAttempts = 3
	}
	if cfg.Router.ProbeIntervalSeconds == 0 {
		cfg.Router.ProbeIntervalSeconds = 30
	}
	if cfg.Router.DegradeAfter == 0 {
		cfg.Router.DegradeAfter = 3
	}
	if cfg.Router.DownAfter == 0 {
		cfg.Router.DownAfter = 5
	}
	if cfg.Router.HealthyAfterProbes == 0 {
		cfg.Router.HealthyAfterProbes = 2
	}
	if cfg.Router.DownRecoverySeconds == 0 {
		cfg.Router.DownRecoverySeconds = 60
	}
	if cfg.Storage.ResultCapacity == 0 {
		cfg.Storage.ResultCapacity = 4096
	}
	if cfg.Storage.ResultTTLSeconds == 0 {
		cfg.Storage.ResultTTLSeconds = 300
	}
}

// DefaultTaskDeadline returns the configured default as a time.Duration.
func (c *Runtime) DefaultTaskDeadline() time.Duration {
	return time.Duration(c.Deadlines.DefaultTaskSeconds) * time.Second
}

// DefaultCollabDeadline returns the configured default as a time.Duration.
func (c *Runtime) DefaultCollabDeadline() time.Duration {
	return time.Duration(c.Deadlines.DefaultCollabSeconds) * time.Second
}

// ResultTTL returns the configured Result Store TTL as a time.Duration.
func (c *Runtime) ResultTTL() time.Duration {
	return time.Duration(c.Storage.ResultTTLSeconds) * time.Second
}
