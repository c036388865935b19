// Package config holds the flow bridge runtime configuration and its layered
// loader (defaults, JSON or YAML file layers, then environment overrides).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store backends
const (
	StoreMemory = "memory" // in-process maps, optionally seeded from a file
	StoreNATS   = "nats"   // NATS JetStream KV buckets
)

// Audit sink kinds
const (
	AuditLog  = "log"
	AuditNATS = "nats"
	AuditBoth = "both"
)

// Config represents the complete application configuration
type Config struct {
	Version   string          `json:"version,omitempty"`
	Engine    EngineConfig    `json:"engine"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Audit     AuditConfig     `json:"audit"`
	Evaluator EvaluatorConfig `json:"evaluator"`
	Stores    StoresConfig    `json:"stores"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Seed      SeedConfig      `json:"seed"`
	Lookup    LookupConfig    `json:"lookup"`
}

// EngineConfig controls flow execution and the orchestration worker pool.
type EngineConfig struct {
	Workers          int      `json:"workers"`
	QueueSize        int      `json:"queue_size"`
	AllowDraft       bool     `json:"allow_draft"`
	RunTimeout       Duration `json:"run_timeout"`
	HistoryRetention Duration `json:"history_retention"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// URL returns the comma-joined server list understood by nats.Connect.
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// AuditConfig selects where execution audit entries go.
type AuditConfig struct {
	Sink       string `json:"sink"`
	Subject    string `json:"subject"`
	BufferSize int    `json:"buffer_size"`
}

// EvaluatorConfig bounds custom function evaluation.
type EvaluatorConfig struct {
	Timeout   Duration `json:"timeout"`
	MaxNodes  uint     `json:"max_nodes"`
	CacheSize int      `json:"cache_size"`
}

// StoresConfig selects the definition store backend.
type StoresConfig struct {
	Backend   string   `json:"backend"`
	KVTimeout Duration `json:"kv_timeout"`
	History   int      `json:"history"`
	Replicas  int      `json:"replicas,omitempty"`
}

// SchedulerConfig controls cron-triggered flow execution.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Location string `json:"location,omitempty"`
}

// SeedConfig points at a definitions bundle loaded on startup.
type SeedConfig struct {
	Path string `json:"path,omitempty"`
}

// LookupConfig configures enrichment lookup providers.
type LookupConfig struct {
	Redis  *RedisConfig                 `json:"redis,omitempty"`
	Static map[string]map[string]string `json:"static,omitempty"`
}

// RedisConfig is the connection for the redis lookup provider.
type RedisConfig struct {
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Engine.Workers <= 0 {
		return errors.New("engine.workers must be positive")
	}
	if c.Engine.QueueSize <= 0 {
		return errors.New("engine.queue_size must be positive")
	}

	switch c.Stores.Backend {
	case StoreMemory:
	case StoreNATS:
		if len(c.NATS.URLs) == 0 {
			return errors.New("nats.urls is required when stores.backend is nats")
		}
	default:
		return fmt.Errorf("stores.backend %q is not one of memory, nats", c.Stores.Backend)
	}

	switch c.Audit.Sink {
	case AuditLog:
	case AuditNATS, AuditBoth:
		if c.Audit.Subject == "" {
			return errors.New("audit.subject is required for the nats audit sink")
		}
		if len(c.NATS.URLs) == 0 {
			return errors.New("nats.urls is required for the nats audit sink")
		}
	default:
		return fmt.Errorf("audit.sink %q is not one of log, nats, both", c.Audit.Sink)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}

	if c.Evaluator.Timeout.Duration() <= 0 {
		return errors.New("evaluator.timeout must be positive")
	}

	if c.Lookup.Redis != nil && c.Lookup.Redis.Addr == "" {
		return errors.New("lookup.redis.addr is required when redis lookup is configured")
	}

	if c.Scheduler.Location != "" {
		if _, err := time.LoadLocation(c.Scheduler.Location); err != nil {
			return fmt.Errorf("scheduler.location: %w", err)
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	if masked.Lookup.Redis != nil && masked.Lookup.Redis.Password != "" {
		masked.Lookup.Redis.Password = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Duration is a time.Duration that reads "5s"/"14d" strings or nanosecond
// numbers and writes strings.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := parseDurationWithDays(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
