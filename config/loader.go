package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOWBRIDGE"

// Defaults returns the built-in configuration every load starts from.
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:          4,
			QueueSize:        64,
			RunTimeout:       Duration(5 * time.Minute),
			HistoryRetention: Duration(24 * time.Hour),
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Audit: AuditConfig{
			Sink:       AuditLog,
			Subject:    "flowbridge.audit",
			BufferSize: 1024,
		},
		Evaluator: EvaluatorConfig{
			Timeout:   Duration(2 * time.Second),
			MaxNodes:  2000,
			CacheSize: 256,
		},
		Stores: StoresConfig{
			Backend:   StoreMemory,
			KVTimeout: Duration(5 * time.Second),
			History:   5,
		},
		Scheduler: SchedulerConfig{Enabled: true},
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer; later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode merged config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads one layer as a generic map. YAML is chosen by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val := l.getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", false, err
	}
	return val, val != "", nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if val, ok, err := l.env("NATS_URL"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok, err := l.env("NATS_USERNAME"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Username = val
	}
	if val, ok, err := l.env("NATS_PASSWORD"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Password = val
	}
	if val, ok, err := l.env("STORE"); err != nil {
		return err
	} else if ok {
		cfg.Stores.Backend = val
	}
	if val, ok, err := l.env("SEED"); err != nil {
		return err
	} else if ok {
		cfg.Seed.Path = val
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"WORKERS", &cfg.Engine.Workers},
		{"QUEUE_SIZE", &cfg.Engine.QueueSize},
		{"METRICS_PORT", &cfg.Metrics.Port},
	}
	for _, item := range ints {
		val, ok, err := l.env(item.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, item.name, err)
		}
		*item.target = n
	}

	if val, ok, err := l.env("FUNCTION_TIMEOUT"); err != nil {
		return err
	} else if ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return fmt.Errorf("%s_FUNCTION_TIMEOUT: %w", l.envPrefix, err)
		}
		cfg.Evaluator.Timeout = Duration(d)
	}
	return nil
}
