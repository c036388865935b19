package adapter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// RetryPolicy is the adapter-level retry section shared by FTP, SFTP, REST
// and the other network adapters. Retries never happen in the engine.
type RetryPolicy struct {
	MaxAttempts  int             `json:"max_attempts,omitempty"`
	InitialDelay config.Duration `json:"initial_delay,omitempty"`
	MaxDelay     config.Duration `json:"max_delay,omitempty"`
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 || p.MaxAttempts > 20 {
		return errors.New("retry.max_attempts must be between 0 and 20")
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays cannot be negative")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return errors.New("retry.max_delay must be >= retry.initial_delay")
	}
	return nil
}

// RetryConfig converts the policy, filling unset fields from retry.DefaultConfig.
func (p RetryPolicy) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	if p.MaxAttempts > 0 {
		cfg.MaxAttempts = p.MaxAttempts
	}
	if p.InitialDelay > 0 {
		cfg.InitialDelay = p.InitialDelay.Duration()
	}
	if p.MaxDelay > 0 {
		cfg.MaxDelay = p.MaxDelay.Duration()
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return cfg
}

// BreakerSettings configures a circuit breaker around outbound calls.
type BreakerSettings struct {
	Enabled     bool            `json:"enabled"`
	MaxFailures uint32          `json:"max_failures,omitempty"`
	OpenTimeout config.Duration `json:"open_timeout,omitempty"`
}

// Failures returns the consecutive failure threshold, default 5.
func (b BreakerSettings) Failures() uint32 {
	if b.MaxFailures == 0 {
		return 5
	}
	return b.MaxFailures
}

// Timeout returns how long the breaker stays open, default 30s.
func (b BreakerSettings) Timeout() time.Duration {
	if b.OpenTimeout <= 0 {
		return 30 * time.Second
	}
	return b.OpenTimeout.Duration()
}

// Credentials are optional basic credentials.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// HasBasicAuth reports whether a username is set.
func (c Credentials) HasBasicAuth() bool { return c.Username != "" }

// TimeoutOr returns d, or def when d is unset.
func TimeoutOr(d config.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d.Duration()
}

// Conversion holds the converter settings an adapter config may carry:
// the root element for payloads without one and the wire format written
// to file-like targets (xml, json or csv).
type Conversion struct {
	Root   string `json:"root_element,omitempty"`
	Format string `json:"output_format,omitempty"`
}

// RootElement returns the configured root element name
func (c Conversion) RootElement() string { return c.Root }

// OutputFormat returns the configured output format
func (c Conversion) OutputFormat() string { return c.Format }

// Validate checks the output format is known
func (c Conversion) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "xml", "json", "csv":
		return nil
	}
	return fmt.Errorf("unknown output_format %q", c.Format)
}
