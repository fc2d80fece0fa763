// Package config provides configuration loading for opsboard clients.
//
// Supports TOML configuration files with sensible defaults and environment
// variable overrides. The session and polling timings are deliberately
// configuration values, not constants: their tuning is a product decision.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config represents the complete client configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Session SessionConfig `toml:"session"`
	Poll    PollConfig    `toml:"poll"`
}

// APIConfig contains API endpoint configuration.
type APIConfig struct {
	// BaseURL is the OpsBoard API base URL
	BaseURL string `toml:"base_url"`
	// TimeoutSecs is the HTTP client timeout in seconds
	TimeoutSecs int `toml:"timeout_secs"`
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	// IdleTimeoutSecs is the inactivity window before auto-logout
	IdleTimeoutSecs int `toml:"idle_timeout_secs"`
	// ExpirySkewSecs is the safety buffer applied to token expiry checks
	ExpirySkewSecs int `toml:"expiry_skew_secs"`
	// StatePath is where the durable session scope is persisted
	// (empty = ~/.opsboard/session.json)
	StatePath string `toml:"state_path"`
}

// PollConfig contains adaptive polling configuration.
type PollConfig struct {
	// BaseIntervalSecs is the polling interval after a successful cycle
	BaseIntervalSecs int `toml:"base_interval_secs"`
	// MaxIntervalSecs caps the backoff interval under repeated failure
	MaxIntervalSecs int `toml:"max_interval_secs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			TimeoutSecs: 30,
		},
		Session: SessionConfig{
			IdleTimeoutSecs: 15 * 60,
			ExpirySkewSecs:  60,
		},
		Poll: PollConfig{
			BaseIntervalSecs: 30,
			MaxIntervalSecs:  5 * 60,
		},
	}
}

// Load reads configuration from path, layered over the defaults and under
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				return nil, errors.Wrapf(err, "failed to load config %s", path)
			}
		}
	}

	if v := os.Getenv("OPSBOARD_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("OPSBOARD_STATE_PATH"); v != "" {
		cfg.Session.StatePath = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Session.IdleTimeoutSecs <= 0 {
		return errors.New("session.idle_timeout_secs must be positive")
	}
	if c.Session.ExpirySkewSecs < 0 {
		return errors.New("session.expiry_skew_secs must not be negative")
	}
	if c.Poll.BaseIntervalSecs <= 0 {
		return errors.New("poll.base_interval_secs must be positive")
	}
	if c.Poll.MaxIntervalSecs < c.Poll.BaseIntervalSecs {
		return errors.New("poll.max_interval_secs must be at least poll.base_interval_secs")
	}
	return nil
}

// Timeout returns the HTTP client timeout.
func (c *APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// IdleTimeout returns the inactivity window before auto-logout.
func (c *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// ExpirySkew returns the token expiry safety buffer.
func (c *SessionConfig) ExpirySkew() time.Duration {
	return time.Duration(c.ExpirySkewSecs) * time.Second
}

// ResolveStatePath returns the durable session state path, defaulting to
// ~/.opsboard/session.json when unset.
func (c *SessionConfig) ResolveStatePath() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(home, ".opsboard", "session.json")
}

// BaseInterval returns the polling base interval.
func (c *PollConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalSecs) * time.Second
}

// MaxInterval returns the polling backoff ceiling.
func (c *PollConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalSecs) * time.Second
}
