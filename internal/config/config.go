// Package config loads and validates the YAML configuration for an
// imapwatch session: connection parameters, credentials, the mailbox to
// select, and the fetch filters to install once selected.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fenilsonani/imapwatch/internal/validation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for one imapwatch session.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	TLS       TLSConfig        `koanf:"tls"`
	Username  string           `koanf:"username"`
	Password  string           `koanf:"password"`
	Name      string           `koanf:"name"`
	Mailbox   string           `koanf:"mailbox"`
	Filters   []FilterConfig   `koanf:"filters"`
	Logging   LoggingConfig    `koanf:"logging"`
	StatusPub StatusPubConfig  `koanf:"statuspub"`
	Audit     AuditConfig      `koanf:"audit"`
	Idle      IdleConfig       `koanf:"idle"`
}

// ServerConfig holds the IMAP server address.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// TLSConfig controls how the connection is secured.
type TLSConfig struct {
	// Implicit wraps the socket in TLS before the greeting (port 993).
	// When false, STARTTLS is issued once CAPABILITY advertises it.
	Implicit bool `koanf:"implicit"`
	// SSLVerify disables certificate verification when false — intended
	// for lab/test servers only.
	SSLVerify bool `koanf:"ssl_verify"`
}

// FilterConfig configures one subscriber-side fetch filter (spec.md §3's
// Filter, constructed via session.FilterOption at startup).
type FilterConfig struct {
	FromContains    string   `koanf:"from_contains"`
	SubjectContains string   `koanf:"subject_contains"`
	Flags           []string `koanf:"flags"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Output    string `koanf:"output"`
	AddSource bool   `koanf:"add_source"`
}

// StatusPubConfig configures the optional Redis status mirror.
type StatusPubConfig struct {
	Enabled  bool   `koanf:"enabled"`
	RedisURL string `koanf:"redis_url"`
	Channel  string `koanf:"channel"`
}

// AuditConfig configures the in-memory session audit ledger.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
}

// IdleConfig controls the IDLE re-issue timer (spec.md §4.3).
type IdleConfig struct {
	RefreshInterval string `koanf:"refresh_interval"`
	CommandTimeout  string `koanf:"command_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 993,
		},
		TLS: TLSConfig{
			Implicit:  true,
			SSLVerify: true,
		},
		Name:    "imapwatch",
		Mailbox: "INBOX",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		StatusPub: StatusPubConfig{
			Enabled:  false,
			RedisURL: "redis://localhost:6379/0",
			Channel:  "imapwatch:status",
		},
		Audit: AuditConfig{
			Enabled: false,
		},
		Idle: IdleConfig{
			RefreshInterval: "27m",
			CommandTimeout:  "30s",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when path does not exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if err := validation.Domain(c.Server.Host); err != nil {
		return fmt.Errorf("server.host: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got: %d)", c.Server.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if err := validation.Username(c.Username); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.Mailbox == "" {
		return fmt.Errorf("mailbox is required")
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	if c.StatusPub.Enabled && c.StatusPub.RedisURL == "" {
		return fmt.Errorf("statuspub.redis_url is required when statuspub.enabled is true")
	}

	if err := c.validateIdle(); err != nil {
		return err
	}

	for i, f := range c.Filters {
		if f.FromContains == "" && f.SubjectContains == "" && len(f.Flags) == 0 {
			return fmt.Errorf("filters[%d] is empty: must set at least one of from_contains, subject_contains, flags", i)
		}
	}

	return nil
}

func (c *Config) validateIdle() error {
	timeouts := map[string]string{
		"idle.refresh_interval": c.Idle.RefreshInterval,
		"idle.command_timeout":  c.Idle.CommandTimeout,
	}
	for name, raw := range timeouts {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got: %s)", name, raw)
		}
	}
	return nil
}
