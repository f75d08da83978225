// Package config loads the gateway configuration.
//
// DESIGN: One YAML file. ${VAR} and ${VAR:-default} references are expanded
// before parsing, the document is decoded over the defaults (so absent keys
// keep their default), then Validate rejects anything unusable. Secrets come
// from the environment, never from the file itself.
//
// FILES:
//   - config.go:      Config, Load, LoadFromBytes, Validate
//   - env.go:         ${VAR:-default} expansion
//   - defaults.go:    default values
//   - costcontrol.go: limit/pricing type aliases
//   - watcher.go:     hot reload of the limits section
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/realtime"
	"github.com/compresr/realtime-gateway/internal/session"
)

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Limits     CostLimits       `yaml:"limits"`
	Pricing    Pricing          `yaml:"pricing"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig configures the realtime API connection.
type UpstreamConfig struct {
	URL              string                 `yaml:"url"`
	APIKey           string                 `yaml:"api_key"`
	BetaHeader       string                 `yaml:"beta_header"`
	HandshakeTimeout time.Duration          `yaml:"handshake_timeout"`
	DialRetries      uint64                 `yaml:"dial_retries"`
	Session          realtime.SessionConfig `yaml:"session"`
}

// SessionsConfig configures session orchestration.
type SessionsConfig struct {
	CheckInterval           time.Duration `yaml:"check_interval"`
	DurationWarningFraction float64       `yaml:"duration_warning_fraction"`
	RequireConfirmation     bool          `yaml:"require_confirmation"`
	PendingTTL              time.Duration `yaml:"pending_ttl"`
	AudioEnabled            bool          `yaml:"audio_enabled"`
	EstimatedCostPerMinute  float64       `yaml:"estimated_cost_per_minute"`
	FinalizeTimeout         time.Duration `yaml:"finalize_timeout"`
	EventBuffer             int           `yaml:"event_buffer"`
	TokenEncoding           string        `yaml:"token_encoding"`
}

// StorageConfig selects the ledger store (see ledger.OpenStore).
type StorageConfig struct {
	URL string `yaml:"url"`
}

// MonitoringConfig configures logging and telemetry.
type MonitoringConfig struct {
	LogLevel  string                     `yaml:"log_level"`
	LogFormat string                     `yaml:"log_format"` // auto, console, json
	LogOutput string                     `yaml:"log_output"` // stdout, stderr or a file path
	Telemetry monitoring.TelemetryConfig `yaml:"telemetry"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultServerWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Upstream: UpstreamConfig{
			URL:              DefaultUpstreamURL,
			APIKey:           "${OPENAI_API_KEY:-}",
			BetaHeader:       DefaultBetaHeader,
			HandshakeTimeout: DefaultHandshakeTimeout,
			DialRetries:      DefaultDialRetries,
			Session:          realtime.DefaultSessionConfig(),
		},
		Limits:  costcontrol.DefaultCostLimits(),
		Pricing: costcontrol.DefaultPricing(),
		Sessions: SessionsConfig{
			CheckInterval:           DefaultCheckInterval,
			DurationWarningFraction: DefaultDurationWarningFraction,
			RequireConfirmation:     true,
			PendingTTL:              DefaultPendingTTL,
			AudioEnabled:            true,
			EstimatedCostPerMinute:  DefaultEstimatedCostPerMinute,
			FinalizeTimeout:         DefaultFinalizeTimeout,
			EventBuffer:             DefaultEventBuffer,
			TokenEncoding:           DefaultTokenEncoding,
		},
		Storage: StorageConfig{URL: DefaultStorageURL},
		Monitoring: MonitoringConfig{
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
			LogOutput: "stdout",
			Telemetry: monitoring.TelemetryConfig{LogPath: DefaultTelemetryPath},
		},
	}
}

// Load reads, expands, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is the operator-supplied config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses and validates a YAML document over the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// The default api_key is itself a reference.
	cfg.Upstream.APIKey = ExpandEnvWithDefaults(cfg.Upstream.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot run with.
// A missing API key is not an error here: `summary` runs without one and
// `serve` checks it before dialing.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("upstream.url is invalid: %q", c.Upstream.URL)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("upstream.url scheme must be ws, wss, http or https, got %q", u.Scheme)
	}
	if c.Upstream.HandshakeTimeout <= 0 {
		return fmt.Errorf("upstream.handshake_timeout must be > 0")
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Pricing.Validate(); err != nil {
		return err
	}
	if c.Sessions.CheckInterval < 0 {
		return fmt.Errorf("sessions.check_interval must be >= 0")
	}
	if f := c.Sessions.DurationWarningFraction; f < 0 || f >= 1 {
		return fmt.Errorf("sessions.duration_warning_fraction must be in [0,1), got %f", f)
	}
	if c.Sessions.PendingTTL <= 0 {
		return fmt.Errorf("sessions.pending_ttl must be > 0")
	}
	if strings.TrimSpace(c.Storage.URL) == "" {
		return fmt.Errorf("storage.url is required")
	}
	switch c.Monitoring.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("monitoring.log_format must be auto, console or json, got %q", c.Monitoring.LogFormat)
	}
	return nil
}

// RealtimeConfig returns the per-session tuning.
func (c *Config) RealtimeConfig() realtime.Config {
	return realtime.Config{
		Session:          c.Upstream.Session,
		HandshakeTimeout: c.Upstream.HandshakeTimeout,
		CheckInterval:    c.Sessions.CheckInterval,
		FinalizeTimeout:  c.Sessions.FinalizeTimeout,
		EventBuffer:      c.Sessions.EventBuffer,
	}
}

// SessionConfig returns the Manager configuration.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		RequireConfirmation:    c.Sessions.RequireConfirmation,
		PendingTTL:             c.Sessions.PendingTTL,
		EstimatedCostPerMinute: c.Sessions.EstimatedCostPerMinute,
		AudioEnabled:           c.Sessions.AudioEnabled,
		Session:                c.RealtimeConfig(),
	}
}
