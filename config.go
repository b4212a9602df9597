package liveview

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for cmd entrypoints.
	Addr string `yaml:"addr" validate:"required"`

	// HeartbeatInterval is how often clients ping on the reserved topic.
	HeartbeatInterval Duration `yaml:"heartbeat_interval" validate:"gt=0"`

	// RequestTimeout bounds every request awaiting a reply.
	RequestTimeout Duration `yaml:"request_timeout" validate:"gt=0"`

	// SessionTTL is how long an idle session survives.
	SessionTTL Duration `yaml:"session_ttl" validate:"gt=0"`

	// MaxSessions caps concurrent sessions; 0 means unbounded.
	MaxSessions int `yaml:"max_sessions" validate:"gte=0"`

	// ReconnectDelays is the client backoff table indexed by
	// consecutive-failure count.
	ReconnectDelays []Duration `yaml:"reconnect_delays" validate:"omitempty,dive,gt=0"`

	// MinifyHTML controls whitespace minification of served documents.
	MinifyHTML bool `yaml:"minify_html"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:              "localhost:8080",
		HeartbeatInterval: Duration(30 * time.Second),
		RequestTimeout:    Duration(10 * time.Second),
		SessionTTL:        Duration(24 * time.Hour),
		MaxSessions:       0,
		MinifyHTML:        true,
	}
}

// LoadConfig reads and validates a yaml config file. Missing fields keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration's struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
