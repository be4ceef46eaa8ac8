// Package config loads ripple configuration. Defaults are merged with an
// optional YAML file and RIPPLE_* environment variable overrides, in that
// order.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/ripple/pkg/bus"
	"github.com/odvcencio/ripple/pkg/errors"
)

const (
	DefaultRelayBind         = "127.0.0.1:4489"
	DefaultSubjectPrefix     = "ripple.events"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxConnections    = 256
	DefaultClientQueueSize   = 64

	// MinSecretLength is the minimum recommended length for the relay
	// auth secret.
	MinSecretLength = 32
)

// Config is the complete ripple configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Client ClientConfig `yaml:"client"`
	Bus    bus.Config   `yaml:"bus"`
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	// Bind is the listen address.
	Bind string `yaml:"bind"`

	// Secret enables bearer-token auth when non-empty. Tokens are
	// HS256 JWTs signed with this secret.
	Secret string `yaml:"secret"`

	// SubjectPrefix is the bus subject namespace events travel on.
	// Events for type T are published to "<prefix>.<T>".
	SubjectPrefix string `yaml:"subject_prefix"`

	// HeartbeatInterval is the cadence of server-pushed heartbeats on
	// both transports.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxConnections caps concurrent realtime connections; 0 disables
	// the cap.
	MaxConnections int `yaml:"max_connections"`

	// ClientQueueSize is the per-client send buffer. A client that falls
	// this far behind is disconnected.
	ClientQueueSize int `yaml:"client_queue_size"`

	// AllowedOrigins restricts websocket origins; empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ClientConfig configures the CLI's client commands.
type ClientConfig struct {
	// BaseURL of the relay, e.g. http://127.0.0.1:4489.
	BaseURL string `yaml:"base_url"`

	// Transport is auto, websocket, or sse.
	Transport string `yaml:"transport"`

	// Token is sent as a bearer credential when non-empty.
	Token string `yaml:"token"`

	// HeartbeatInterval enables client-side liveness detection.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Bind:              DefaultRelayBind,
			SubjectPrefix:     DefaultSubjectPrefix,
			HeartbeatInterval: DefaultHeartbeatInterval,
			MaxConnections:    DefaultMaxConnections,
			ClientQueueSize:   DefaultClientQueueSize,
		},
		Client: ClientConfig{
			BaseURL:           "http://" + DefaultRelayBind,
			Transport:         "auto",
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
	}
}

// Load builds the configuration from defaults, the optional config file,
// and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config file").
				WithContext("path", path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIPPLE_RELAY_BIND"); v != "" {
		cfg.Relay.Bind = v
	}
	if v := os.Getenv("RIPPLE_RELAY_SECRET"); v != "" {
		cfg.Relay.Secret = v
	}
	if v := os.Getenv("RIPPLE_SUBJECT_PREFIX"); v != "" {
		cfg.Relay.SubjectPrefix = v
	}
	if v := os.Getenv("RIPPLE_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Relay.HeartbeatInterval = d
			cfg.Client.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("RIPPLE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relay.MaxConnections = n
		}
	}
	if v := os.Getenv("RIPPLE_BASE_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("RIPPLE_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("RIPPLE_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("RIPPLE_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Relay.Bind); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "relay bind must be host:port").
			WithContext("bind", c.Relay.Bind)
	}
	if s := c.Relay.Secret; s != "" && len(s) < MinSecretLength {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("relay secret must be at least %d characters", MinSecretLength))
	}
	if p := c.Relay.SubjectPrefix; strings.ContainsAny(p, " \t") || strings.HasSuffix(p, ".") {
		return errors.New(errors.ErrCodeConfigInvalid, "invalid subject prefix").
			WithContext("subject_prefix", p)
	}
	if c.Relay.HeartbeatInterval < 0 || c.Client.HeartbeatInterval < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "heartbeat interval cannot be negative")
	}
	if c.Relay.ClientQueueSize <= 0 {
		c.Relay.ClientQueueSize = DefaultClientQueueSize
	}
	switch c.Client.Transport {
	case "", "auto", "websocket", "sse":
	default:
		return errors.New(errors.ErrCodeConfigInvalid, "client transport must be auto, websocket, or sse").
			WithContext("transport", c.Client.Transport)
	}
	return nil
}
