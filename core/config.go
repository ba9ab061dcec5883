package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the registry's tunable options. It follows a three-layer
// priority: defaults, then environment variables, then functional options
// (highest).
type Config struct {
	// HeartbeatInterval is the replication channel's heartbeat period.
	HeartbeatInterval time.Duration `env:"FLEETREG_HEARTBEAT_INTERVAL" default:"30s"`

	// SubscriberBufferHighWatermark bounds a subscriber's pending
	// notification buffer before it is terminated as a slow consumer.
	SubscriberBufferHighWatermark int `env:"FLEETREG_SUBSCRIBER_BUFFER_HWM" default:"1024"`

	// EvictionQuotaInitial is the opening quota grant fleetregd's quota
	// source sends to the preservation controller at startup.
	EvictionQuotaInitial int `env:"FLEETREG_EVICTION_QUOTA_INITIAL" default:"0"`

	// ReplicationSendTimeout bounds how long a replication channel waits
	// on a single transport send before treating it as a stalled send.
	ReplicationSendTimeout time.Duration `env:"FLEETREG_REPLICATION_SEND_TIMEOUT" default:"5s"`

	// Namespace scopes metric and log labels for multi-tenant deployments.
	Namespace string `env:"FLEETREG_NAMESPACE" default:"default"`
}

// Option mutates a Config during NewConfig.
type Option func(*Config) error

// NewConfig builds a Config from defaults, then environment variables, then
// the supplied options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		HeartbeatInterval:             30 * time.Second,
		SubscriberBufferHighWatermark: 1024,
		EvictionQuotaInitial:          0,
		ReplicationSendTimeout:        5 * time.Second,
		Namespace:                     "default",
	}

	applyEnv(cfg)

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("core.NewConfig", "config", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, NewFrameworkError("core.NewConfig", "config", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETREG_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("FLEETREG_SUBSCRIBER_BUFFER_HWM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubscriberBufferHighWatermark = n
		}
	}
	if v := os.Getenv("FLEETREG_EVICTION_QUOTA_INITIAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EvictionQuotaInitial = n
		}
	}
	if v := os.Getenv("FLEETREG_REPLICATION_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReplicationSendTimeout = d
		}
	}
	if v := os.Getenv("FLEETREG_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
}

func (c *Config) validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeatIntervalMs must be > 0")
	}
	if c.SubscriberBufferHighWatermark <= 0 {
		return fmt.Errorf("subscriberBufferHighWatermark must be > 0")
	}
	if c.EvictionQuotaInitial < 0 {
		return fmt.Errorf("evictionQuotaInitial must be >= 0")
	}
	if c.ReplicationSendTimeout <= 0 {
		return fmt.Errorf("replicationSendTimeout must be > 0")
	}
	return nil
}

// WithHeartbeatInterval overrides the replication heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("heartbeat interval must be > 0")
		}
		c.HeartbeatInterval = d
		return nil
	}
}

// WithSubscriberBufferHighWatermark overrides the per-subscriber backpressure
// threshold.
func WithSubscriberBufferHighWatermark(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("subscriber buffer high watermark must be > 0")
		}
		c.SubscriberBufferHighWatermark = n
		return nil
	}
}

// WithEvictionQuotaInitial overrides the first quota request at startup.
func WithEvictionQuotaInitial(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("eviction quota initial must be >= 0")
		}
		c.EvictionQuotaInitial = n
		return nil
	}
}

// WithReplicationSendTimeout overrides the stalled-send timeout.
func WithReplicationSendTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("replication send timeout must be > 0")
		}
		c.ReplicationSendTimeout = d
		return nil
	}
}

// WithNamespace overrides the metrics/log namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		if ns == "" {
			return fmt.Errorf("namespace must not be empty")
		}
		c.Namespace = ns
		return nil
	}
}
