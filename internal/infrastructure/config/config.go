// Package config loads process configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Node    NodeConfig
	Channel ChannelConfig
	Mirror  MirrorConfig
	Logging LogConfig
}

// NodeConfig declares the identity of the node this process runs on.
// An empty ID means the process generates one at startup.
type NodeConfig struct {
	ID string `envconfig:"HANDOFF_NODE_ID" default:""`
}

// ChannelConfig holds channel defaults.
type ChannelConfig struct {
	// DefaultBufferBytes is the slot capacity used when a channel is
	// constructed without an explicit one.
	DefaultBufferBytes int64 `envconfig:"HANDOFF_BUFFER_BYTES" default:"1048576"`
	// WriterQueueDepth bounds the background writer's submission queue.
	// Zero means unbounded.
	WriterQueueDepth int `envconfig:"HANDOFF_WRITER_QUEUE_DEPTH" default:"0"`
}

// MirrorConfig holds the node mirror service configuration.
type MirrorConfig struct {
	Addr string `envconfig:"HANDOFF_MIRROR_ADDR" default:"0.0.0.0:7420"`
	// StoreBudgetBytes caps total slot allocation in the mirror's local
	// store. Zero means unlimited.
	StoreBudgetBytes int64 `envconfig:"HANDOFF_STORE_BUDGET_BYTES" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"HANDOFF_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"HANDOFF_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			DefaultBufferBytes: 1 << 20,
			WriterQueueDepth:   0,
		},
		Mirror: MirrorConfig{
			Addr: "0.0.0.0:7420",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
