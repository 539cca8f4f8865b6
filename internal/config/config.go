// SPDX-License-Identifier: MIT

// Package config assembles the bus configuration from environment variables
// with an optional YAML file overlay. Every timeout and size constant used by
// the bus lives here so nothing is hardcoded at call sites.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the txstream daemon.
type Config struct {
	// HTTP
	ListenAddr string `yaml:"listen_addr"`

	// Redis (pub/sub transport + TTL key/value store)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Replay buffer
	BufferSize   int           `yaml:"buffer_size"`
	BufferTTL    time.Duration `yaml:"buffer_ttl"`
	ReplayWindow time.Duration `yaml:"replay_window"`

	// Subscription liveness
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Per-subscriber delivery
	SubscriberQueueSize int `yaml:"subscriber_queue_size"`

	// Acknowledgment tracking
	AckTTL time.Duration `yaml:"ack_ttl"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:          ":8090",
		RedisAddr:           "localhost:6379",
		BufferSize:          100,
		BufferTTL:           time.Hour,
		ReplayWindow:        10 * time.Minute,
		InactivityTimeout:   5 * time.Minute,
		SweepInterval:       time.Minute,
		HeartbeatInterval:   30 * time.Second,
		SubscriberQueueSize: 64,
		AckTTL:              time.Hour,
		LogLevel:            "info",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// TXSTREAM_CONFIG_FILE (if any), then environment variables on top.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("TXSTREAM_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.ListenAddr = ParseString("TXSTREAM_LISTEN", cfg.ListenAddr)
	cfg.RedisAddr = ParseString("TXSTREAM_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("TXSTREAM_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("TXSTREAM_REDIS_DB", cfg.RedisDB)
	cfg.BufferSize = ParseInt("TXSTREAM_BUFFER_SIZE", cfg.BufferSize)
	cfg.BufferTTL = ParseDuration("TXSTREAM_BUFFER_TTL", cfg.BufferTTL)
	cfg.ReplayWindow = ParseDuration("TXSTREAM_REPLAY_WINDOW", cfg.ReplayWindow)
	cfg.InactivityTimeout = ParseDuration("TXSTREAM_INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	cfg.SweepInterval = ParseDuration("TXSTREAM_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.HeartbeatInterval = ParseDuration("TXSTREAM_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.SubscriberQueueSize = ParseInt("TXSTREAM_QUEUE_SIZE", cfg.SubscriberQueueSize)
	cfg.AckTTL = ParseDuration("TXSTREAM_ACK_TTL", cfg.AckTTL)
	cfg.LogLevel = ParseString("TXSTREAM_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the bus cannot run with.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.SubscriberQueueSize <= 0 {
		return fmt.Errorf("config: subscriber_queue_size must be positive, got %d", c.SubscriberQueueSize)
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"buffer_ttl", c.BufferTTL},
		{"replay_window", c.ReplayWindow},
		{"inactivity_timeout", c.InactivityTimeout},
		{"sweep_interval", c.SweepInterval},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"ack_ttl", c.AckTTL},
	} {
		if d.val <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", d.name, d.val)
		}
	}
	return nil
}
