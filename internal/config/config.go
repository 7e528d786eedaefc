// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package config loads layered application configuration: built-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"time"

	"github.com/tomtom215/tracelight/internal/api"
	"github.com/tomtom215/tracelight/internal/bus"
	"github.com/tomtom215/tracelight/internal/database"
	"github.com/tomtom215/tracelight/internal/ratelimit"
	"github.com/tomtom215/tracelight/internal/session"
)

// Config holds all application configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values for every setting
//  2. Config file: optional YAML file (config.yaml)
//  3. Environment variables: override any setting
type Config struct {
	Server    api.Config      `koanf:"server"`
	Database  database.Config `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Session   session.Config  `koanf:"session"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// NATSConfig holds message bus settings. The embedded server is the
// default so a single binary runs without external infrastructure;
// pointing URL at an external cluster and disabling Embedded switches
// to that cluster.
type NATSConfig struct {
	URL              string        `koanf:"url" validate:"required"`
	Embedded         bool          `koanf:"embedded"`
	Host             string        `koanf:"host"`
	Port             int           `koanf:"port" validate:"gt=0,lte=65535"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	RetentionDays    int           `koanf:"retention_days" validate:"gt=0"`
	Replicas         int           `koanf:"replicas" validate:"gt=0"`
	DurableName      string        `koanf:"durable_name" validate:"required"`
	QueueGroup       string        `koanf:"queue_group" validate:"required"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"gt=0"`
	PublishQueueSize int           `koanf:"publish_queue_size" validate:"gt=0"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver       int           `koanf:"max_deliver"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// RateLimitConfig holds edge rate limiting settings, including the
// backing store selection the limiter itself is agnostic to.
type RateLimitConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Requests     int64         `koanf:"requests" validate:"gte=0"`
	Window       time.Duration `koanf:"window"`
	FailOpen     bool          `koanf:"fail_open"`
	StoreTimeout time.Duration `koanf:"store_timeout"`
	// Store selects the counter backend: badger or memory.
	Store string `koanf:"store" validate:"oneof=badger memory"`
	// StorePath is the Badger directory. Ignored for the memory store.
	StorePath string `koanf:"store_path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server:   api.DefaultConfig(),
		Database: database.DefaultConfig(),
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			Embedded:         true,
			Host:             "127.0.0.1",
			Port:             4222,
			StoreDir:         "data/nats/jetstream",
			MaxMemory:        1 << 30,
			MaxStore:         10 << 30,
			RetentionDays:    7,
			Replicas:         1,
			DurableName:      "event-normalizer",
			QueueGroup:       "analytics-consumers",
			SubscribersCount: 4,
			PublishQueueSize: 4096,
			AckWaitTimeout:   30 * time.Second,
			MaxDeliver:       5,
			BreakerThreshold: 5,
			BreakerTimeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Requests:     100,
			Window:       time.Hour,
			FailOpen:     false,
			StoreTimeout: 2 * time.Second,
			Store:        "badger",
			StorePath:    "data/ratelimit",
		},
		Session: session.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Limiter maps the rate limit section onto the limiter's own config.
func (c RateLimitConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		Enabled:      c.Enabled,
		Requests:     c.Requests,
		Window:       c.Window,
		FailOpen:     c.FailOpen,
		StoreTimeout: c.StoreTimeout,
	}
}

// Publisher maps the NATS section onto the bus publisher config.
func (c NATSConfig) Publisher() bus.PublisherConfig {
	cfg := bus.DefaultPublisherConfig(c.URL)
	cfg.QueueSize = c.PublishQueueSize
	cfg.Breaker = c.Breaker()
	return cfg
}

// Subscriber maps the NATS section onto the bus subscriber config.
func (c NATSConfig) Subscriber() bus.SubscriberConfig {
	cfg := bus.DefaultSubscriberConfig(c.URL)
	cfg.DurableName = c.DurableName
	cfg.QueueGroup = c.QueueGroup
	cfg.SubscribersCount = c.SubscribersCount
	cfg.AckWaitTimeout = c.AckWaitTimeout
	cfg.MaxDeliver = c.MaxDeliver
	return cfg
}

// Stream maps the NATS section onto the event stream config.
func (c NATSConfig) Stream() bus.StreamConfig {
	cfg := bus.DefaultStreamConfig()
	cfg.MaxAge = time.Duration(c.RetentionDays) * 24 * time.Hour
	cfg.MaxBytes = c.MaxStore
	cfg.Replicas = c.Replicas
	return cfg
}

// Server maps the NATS section onto the embedded server config.
func (c NATSConfig) Server() bus.ServerConfig {
	return bus.ServerConfig{
		Host:              c.Host,
		Port:              c.Port,
		StoreDir:          c.StoreDir,
		JetStreamMaxMem:   c.MaxMemory,
		JetStreamMaxStore: c.MaxStore,
	}
}

// Breaker maps the NATS section onto the publish circuit breaker config.
func (c NATSConfig) Breaker() bus.BreakerConfig {
	cfg := bus.DefaultBreakerConfig("nats-publish")
	cfg.FailureThreshold = c.BreakerThreshold
	cfg.Timeout = c.BreakerTimeout
	return cfg
}
