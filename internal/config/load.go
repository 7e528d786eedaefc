// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tracelight/config.yaml",
	"/etc/tracelight/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables, in ascending precedence, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the fields parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"server.cors_allowed_origins",
}

// processSliceFields splits comma-separated env strings into slices.
// YAML values arrive as slices already and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unknown variables return "" and are ignored, so unrelated environment
// noise cannot leak into the configuration.
func envTransformFunc(key string) string {
	mappings := map[string]string{
		// HTTP server
		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"cors_allowed_origins":  "server.cors_allowed_origins",
		"health_rate_limit":     "server.health_rate_limit",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS
		"nats_url":                "nats.url",
		"nats_embedded":           "nats.embedded",
		"nats_host":               "nats.host",
		"nats_port":               "nats.port",
		"nats_store_dir":          "nats.store_dir",
		"nats_max_memory":         "nats.max_memory",
		"nats_max_store":          "nats.max_store",
		"nats_retention_days":     "nats.retention_days",
		"nats_replicas":           "nats.replicas",
		"nats_durable_name":       "nats.durable_name",
		"nats_queue_group":        "nats.queue_group",
		"nats_subscribers":        "nats.subscribers_count",
		"nats_publish_queue_size": "nats.publish_queue_size",
		"nats_ack_wait":           "nats.ack_wait_timeout",
		"nats_max_deliver":        "nats.max_deliver",
		"nats_breaker_threshold":  "nats.breaker_threshold",
		"nats_breaker_timeout":    "nats.breaker_timeout",

		// Rate limiting
		"rate_limit_enabled":       "rate_limit.enabled",
		"rate_limit_requests":      "rate_limit.requests",
		"rate_limit_window":        "rate_limit.window",
		"rate_limit_fail_open":     "rate_limit.fail_open",
		"rate_limit_store_timeout": "rate_limit.store_timeout",
		"rate_limit_store":         "rate_limit.store",
		"rate_limit_store_path":    "rate_limit.store_path",

		// Session aggregation
		"session_capacity":       "session.capacity",
		"session_idle_ttl":       "session.idle_ttl",
		"session_sweep_interval": "session.sweep_interval",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := mappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
