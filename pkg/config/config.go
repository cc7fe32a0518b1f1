// Package config loads the coordinator's 12-factor environment
// configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process-wide settings cmd/wargd wires into the
// coordinator and checkpoint builder.
type Config struct {
	// CheckpointInterval is how often the checkpoint builder ticks.
	CheckpointInterval time.Duration
	// LeafChannelCapacity bounds the coordinator -> log-appender hop.
	LeafChannelCapacity int
	// DatabaseURL is the SQL persistence collaborator's DSN; empty means
	// use the in-memory persistence collaborator instead.
	DatabaseURL string
	// LogLevel controls the slog handler's minimum level.
	LogLevel string
}

// Load reads configuration from the environment, falling back to
// development-friendly defaults for anything unset.
func Load() *Config {
	interval := 5 * time.Second
	if v := os.Getenv("WARGD_CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	capacity := 256
	if v := os.Getenv("WARGD_LEAF_CHANNEL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			capacity = n
		}
	}

	dbURL := os.Getenv("WARGD_DATABASE_URL")

	logLevel := os.Getenv("WARGD_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		CheckpointInterval:  interval,
		LeafChannelCapacity: capacity,
		DatabaseURL:         dbURL,
		LogLevel:            logLevel,
	}
}
