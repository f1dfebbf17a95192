package jobwait

import (
	"os"
	"strconv"
	"time"
)

// BackendKind selects the local queue store implementation.
type BackendKind string

const (
	// BackendBadger selects the BadgerDB store (default, no CGO).
	BackendBadger BackendKind = "badger"
	// BackendSQLite selects the SQLite store (requires -tags sqlite).
	BackendSQLite BackendKind = "sqlite"
	// BackendMemory selects the in-memory store (testing only).
	BackendMemory BackendKind = "memory"
)

// Config represents jobwait configuration.
type Config struct {
	// Inter-poll delay for blocking waits (default: 2s).
	PollInterval time.Duration

	// TTL for finished job records (default: 30 days).
	// Terminal jobs older than this are deleted by the janitor.
	FinishedTTL time.Duration

	// Purge periodicity (default: 1 day).
	// How often the janitor deletes expired finished jobs.
	PurgeInterval time.Duration

	// Directory or file path for the queue store (default: ./jobwait-data).
	DataDir string

	// Store implementation to use (default: badger).
	Backend BackendKind
}

// LoadConfig loads jobwait configuration from environment variables.
// It reads the following environment variables:
//   - JOBWAIT_POLL_INTERVAL: inter-poll delay (default: 2s)
//   - JOBWAIT_TTL: TTL for finished job records (default: 30 days)
//   - JOBWAIT_PURGE_INTERVAL: janitor periodicity (default: 1 day)
//   - JOBWAIT_DATA_DIR: queue store path (default: ./jobwait-data)
//   - JOBWAIT_BACKEND: badger, sqlite or memory (default: badger)
//
// Duration values can be specified as:
//   - Integer number of seconds (e.g., "30" = 30 seconds)
//   - Duration string (e.g., "24h", "1h30m")
//
// Returns a Config struct with default values if environment variables are not set.
func LoadConfig() *Config {
	return &Config{
		PollInterval:  getEnvDuration("JOBWAIT_POLL_INTERVAL", 2*time.Second),
		FinishedTTL:   getEnvDuration("JOBWAIT_TTL", 30*24*time.Hour),
		PurgeInterval: getEnvDuration("JOBWAIT_PURGE_INTERVAL", 24*time.Hour),
		DataDir:       getEnvString("JOBWAIT_DATA_DIR", "./jobwait-data"),
		Backend:       BackendKind(getEnvString("JOBWAIT_BACKEND", string(BackendBadger))),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string (e.g., "24h", "90m")
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
