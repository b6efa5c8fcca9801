package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean; development defaults are deliberate.
type Config struct {
	Addr string

	// DatabaseURL selects the Postgres-backed commit log when set.
	// Empty falls back to the in-memory store (development only).
	DatabaseURL string

	// RedisURL selects the shared last-timestamp store for the
	// timestamp authority. Empty keeps it in-process.
	RedisURL string

	// KafkaBrokers enables the commit feed when non-empty.
	KafkaBrokers []string
	FeedTopic    string

	// ExportRoot is the directory under which export artifacts live.
	ExportRoot string

	// BucketDuration is the width of one commit log time bucket.
	BucketDuration time.Duration

	// ClockTolerance bounds how far a commit timestamp may be corrected
	// forward before the write is rejected as a clock regression.
	ClockTolerance time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("ZONECORE_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		FeedTopic:      envOr("COMMIT_FEED_TOPIC", "zonecore.commit-log"),
		ExportRoot:     envOr("EXPORT_ROOT", "/var/lib/zonecore/exports"),
		BucketDuration: envDurationOr("COMMIT_LOG_BUCKET", time.Minute),
		ClockTolerance: envDurationOr("CLOCK_TOLERANCE", 2*time.Second),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// Accept bare seconds for operator convenience.
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
