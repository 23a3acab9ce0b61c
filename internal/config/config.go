package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// HTTP server
	ListenAddr     string        // e.g. ":8080"
	RequestTimeout time.Duration // per query request

	// Upstream export source (optional one-shot ingest at startup)
	SourceURL     string
	SourceTimeout time.Duration
	IngestOnStart bool
	IngestTimeout time.Duration // per batch; batches are not cancellable mid-flight

	// Postgres (explicit pieces)
	PGHost     string
	PGPort     int
	PGUser     string
	PGPassword string
	PGDatabase string
	PGSSLMode  string
	PGMaxConns int32 // bounded pool for the query path

	// Query service
	MaxPageSize     int // clamp for the `first` argument
	DefaultPageSize int

	// Result cache
	CacheTTL time.Duration

	// Retry policy for ingestion, owned by the api facade
	RetryAttempts uint64
	RetryBase     time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

// BuildDSN composes a keyword/value DSN compatible with pgxpool.
func (c Config) BuildDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.PGHost, c.PGPort, c.PGUser, c.PGPassword, c.PGDatabase, c.PGSSLMode, c.PGMaxConns,
	)
}

func FromEnv() Config {
	c := Config{}

	c.ListenAddr = getenv("HTTP_LISTEN_ADDR", ":8080")
	c.RequestTimeout = getenvd("HTTP_REQUEST_TIMEOUT", 5*time.Second)

	c.SourceURL = getenv("SOURCE_URL", "")
	c.SourceTimeout = getenvd("SOURCE_TIMEOUT", 10*time.Second)
	c.IngestOnStart = getenv("INGEST_ON_START", "") == "true"
	c.IngestTimeout = getenvd("INGEST_TIMEOUT", 60*time.Second)

	c.PGHost = getenv("PG_HOST", "postgres")
	c.PGPort = getenvi("PG_PORT", 5432)
	c.PGUser = getenv("PG_USER", "app")
	c.PGPassword = getenv("PG_PASSWORD", "app")
	c.PGDatabase = getenv("PG_DATABASE", "contentsync")
	c.PGSSLMode = getenv("PG_SSLMODE", "disable")
	c.PGMaxConns = int32(getenvi("PG_MAX_CONNS", 10))

	c.MaxPageSize = getenvi("QUERY_MAX_PAGE_SIZE", 100)
	c.DefaultPageSize = getenvi("QUERY_DEFAULT_PAGE_SIZE", 10)

	c.CacheTTL = getenvd("CACHE_TTL", 5*time.Minute)

	c.RetryAttempts = uint64(getenvi("INGEST_RETRY_ATTEMPTS", 3))
	c.RetryBase = getenvd("INGEST_RETRY_BASE", 500*time.Millisecond)

	c.LogLevel = getenv("LOG_LEVEL", "info")
	c.LogJSON = getenv("LOG_JSON", "") == "true"

	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvi(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		var iv int
		_, err := fmt.Sscanf(v, "%d", &iv)
		if err == nil {
			return iv
		}
	}
	return def
}

func getenvd(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
