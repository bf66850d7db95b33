// Package config loads corpusd configuration from the environment with an
// optional YAML file overlay.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EmbedProvider identifies the embedding backend.
type EmbedProvider string

const (
	ProviderOllama EmbedProvider = "ollama"
	ProviderOpenAI EmbedProvider = "openai"
)

// Config holds all configuration values.
type Config struct {
	// Server
	Port     string
	LogFile  string
	LogLevel slog.Level

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis cache
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CacheListTTL   time.Duration
	CacheSearchTTL time.Duration

	// Embedding
	EmbedProvider   EmbedProvider
	EmbedModel      string
	EmbedDimension  int
	OllamaHost      string
	OpenAIAPIKey    string
	EmbedBatchSize  int
	EmbedBatchDelay time.Duration

	// Remote search index
	IndexBaseURL      string
	IndexAPIKey       string
	IndexPollInterval time.Duration
	IndexPollBudget   int

	// Queue
	QueueConcurrency   int
	QueueMaxAttempts   int
	QueueBackoffBase   time.Duration
	CompletedRetention time.Duration
	CompletedKeep      int
	FailedRetention    time.Duration
	SweepInterval      time.Duration

	// Payload staging
	PayloadDir string

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Retrieval
	RelevanceFloor float64
	DefaultTopK    int
}

// Load reads configuration from environment variables, then applies the
// YAML overlay from CORPUSD_CONFIG if set.
func Load() Config {
	cfg := Config{
		Port:     getEnv("CORPUSD_PORT", "8184"),
		LogFile:  getEnv("CORPUSD_LOG_FILE", "/tmp/corpusd.log"),
		LogLevel: parseLogLevel(getEnv("CORPUSD_LOG_LEVEL", "INFO")),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "corpus"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "documents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		CacheListTTL:   getEnvDuration("CORPUSD_CACHE_LIST_TTL", time.Minute),
		CacheSearchTTL: getEnvDuration("CORPUSD_CACHE_SEARCH_TTL", 5*time.Minute),

		EmbedProvider:   EmbedProvider(getEnv("CORPUSD_EMBED_PROVIDER", "ollama")),
		EmbedModel:      getEnv("CORPUSD_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension:  getEnvInt("CORPUSD_EMBED_DIMENSION", 384),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		EmbedBatchSize:  getEnvInt("CORPUSD_EMBED_BATCH_SIZE", 10),
		EmbedBatchDelay: getEnvDuration("CORPUSD_EMBED_BATCH_DELAY", 500*time.Millisecond),

		IndexBaseURL:      getEnv("CORPUSD_INDEX_URL", "http://localhost:9090"),
		IndexAPIKey:       getEnv("CORPUSD_INDEX_API_KEY", ""),
		IndexPollInterval: getEnvDuration("CORPUSD_INDEX_POLL_INTERVAL", 3*time.Second),
		IndexPollBudget:   getEnvInt("CORPUSD_INDEX_POLL_BUDGET", 40),

		QueueConcurrency:   getEnvInt("QUEUE_CONCURRENCY", 5),
		QueueMaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoffBase:   getEnvDuration("QUEUE_BACKOFF_BASE", 5*time.Second),
		CompletedRetention: getEnvDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour),
		CompletedKeep:      getEnvInt("QUEUE_COMPLETED_KEEP", 1000),
		FailedRetention:    getEnvDuration("QUEUE_FAILED_RETENTION", 7*24*time.Hour),
		SweepInterval:      getEnvDuration("QUEUE_SWEEP_INTERVAL", time.Hour),

		PayloadDir: getEnv("CORPUSD_PAYLOAD_DIR", "/var/tmp/corpusd/payloads"),

		ChunkSize:    getEnvInt("CORPUSD_CHUNK_SIZE", 800),
		ChunkOverlap: getEnvInt("CORPUSD_CHUNK_OVERLAP", 100),

		RelevanceFloor: getEnvFloat("CORPUSD_RELEVANCE_FLOOR", 0.25),
		DefaultTopK:    getEnvInt("CORPUSD_DEFAULT_TOP_K", 5),
	}

	if path := os.Getenv("CORPUSD_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			slog.Warn("failed to apply config file, using environment only", "path", path, "error", err)
		}
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
