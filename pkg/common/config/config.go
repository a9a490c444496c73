package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	PublicBaseURL  string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresMaxOpen  int
	PostgresMaxIdle  int
	PostgresConnTTL  time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	AuditTopic        string
	RequeueTopic      string
	AuditKafkaEnabled bool

	// Work queue
	CheckQueueName     string
	WorkerPollInterval time.Duration
	WorkerDrainSize    int
	WorkerStaleLease   time.Duration
	WorkerHTTPPort     string

	// Checks
	BulkRecordLimit     int
	FingerprintCacheTTL time.Duration

	// Admission control
	RateLimitBackend      string
	RateLimitFailOpen     bool
	SingleCheckRateLimit  int
	SingleCheckRateWindow time.Duration
	BulkCheckRateLimit    int
	BulkCheckRateWindow   time.Duration
	RateLimitRetention    time.Duration

	// Determination sources
	DeterminationSourcesFile string
	DeterminationTimeout     time.Duration
	DeterminationTokenURL    string
	DeterminationClientID    string
	DeterminationSecret      string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "eligibility"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "eligibility123"),
		PostgresDB:       getEnv("POSTGRES_DB", "eligibility"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxOpen:  getIntEnv("POSTGRES_MAX_OPEN_CONNS", 20),
		PostgresMaxIdle:  getIntEnv("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnTTL:  getDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 20),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "eligibility-worker"),
		AuditTopic:        getEnv("AUDIT_TOPIC", "eligibility-audit"),
		RequeueTopic:      getEnv("REQUEUE_TOPIC", "eligibility-requeue"),
		AuditKafkaEnabled: getBoolEnv("AUDIT_KAFKA_ENABLED", false),

		CheckQueueName:     getEnv("CHECK_QUEUE_NAME", "eligibility-checks"),
		WorkerPollInterval: getDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerDrainSize:    getIntEnv("WORKER_DRAIN_SIZE", 100),
		WorkerStaleLease:   getDuration("WORKER_STALE_LEASE", 10*time.Minute),
		WorkerHTTPPort:     getEnv("WORKER_HTTP_PORT", "8081"),

		BulkRecordLimit:     getIntEnv("BULK_RECORD_LIMIT", 250),
		FingerprintCacheTTL: getDuration("FINGERPRINT_CACHE_TTL", 7*24*time.Hour),

		RateLimitBackend:      getEnv("RATE_LIMIT_BACKEND", "db"),
		RateLimitFailOpen:     getBoolEnv("RATE_LIMIT_FAIL_OPEN", false),
		SingleCheckRateLimit:  getIntEnv("SINGLE_CHECK_RATE_LIMIT", 600),
		SingleCheckRateWindow: getDuration("SINGLE_CHECK_RATE_WINDOW", time.Minute),
		BulkCheckRateLimit:    getIntEnv("BULK_CHECK_RATE_LIMIT", 2500),
		BulkCheckRateWindow:   getDuration("BULK_CHECK_RATE_WINDOW", time.Hour),
		RateLimitRetention:    getDuration("RATE_LIMIT_RETENTION", 24*time.Hour),

		DeterminationSourcesFile: getEnv("DETERMINATION_SOURCES_FILE", ""),
		DeterminationTimeout:     getDuration("DETERMINATION_TIMEOUT", 10*time.Second),
		DeterminationTokenURL:    getEnv("DETERMINATION_TOKEN_URL", ""),
		DeterminationClientID:    getEnv("DETERMINATION_CLIENT_ID", ""),
		DeterminationSecret:      getEnv("DETERMINATION_CLIENT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
