package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	// NodeID seeds the snowflake generator; replicas need distinct values.
	NodeID int64

	OtelEnabled  bool
	OTLPEndpoint string
	OTLPProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	RunMigrations     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// OpsAddr serves /health and /metrics. Empty disables the listener.
	OpsAddr string

	Scheduler SchedulerConfig
	Sequence  SequenceConfig
}

// SchedulerConfig controls the periodic billing jobs.
type SchedulerConfig struct {
	Enabled       bool
	RunInterval   time.Duration
	BatchSize     int
	Workers       int
	LeaseTTL      time.Duration
	JobTimeout    time.Duration
	RunLockTTL    time.Duration
	OutboxEnabled bool
}

// SequenceConfig bounds retries on sequence allocation.
type SequenceConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "billingledger"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		NodeID:            int64(getenvInt("NODE_ID", 1)),
		OtelEnabled:       getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billingledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RunMigrations:     getenvBool("DATABASE_RUN_MIGRATIONS", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		OpsAddr:           strings.TrimSpace(getenv("OPS_ADDR", ":8080")),
		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:   getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:     getenvInt("SCHEDULER_BATCH_SIZE", 50),
			Workers:       getenvInt("SCHEDULER_WORKERS", 4),
			LeaseTTL:      getenvDuration("SCHEDULER_LEASE_TTL", 5*time.Minute),
			JobTimeout:    getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
			RunLockTTL:    getenvDuration("SCHEDULER_RUN_LOCK_TTL", 2*time.Minute),
			OutboxEnabled: getenvBool("SCHEDULER_OUTBOX_ENABLED", true),
		},
		Sequence: SequenceConfig{
			MaxRetries:     getenvInt("SEQUENCE_MAX_RETRIES", 5),
			InitialBackoff: getenvDuration("SEQUENCE_INITIAL_BACKOFF", 10*time.Millisecond),
			MaxBackoff:     getenvDuration("SEQUENCE_MAX_BACKOFF", 500*time.Millisecond),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
