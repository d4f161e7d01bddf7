package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

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

	SourcesRoot   string
	CanonicalRoot string
	BaseCurrency  string
	NodeID        int64

	FX    FXConfig
	Redis RedisConfig

	PushgatewayURL string
	PolicyFile     string
}

type FXConfig struct {
	APIURL         string
	TimeoutSeconds int64
	MaxRetries     int64
	RatePerSecond  float64
	Burst          int
	CacheTTL       int64
	// Offline skips the HTTP provider and uses stored or static rates only.
	Offline bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int64

	IngestLockTTLSeconds int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "royaltyledger"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "royaltyledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 10)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		SourcesRoot:       getenv("SOURCES_ROOT", "./sources"),
		CanonicalRoot:     getenv("CANONICAL_ROOT", "./canonical"),
		BaseCurrency:      strings.ToUpper(getenv("BASE_CURRENCY", "EUR")),
		NodeID:            getenvInt64("SNOWFLAKE_NODE", 1),
		FX: FXConfig{
			APIURL:         strings.TrimSpace(getenv("FX_API_URL", "")),
			TimeoutSeconds: getenvInt64("FX_API_TIMEOUT_SECONDS", 10),
			MaxRetries:     getenvInt64("FX_API_MAX_RETRIES", 3),
			RatePerSecond:  float64(getenvInt64("FX_API_RATE_PER_SECOND", 5)),
			Burst:          int(getenvInt64("FX_API_BURST", 10)),
			CacheTTL:       getenvInt64("FX_CACHE_TTL_SECONDS", 3600),
			Offline:        getenvBool("FX_OFFLINE", false),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt64("REDIS_DB", 0),

			IngestLockTTLSeconds: getenvInt64("INGEST_LOCK_TTL_SECONDS", 3600),
		},
		PushgatewayURL: strings.TrimSpace(getenv("PUSHGATEWAY_URL", "")),
		PolicyFile:     strings.TrimSpace(getenv("PIPELINE_POLICY_FILE", "")),
	}

	return cfg
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
