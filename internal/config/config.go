package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Document store backends selectable with DOC_STORE
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Cell snapshot storage
	DocStore      string
	SnapshotsKept int
	MongoURI      string
	MongoDatabase string

	// Optional Redis read-through cache in front of the document store
	RedisURL      string
	RedisCellsTTL time.Duration

	ServerPort     string
	ServerHost     string
	AllowedOrigins []string

	JWTSecret string

	// Collaboration engine tuning
	SaveDelay        time.Duration
	LockTTL          time.Duration
	LockReapInterval time.Duration
	SendBuffer       int
	IdleTimeout      time.Duration

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
	LogLevel         string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "colabd"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		DocStore:      strings.ToLower(getEnv("DOC_STORE", StorePostgres)),
		SnapshotsKept: getEnvInt("SNAPSHOTS_KEPT", 10),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "colabd"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisCellsTTL: getEnvDuration("REDIS_CELLS_TTL", time.Hour),

		ServerPort:     getEnv("SERVER_PORT", "8000"),
		ServerHost:     getEnv("SERVER_HOST", "localhost"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:4200"}),

		JWTSecret: getEnv("JWT_SECRET", ""),

		SaveDelay:        getEnvDuration("COLLAB_SAVE_DELAY", 2*time.Second),
		LockTTL:          getEnvDuration("COLLAB_LOCK_TTL", 30*time.Second),
		LockReapInterval: getEnvDuration("COLLAB_LOCK_REAP_INTERVAL", 5*time.Second),
		SendBuffer:       getEnvInt("COLLAB_SEND_BUFFER", 256),
		IdleTimeout:      getEnvDuration("COLLAB_IDLE_TIMEOUT", 5*time.Minute),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that have no sensible default
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.DocStore {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("DOC_STORE must be one of %s, %s, %s (got %q)",
			StorePostgres, StoreMongo, StoreMemory, c.DocStore)
	}

	if c.SaveDelay <= 0 {
		return fmt.Errorf("COLLAB_SAVE_DELAY must be positive")
	}
	if c.LockTTL <= 0 || c.LockReapInterval <= 0 {
		return fmt.Errorf("COLLAB_LOCK_TTL and COLLAB_LOCK_REAP_INTERVAL must be positive")
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	return nil
}

// UsesDatabase reports whether schema metadata lives in Postgres.
// Both the postgres and mongo backends keep schemas and memberships there.
func (c *Config) UsesDatabase() bool {
	return c.DocStore != StoreMemory
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
