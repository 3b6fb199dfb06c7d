package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var knownRequestStatuses = map[string]bool{
	"pending":                true,
	"approved":               true,
	"provisionally_approved": true,
	"modified":               true,
	"rejected":               true,
	"cancelled":              true,
}

type Config struct {
	Addr        string
	Environment string

	SQLitePath      string
	SnapshotBackend string
	DatabaseURL     string

	RedisAddr        string
	SnapshotCacheTTL time.Duration

	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	CarryOverFloorYear int
	CompensatoryTypeID string
	QualifyingStatuses []string

	RefreshEnabled  bool
	RefreshInterval time.Duration
}

// Load reads the configuration from the environment, after merging a .env
// file from the working directory if there is one. Variables already set
// win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		Environment:        getEnv("APP_ENV", "development"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/leave.db"),
		SnapshotBackend:    strings.ToLower(getEnv("SNAPSHOT_BACKEND", BackendSQLite)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		SnapshotCacheTTL:   getEnvDuration("SNAPSHOT_CACHE_TTL", time.Hour),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "leave-engine"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "leave.request.changed"),
		CarryOverFloorYear: getEnvInt("CARRYOVER_FLOOR_YEAR", 1970),
		CompensatoryTypeID: getEnv("COMPENSATORY_TYPE_ID", ""),
		QualifyingStatuses: getEnvList("QUALIFYING_STATUSES"),
		RefreshEnabled:     getEnvBool("REFRESH_ENABLED", false),
		RefreshInterval:    getEnvDuration("REFRESH_INTERVAL", 24*time.Hour),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when SNAPSHOT_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("SNAPSHOT_BACKEND must be %q or %q, got %q", BackendSQLite, BackendPostgres, c.SnapshotBackend)
	}
	if strings.TrimSpace(c.SQLitePath) == "" {
		return fmt.Errorf("SQLITE_PATH is required")
	}
	if c.RedisAddr != "" && c.SnapshotCacheTTL <= 0 {
		return fmt.Errorf("SNAPSHOT_CACHE_TTL must be positive")
	}
	if c.KafkaEnabled() {
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must be set when KAFKA_BROKERS is set")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC must be set when KAFKA_BROKERS is set")
		}
	}
	if c.CarryOverFloorYear <= 0 {
		return fmt.Errorf("CARRYOVER_FLOOR_YEAR must be positive")
	}
	for _, st := range c.QualifyingStatuses {
		if !knownRequestStatuses[st] {
			return fmt.Errorf("QUALIFYING_STATUSES: unknown request status %q", st)
		}
	}
	if c.RefreshEnabled && c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive when REFRESH_ENABLED is true")
	}
	return nil
}
