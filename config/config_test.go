package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"APP_ADDR", "APP_ENV", "SQLITE_PATH", "SNAPSHOT_BACKEND", "DATABASE_URL",
		"REDIS_ADDR", "SNAPSHOT_CACHE_TTL", "KAFKA_BROKERS", "CARRYOVER_FLOOR_YEAR",
		"COMPENSATORY_TYPE_ID", "QUALIFYING_STATUSES", "REFRESH_ENABLED", "REFRESH_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendSQLite, cfg.SnapshotBackend)
	assert.Equal(t, 1970, cfg.CarryOverFloorYear)
	assert.Equal(t, time.Hour, cfg.SnapshotCacheTTL)
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.RefreshEnabled)
	assert.Nil(t, cfg.QualifyingStatuses)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ParsesTypedValues(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://leave@localhost/leave")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CARRYOVER_FLOOR_YEAR", "2015")
	t.Setenv("QUALIFYING_STATUSES", "approved,pending")
	t.Setenv("REFRESH_ENABLED", "true")
	t.Setenv("REFRESH_INTERVAL", "90m")
	t.Setenv("SNAPSHOT_CACHE_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, BackendPostgres, cfg.SnapshotBackend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2015, cfg.CarryOverFloorYear)
	assert.Equal(t, []string{"approved", "pending"}, cfg.QualifyingStatuses)
	assert.True(t, cfg.RefreshEnabled)
	assert.Equal(t, 90*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, time.Hour, cfg.SnapshotCacheTTL, "unparsable values fall back")
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := Config{
		SQLitePath:         "leave.db",
		SnapshotBackend:    BackendSQLite,
		CarryOverFloorYear: 1970,
		RefreshInterval:    time.Hour,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.SnapshotBackend = "mongo" }},
		{"postgres without url", func(c *Config) { c.SnapshotBackend = BackendPostgres }},
		{"missing sqlite path", func(c *Config) { c.SQLitePath = " " }},
		{"redis without ttl", func(c *Config) { c.RedisAddr = "localhost:6379" }},
		{"kafka without group", func(c *Config) { c.KafkaBrokers = []string{"k:9092"}; c.KafkaTopic = "t" }},
		{"non-positive floor", func(c *Config) { c.CarryOverFloorYear = 0 }},
		{"refresh without interval", func(c *Config) { c.RefreshEnabled = true; c.RefreshInterval = 0 }},
		{"unknown qualifying status", func(c *Config) { c.QualifyingStatuses = []string{"approved", "draft"} }},
	}

	require.NoError(t, valid.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
