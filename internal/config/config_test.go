package config

import (
	"testing"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "climate-jobs", cfg.KafkaDispatchTopic)
	assert.Equal(t, "climate-results", cfg.KafkaResultsTopic)
	assert.Equal(t, "climate-risk-api", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, "access_token", cfg.MapboxTokenParam)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
	assert.Equal(t, "reca.db", cfg.SQLitePath)
	assert.True(t, cfg.SQLiteSeed)
	assert.Equal(t, "https://api.frankfurter.app", cfg.RatesURL)
	assert.Equal(t, time.Hour, cfg.RatesRefresh)
	assert.Equal(t, 5*time.Second, cfg.RatesTimeout)
	assert.Equal(t, 24*time.Hour, cfg.JobTTL)
	assert.Empty(t, cfg.DefaultUnits)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_DISPATCH_TOPIC", "jobs")
	t.Setenv("KAFKA_RESULTS_TOPIC", "results")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TOKEN_PARAM", "key")
	t.Setenv("MAPBOX_URL", "https://api.maptiler.com/geocoding")
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("SQLITE_PATH", "/data/reca.db")
	t.Setenv("SQLITE_SEED", "false")
	t.Setenv("RATES_URL", "http://rates.internal")
	t.Setenv("RATES_REFRESH_INTERVAL", "15m")
	t.Setenv("RATES_TIMEOUT", "2s")
	t.Setenv("JOB_TTL", "6h")
	t.Setenv("DEFAULT_UNITS_CURRENCY", "EUR")
	t.Setenv("DEFAULT_UNITS_TEMPERATURE", "degF")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "jobs", cfg.KafkaDispatchTopic)
	assert.Equal(t, "results", cfg.KafkaResultsTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, "key", cfg.MapboxTokenParam)
	assert.Equal(t, "https://api.maptiler.com/geocoding", cfg.MapboxURL)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.Equal(t, "/data/reca.db", cfg.SQLitePath)
	assert.False(t, cfg.SQLiteSeed)
	assert.Equal(t, "http://rates.internal", cfg.RatesURL)
	assert.Equal(t, 15*time.Minute, cfg.RatesRefresh)
	assert.Equal(t, 2*time.Second, cfg.RatesTimeout)
	assert.Equal(t, 6*time.Hour, cfg.JobTTL)
	assert.Equal(t, map[units.Dimension]string{
		units.Currency:    "EUR",
		units.Temperature: "degF",
	}, cfg.DefaultUnits)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidDurations(t *testing.T) {
	for _, name := range []string{"MAPBOX_TIMEOUT", "RATES_REFRESH_INTERVAL", "RATES_TIMEOUT", "JOB_TTL"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "bad")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
		t.Run(name+" non-positive", func(t *testing.T) {
			t.Setenv(name, "0s")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoad_InvalidSeedFlag(t *testing.T) {
	t.Setenv("SQLITE_SEED", "sometimes")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQLITE_SEED")
}

func TestLoad_SameTopics(t *testing.T) {
	t.Setenv("KAFKA_DISPATCH_TOPIC", "climate")
	t.Setenv("KAFKA_RESULTS_TOPIC", "climate")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}
