package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/units"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaDispatchTopic string
	KafkaResultsTopic  string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Geocoding configuration. Any Mapbox-format provider works.
	MapboxToken      string
	MapboxTokenParam string
	MapboxURL        string
	MapboxEnabled    bool
	MapboxTimeout    time.Duration
	MapboxCacheSize  int

	SQLitePath string
	SQLiteSeed bool

	// Exchange rates.
	RatesURL     string
	RatesRefresh time.Duration
	RatesTimeout time.Duration

	JobTTL time.Duration

	// DefaultUnits overrides the options document's default unit per dimension.
	DefaultUnits map[units.Dimension]string
}

var unitDimensions = []units.Dimension{
	units.Temperature, units.Speed, units.Distance, units.Area,
	units.Currency, units.People, units.Unitless,
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	ratesRefresh, err := parsePositiveDuration("RATES_REFRESH_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	ratesTimeout, err := parsePositiveDuration("RATES_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	jobTTL, err := parsePositiveDuration("JOB_TTL", "24h")
	if err != nil {
		return nil, err
	}

	seed, err := parseBool("SQLITE_SEED", true)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaDispatchTopic: sharedcfg.EnvOrDefault("KAFKA_DISPATCH_TOPIC", "climate-jobs"),
		KafkaResultsTopic:  sharedcfg.EnvOrDefault("KAFKA_RESULTS_TOPIC", "climate-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "climate-risk-api"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:      mapboxToken,
		MapboxTokenParam: sharedcfg.EnvOrDefault("MAPBOX_TOKEN_PARAM", "access_token"),
		MapboxURL:        sharedcfg.EnvOrDefault("MAPBOX_URL", "https://api.mapbox.com/geocoding/v5/mapbox.places"),
		MapboxEnabled:    mapboxEnabled,
		MapboxTimeout:    mapboxTimeout,
		MapboxCacheSize:  parseMapboxCacheSize(),

		SQLitePath: sharedcfg.EnvOrDefault("SQLITE_PATH", "reca.db"),
		SQLiteSeed: seed,

		RatesURL:     sharedcfg.EnvOrDefault("RATES_URL", "https://api.frankfurter.app"),
		RatesRefresh: ratesRefresh,
		RatesTimeout: ratesTimeout,

		JobTTL:       jobTTL,
		DefaultUnits: parseDefaultUnits(),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaDispatchTopic == "" {
		return nil, errors.New("KAFKA_DISPATCH_TOPIC is required")
	}
	if cfg.KafkaResultsTopic == "" {
		return nil, errors.New("KAFKA_RESULTS_TOPIC is required")
	}
	if cfg.KafkaDispatchTopic == cfg.KafkaResultsTopic {
		return nil, errors.New("KAFKA_DISPATCH_TOPIC and KAFKA_RESULTS_TOPIC must differ")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.SQLitePath == "" {
		return nil, errors.New("SQLITE_PATH is required")
	}

	return cfg, nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

// parseDefaultUnits reads DEFAULT_UNITS_<DIMENSION>, e.g. DEFAULT_UNITS_CURRENCY=EUR.
// Values are checked against the unit registry when it is built.
func parseDefaultUnits() map[units.Dimension]string {
	out := make(map[units.Dimension]string)
	for _, dim := range unitDimensions {
		if v := os.Getenv("DEFAULT_UNITS_" + strings.ToUpper(string(dim))); v != "" {
			out[dim] = v
		}
	}
	return out
}
