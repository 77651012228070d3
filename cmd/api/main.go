package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/climate-risk-api/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-risk-api/internal/adapter/kafka"
	"github.com/couchcryptid/climate-risk-api/internal/adapter/mapbox"
	"github.com/couchcryptid/climate-risk-api/internal/adapter/rates"
	"github.com/couchcryptid/climate-risk-api/internal/adapter/sqlite"
	"github.com/couchcryptid/climate-risk-api/internal/config"
	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/jobs"
	"github.com/couchcryptid/climate-risk-api/internal/observability"
	"github.com/couchcryptid/climate-risk-api/internal/options"
	"github.com/couchcryptid/climate-risk-api/internal/pipeline"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// readiness is ready when every check passes.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.SQLitePath)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.SQLiteSeed {
		seed, err := sqlite.DefaultSeed()
		if err == nil {
			err = db.Seed(ctx, seed)
		}
		if err != nil {
			logger.Error("failed to seed database", "error", err)
			os.Exit(1)
		}
	}

	doc, err := options.Load()
	if err != nil {
		logger.Error("failed to load options", "error", err)
		os.Exit(1)
	}
	reg, err := units.NewRegistry(doc, cfg.DefaultUnits)
	if err != nil {
		logger.Error("invalid unit configuration", "error", err)
		os.Exit(1)
	}

	rateSource := units.NewCachedRates(
		rates.NewClient(cfg.RatesURL, cfg.RatesTimeout, logger),
		reg.NativeUnit(units.Currency), cfg.RatesRefresh, logger,
		units.WithFetchObserver(func(outcome string) {
			metrics.RateRefreshes.WithLabelValues(outcome).Inc()
		}),
	)
	conv := units.NewConverter(reg, rateSource)

	// Precalculated locations answer first; the external geocoder is
	// feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	resolver := domain.ChainResolver{db.Locations()}
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger,
			mapbox.WithBaseURL(cfg.MapboxURL), mapbox.WithTokenParam(cfg.MapboxTokenParam))
		resolver = append(resolver, mapbox.NewCachedResolver(client, cfg.MapboxCacheSize, metrics))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("geocoding enabled", "url", cfg.MapboxURL, "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("geocoding disabled, using precalculated locations only")
	}
	normalizer := domain.NewNormalizer(reg, resolver, logger)

	writer := kafkaadapter.NewWriter(cfg, logger)
	svc := jobs.NewService(db.Jobs(), writer, normalizer, conv, logger, metrics, jobs.WithTTL(cfg.JobTTL))

	reader := kafkaadapter.NewReader(cfg, logger)
	p := pipeline.New(reader, pipeline.NewTransformer(logger), svc, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.API{
		Jobs:       svc,
		Normalizer: normalizer,
		Converter:  conv,
		Measures:   db.Measures(),
		Places:     resolver,
		Locations:  db.Locations(),
	}, readiness{db, p}, metrics, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start result consumer.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
