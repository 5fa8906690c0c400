package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/p2pquake-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/p2pquake-service/internal/adapter/kafka"
	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/adapter/sqlite"
	"github.com/couchcryptid/p2pquake-service/internal/adapter/websocket"
	"github.com/couchcryptid/p2pquake-service/internal/config"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/monitor"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
	"github.com/couchcryptid/p2pquake-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := p2p.NewClient(cfg.BaseURL, cfg.APITimeout, cfg.RateLimitDelay, metrics, logger)
	cache := monitor.NewCache(cfg.HistorySize)
	registry := monitor.NewRegistry(metrics, logger)
	mon := monitor.New(monitor.Options{
		URL:     cfg.WSURL,
		Enabled: cfg.WebSocketEnabled,
		Dialer:  websocket.NewDialer(cfg.APITimeout),
		Backoff: monitor.ConstantBackoff(cfg.ReconnectInterval),
	}, cache, registry, metrics, logger)

	svc := service.New(service.Settings{
		UseSandbox:       cfg.UseSandbox,
		WebSocketEnabled: cfg.WebSocketEnabled,
		BaseURL:          cfg.BaseURL,
		WSURL:            cfg.WSURL,
	}, client, mon, cache, registry, logger)

	hub := httpadapter.NewBroadcaster(metrics, logger)
	for _, code := range domain.KnownCodes {
		svc.RegisterCallback(code, hub)
	}

	// Optional sinks (feature-flagged via KAFKA_ENABLED / SQLITE_ENABLED).
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		for _, code := range domain.KnownCodes {
			svc.RegisterCallback(code, writer)
		}
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var (
		store  *sqlite.Store
		alerts httpadapter.AlertReader
	)
	if cfg.SQLiteEnabled {
		store, err = sqlite.Open(cfg.SQLitePath, cfg.AlertMagnitudeThreshold, logger)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err, "path", cfg.SQLitePath)
			os.Exit(1)
		}
		for _, code := range domain.KnownCodes {
			svc.RegisterCallback(code, store)
		}
		alerts = store
		logger.Info("sqlite persistence enabled", "path", cfg.SQLitePath, "alert_threshold", cfg.AlertMagnitudeThreshold)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, alerts, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	svc.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	svc.Stop()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("sqlite close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
