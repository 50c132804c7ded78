package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/api"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/command"
	"github.com/flockwatch/aggregator/internal/config"
	"github.com/flockwatch/aggregator/internal/correlate"
	"github.com/flockwatch/aggregator/internal/filter"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/reconcile"
	"github.com/flockwatch/aggregator/internal/store"
	"github.com/flockwatch/aggregator/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting FlockWatch aggregator")
	logger.Info("Configuration loaded",
		"http_addr", cfg.Server.Addr,
		"nats_url", cfg.NATS.URL,
		"redis_enabled", cfg.Redis.Enabled,
		"reconcile_interval", cfg.Reconcile.Interval,
		"resync_delay", cfg.Command.ResyncDelay,
		"fp_threshold", cfg.Correlation.FPThreshold)

	m := metrics.New(prometheus.DefaultRegisterer)
	agg := aggregate.New(logger, m)

	conn, err := bus.ConnectNATS(bus.NATSConfig{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	}, logger, agg.SetBusConnected)
	if err != nil {
		logger.Error("Failed to connect to detector bus", "error", err)
		os.Exit(1)
	}

	validator, err := validate.NewValidator(logger)
	if err != nil {
		logger.Error("Failed to compile payload schemas", "error", err)
		os.Exit(1)
	}

	if err := agg.Watch(conn, bus.NewDecoder(logger), validator); err != nil {
		logger.Error("Failed to subscribe to detector topics", "error", err)
		os.Exit(1)
	}

	var loop *reconcile.Loop
	var refresher command.Refresher
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		source := store.NewRedisSource(client, cfg.Redis.KeyPrefix, logger)
		loop = reconcile.New(agg, source, reconcile.Config{
			Interval: cfg.Reconcile.Interval,
			Timeout:  cfg.Reconcile.Timeout,
		}, m, logger)
		if err := loop.Start(conn); err != nil {
			logger.Error("Failed to start reconciliation loop", "error", err)
			os.Exit(1)
		}
		refresher = loop
	} else {
		logger.Info("Detection store disabled, reconciliation pull path off")
	}

	dispatcher := command.NewDispatcher(conn, agg, refresher, cfg.Command.ResyncDelay, m, logger)

	engine := correlate.NewEngine(logger)
	if cfg.Correlation.Profile != "" {
		if err := correlate.LoadProfile(cfg.Correlation.Profile, engine, logger); err != nil {
			logger.Warn("Failed to load correlation profile, using built-in windows", "error", err)
		}
	}

	filters := filter.NewManager(logger)
	filters.SetFPThreshold(cfg.Filter.FPThreshold)

	server := api.NewServer(logger, agg, dispatcher, filters, engine, cfg.Correlation.FPThreshold, m, prometheus.DefaultGatherer)

	// No write timeout: it would sever the SSE stream.
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Ask the detector to republish everything so the snapshot fills
	// without waiting for natural emissions.
	dispatcher.RequestState()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Aggregator started")
	<-sigChan

	logger.Info("Shutting down aggregator...")

	if loop != nil {
		loop.Close()
	}
	dispatcher.Close()

	// Closing the aggregator ends the subscriber streams, which lets the
	// HTTP server finish any open SSE connections.
	agg.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := conn.Drain(); err != nil {
		logger.Warn("Bus drain failed", "error", err)
	}

	logger.Info("Aggregator stopped")
}
