// The detector simulator stands in for the real detector process: it
// publishes plausible telemetry on every detector topic, answers the full
// command set, and optionally mirrors its detection store into Redis so
// the aggregator's reconciliation pull path runs against live data.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/config"
	"github.com/flockwatch/aggregator/internal/sim"
	"github.com/flockwatch/aggregator/internal/store"
)

func main() {
	var (
		natsURL   = flag.String("nats", "nats://localhost:4222", "NATS server URL")
		redisAddr = flag.String("redis", "", "Redis address for the detection store mirror (empty disables it)")
		keyPrefix = flag.String("prefix", store.DefaultKeyPrefix, "Redis key prefix")
		interval  = flag.Duration("interval", 2*time.Second, "telemetry tick interval")
		seed      = flag.Int64("seed", 0, "generator seed (0 seeds from the clock)")
		logLevel  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting FlockWatch detector simulator",
		"nats_url", *natsURL,
		"interval", *interval,
	)

	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = *natsURL
	natsCfg.Name = "flockwatch-detector-sim"
	conn, err := bus.ConnectNATS(natsCfg, logger, nil)
	if err != nil {
		logger.Error("Failed to connect to bus", "error", err)
		os.Exit(1)
	}

	var sink *store.RedisSink
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		sink = store.NewRedisSink(client, *keyPrefix)
		logger.Info("Mirroring detections to Redis", "addr", *redisAddr, "prefix", *keyPrefix)
	}

	simulator := sim.New(conn, store.NewMemoryStore(256), sink, sim.Config{
		Interval: *interval,
		Seed:     *seed,
	}, logger)
	if err := simulator.Start(); err != nil {
		logger.Error("Failed to start simulator", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	simulator.Close()
	if err := conn.Drain(); err != nil {
		logger.Warn("Bus drain failed", "error", err)
	}
	logger.Info("Detector simulator stopped")
}
