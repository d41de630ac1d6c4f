package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindbridge-ai/emotion-inference/config"
	"github.com/mindbridge-ai/emotion-inference/internal/gateway"
	"github.com/mindbridge-ai/emotion-inference/internal/healthcheck"
	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
	"github.com/mindbridge-ai/emotion-inference/internal/mlclient"
	"github.com/mindbridge-ai/emotion-inference/internal/upstream"
	"github.com/mindbridge-ai/emotion-inference/pkg/logger"
)

const metricsBufferSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(ctx)

	client, target, err := initializeClient(ctx, cfg, collector, log)
	if err != nil {
		log.Error("Failed to initialize ML client", slog.Any("err", err))
		os.Exit(1)
	}

	gatewayHandler := gateway.NewHandler(log, client, target, collector)

	srv, err := httpserver.New(cfg.Gateway.Address, setupRouter(gatewayHandler, collector, log))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Emotion gateway listening",
		slog.String("address", cfg.Gateway.Address),
		slog.String("ml_url", cfg.ML.URL))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var rotation *logger.Rotation

	if cfg.Logging.File != "" {
		rotation = &logger.Rotation{
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}

	return logger.NewWithRotation(cfg.Logging.Level, true, cfg.Server.Environment, rotation)
}

func initializeClient(ctx context.Context, cfg *config.Config, collector *metrics.Collector, log *slog.Logger) (*mlclient.Client, *upstream.Upstream, error) {
	timeout, err := time.ParseDuration(cfg.ML.Timeout)
	if err != nil {
		return nil, nil, err
	}

	baseDelay, err := time.ParseDuration(cfg.ML.BaseDelay)
	if err != nil {
		return nil, nil, err
	}

	cooldown, err := time.ParseDuration(cfg.Breaker.Cooldown)
	if err != nil {
		return nil, nil, err
	}

	interval, err := time.ParseDuration(cfg.HealthCheck.Interval)
	if err != nil {
		return nil, nil, err
	}

	u, err := url.Parse(cfg.ML.URL)
	if err != nil {
		return nil, nil, err
	}

	target := upstream.New(u)

	client := mlclient.NewClient(cfg.ML.URL,
		mlclient.WithTimeout(timeout),
		mlclient.WithMaxRetries(cfg.ML.MaxRetries),
		mlclient.WithBaseDelay(baseDelay),
		mlclient.WithBreaker(cfg.Breaker.FailureThreshold, cooldown),
		mlclient.WithLogger(log),
		mlclient.WithEvents(collector.EventChannel()),
	)

	go healthcheck.HealthCheck(ctx, target, interval, collector.EventChannel(), log)

	return client, target, nil
}
