package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindbridge-ai/emotion-inference/config"
	"github.com/mindbridge-ai/emotion-inference/internal/analyzer"
	"github.com/mindbridge-ai/emotion-inference/internal/faces"
	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/serving"
	"github.com/mindbridge-ai/emotion-inference/internal/vision"
	"github.com/mindbridge-ai/emotion-inference/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := initializeAnalyzer(cfg, log)

	servingHandler := serving.NewHandler(log, engine)

	srv, err := httpserver.New(cfg.Serving.Address, setupRouter(servingHandler, log))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Emotion inference service listening",
		slog.String("address", cfg.Serving.Address),
		slog.Bool("model_loaded", engine.ModelLoaded()),
		slog.Bool("mock_predictions", cfg.Serving.MockPredictions))

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
			log.Error("Error starting inference service", slog.Any("err", err))
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

func initializeAnalyzer(cfg *config.Config, log *slog.Logger) *analyzer.Analyzer {
	finder := faces.NewDetector(cfg.Serving.CascadePath, log)

	opts := []analyzer.Option{
		analyzer.WithLogger(log),
		analyzer.WithMockPredictions(cfg.Serving.MockPredictions),
		analyzer.WithFallbackThreshold(cfg.Serving.FallbackThreshold),
	}

	if cfg.Vision.APIKey != "" {
		visionClient := vision.NewClient(cfg.Vision.APIKey,
			vision.WithBaseURL(cfg.Vision.BaseURL),
			vision.WithModel(cfg.Vision.Model),
			vision.WithLogger(log),
		)
		opts = append(opts, analyzer.WithVisionFallback(visionClient))

		log.Info("Vision fallback enabled", slog.String("model", cfg.Vision.Model))
	}

	return analyzer.New(finder, opts...)
}
