package main

import (
	"log/slog"
	"net/http"

	"github.com/mindbridge-ai/emotion-inference/internal/gateway"
	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
)

func setupRouter(gatewayHandler *gateway.Handler, collector *metrics.Collector, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", gatewayHandler.Health)
	mux.HandleFunc("POST /api/emotion/detect", gatewayHandler.DetectEmotion)
	mux.HandleFunc("POST /api/emotion/batch", gatewayHandler.DetectBatch)
	mux.HandleFunc("GET /api/emotion/metrics", gatewayHandler.Metrics)
	mux.HandleFunc("GET /metrics", collector.Handler())

	return httpserver.RequestID(httpserver.Recover(log)(mux))
}
