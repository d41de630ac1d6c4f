package main

import (
	"log/slog"
	"net/http"

	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/serving"
)

func setupRouter(servingHandler *serving.Handler, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", servingHandler.Root)
	mux.HandleFunc("GET /health", servingHandler.Health)
	mux.HandleFunc("POST /predict/emotion", servingHandler.PredictEmotion)
	mux.HandleFunc("POST /predict/batch", servingHandler.PredictBatch)

	return httpserver.RequestID(httpserver.Recover(log)(mux))
}
