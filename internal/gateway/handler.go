package gateway

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mindbridge-ai/emotion-inference/internal/emotion"
	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/imagefile"
	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
	"github.com/mindbridge-ai/emotion-inference/internal/mlclient"
	"github.com/mindbridge-ai/emotion-inference/internal/upstream"
)

const (
	uploadField = "file"
	batchField  = "files"

	maxMultipartMemory = 32 << 20
)

// Handler serves the gateway endpoints.
type Handler struct {
	logger    *slog.Logger
	client    *mlclient.Client
	target    *upstream.Upstream
	collector *metrics.Collector
}

// NewHandler creates a Handler forwarding through the given client.
func NewHandler(logger *slog.Logger, client *mlclient.Client, target *upstream.Upstream, collector *metrics.Collector) *Handler {
	return &Handler{
		logger:    logger,
		client:    client,
		target:    target,
		collector: collector,
	}
}

// Health handles GET /health with the gateway's view of the inference
// service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"upstream_healthy": h.target.IsHealthy(),
		"circuit_state":    h.client.CircuitState().String(),
	})
}

// Metrics handles GET /api/emotion/metrics, merging the client's request
// counters, the collector's per-endpoint figures, and the upstream tracker.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"client": h.client.Metrics(),
		"upstream": map[string]any{
			"url":              h.target.URL().String(),
			"healthy":          h.target.IsHealthy(),
			"in_flight":        h.target.InFlight(),
			"ewma_response_ms": float64(h.target.EWMATime()) / float64(time.Millisecond),
		},
	}
	if h.collector != nil {
		payload["gateway"] = h.collector.Snapshot()
	}

	writeJSON(w, http.StatusOK, payload)
}

// DetectEmotion handles POST /api/emotion/detect. The upload is checked
// locally, forwarded to the inference service, and the service's answer
// passed through.
func (h *Handler) DetectEmotion(w http.ResponseWriter, r *http.Request) {
	requestID := httpserver.RequestIDFrom(r.Context())

	img, failure := h.readUpload(r)
	if failure != "" {
		h.logger.Warn("Rejected upload",
			slog.String("request_id", requestID),
			slog.String("reason", failure))
		writeError(w, http.StatusBadRequest, failure)
		return
	}

	h.logger.Info("Forwarding detection request",
		slog.String("request_id", requestID),
		slog.String("file", img.Filename),
		slog.Int("bytes", len(img.Data)))

	h.target.IncrementInFlight()
	defer h.target.DecrementInFlight()

	start := time.Now()
	result, err := h.client.PredictEmotion(r.Context(), img)
	duration := time.Since(start)

	if err != nil {
		h.respondAfterFailure(w, requestID, err)
		return
	}

	h.target.RecordResponse(duration)
	writeJSON(w, http.StatusOK, result)
}

// respondAfterFailure maps client failures on the single detection path.
// An answer from the service, even a rejection, passes through with its
// status; an unreachable service degrades to a neutral reading so the
// caller still gets an answer.
func (h *Handler) respondAfterFailure(w http.ResponseWriter, requestID string, err error) {
	var statusErr *mlclient.StatusError
	if errors.As(err, &statusErr) {
		h.logger.Warn("Inference service rejected request",
			slog.String("request_id", requestID),
			slog.Int("status", statusErr.StatusCode))
		passThrough(w, statusErr)
		return
	}

	h.logger.Error("Detection degraded to neutral",
		slog.String("request_id", requestID),
		slog.String("error", err.Error()))

	h.emitDegraded()

	writeJSON(w, http.StatusOK, emotion.PredictResponse{
		Success: true,
		Prediction: &emotion.Prediction{
			Emotion:    emotion.Neutral,
			Confidence: 0.5,
		},
	})
}

// DetectBatch handles POST /api/emotion/batch. Invalid files are skipped
// before forwarding; the batch fails only when nothing valid remains or
// the service cannot be reached.
func (h *Handler) DetectBatch(w http.ResponseWriter, r *http.Request) {
	requestID := httpserver.RequestIDFrom(r.Context())

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	headers := r.MultipartForm.File[batchField]
	if len(headers) == 0 {
		h.logger.Warn("Batch request missing files",
			slog.String("request_id", requestID))
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	images := make([]mlclient.NamedImage, 0, len(headers))
	for _, header := range headers {
		img, failure := readPart(header)
		if failure != "" {
			h.logger.Warn("Skipping invalid file",
				slog.String("request_id", requestID),
				slog.String("file", header.Filename),
				slog.String("reason", failure))
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		writeError(w, http.StatusBadRequest, "No valid images uploaded")
		return
	}

	h.logger.Info("Forwarding batch request",
		slog.String("request_id", requestID),
		slog.Int("files", len(images)))

	h.target.IncrementInFlight()
	defer h.target.DecrementInFlight()

	start := time.Now()
	result, err := h.client.PredictBatch(r.Context(), images)
	duration := time.Since(start)

	if err != nil {
		var statusErr *mlclient.StatusError
		switch {
		case errors.As(err, &statusErr):
			passThrough(w, statusErr)
		case errors.Is(err, mlclient.ErrUnavailable):
			h.logger.Error("Batch failed, inference service unavailable",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "ML service unavailable")
		default:
			h.logger.Error("Batch failed, invalid answer from inference service",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "Invalid ML response")
		}
		return
	}

	h.target.RecordResponse(duration)
	writeJSON(w, http.StatusOK, result)
}

// readUpload pulls the single uploaded image out of the request. Gateway
// checks stop at type and size; the inference service does the deeper
// image validation.
func (h *Handler) readUpload(r *http.Request) (mlclient.NamedImage, string) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return mlclient.NamedImage{}, "No file uploaded"
	}
	defer file.Close()

	return readFilePart(file, header)
}

func readPart(header *multipart.FileHeader) (mlclient.NamedImage, string) {
	file, err := header.Open()
	if err != nil {
		return mlclient.NamedImage{}, "Invalid upload"
	}
	defer file.Close()

	return readFilePart(file, header)
}

func readFilePart(file multipart.File, header *multipart.FileHeader) (mlclient.NamedImage, string) {
	contentType := header.Header.Get("Content-Type")
	if !imagefile.AllowedMIME(contentType) {
		return mlclient.NamedImage{}, "Unsupported file type. Allowed: jpg, jpeg, png, webp"
	}

	if header.Size > imagefile.MaxBytes {
		return mlclient.NamedImage{}, "File too large. Max 5MB"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return mlclient.NamedImage{}, "Invalid upload"
	}

	return mlclient.NamedImage{
		Filename:    imagefile.CleanFilename(header.Filename),
		ContentType: contentType,
		Data:        data,
	}, ""
}

func (h *Handler) emitDegraded() {
	if h.collector == nil {
		return
	}

	select {
	case h.collector.EventChannel() <- metrics.MetricEvent{
		Type:      metrics.EventDegraded,
		Timestamp: time.Now(),
	}:
	default:
	}
}
