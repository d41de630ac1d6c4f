package serving

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mindbridge-ai/emotion-inference/internal/analyzer"
	"github.com/mindbridge-ai/emotion-inference/internal/emotion"
	"github.com/mindbridge-ai/emotion-inference/internal/httpserver"
	"github.com/mindbridge-ai/emotion-inference/internal/imagefile"
)

const (
	// ServiceName and ServiceVersion identify the daemon on the root
	// endpoint.
	ServiceName    = "Mind Bridge AI ML Service"
	ServiceVersion = "1.0.0"

	uploadField  = "file"
	batchField   = "files"
	maxBatchSize = 10

	maxMultipartMemory = 32 << 20
)

// Handler serves the inference endpoints.
type Handler struct {
	logger   *slog.Logger
	analyzer *analyzer.Analyzer
}

// NewHandler creates a Handler around the given analyzer.
func NewHandler(logger *slog.Logger, analyzer *analyzer.Analyzer) *Handler {
	return &Handler{
		logger:   logger,
		analyzer: analyzer,
	}
}

// Root handles GET / with service information.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"version": ServiceVersion,
		"endpoints": map[string]string{
			"health":         "/health",
			"predict_single": "/predict/emotion",
			"predict_batch":  "/predict/batch",
		},
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, emotion.HealthStatus{
		Status: "ok",
		// inference here is CPU only
		GPUAvailable: false,
		ModelLoaded:  h.analyzer.ModelLoaded(),
	})
}

// PredictEmotion handles POST /predict/emotion with a single multipart
// image under the "file" field. A missing face is a successful request
// with success set to false, not an error status.
func (h *Handler) PredictEmotion(w http.ResponseWriter, r *http.Request) {
	requestID := httpserver.RequestIDFrom(r.Context())

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	cleaned, failure := checkPart(header)
	if failure != "" {
		h.logger.Warn("Rejected upload",
			slog.String("request_id", requestID),
			slog.String("reason", failure))
		writeError(w, http.StatusBadRequest, failure)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil || imagefile.Validate(data) != nil {
		writeError(w, http.StatusBadRequest, "Invalid image. Ensure jpg/png/webp and <= 5MB")
		return
	}

	h.logger.Info("Received prediction request",
		slog.String("request_id", requestID),
		slog.String("file", cleaned),
		slog.Int("bytes", len(data)))

	img, err := imagefile.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to preprocess image")
		return
	}

	start := time.Now()
	prediction := h.analyzer.Analyze(r.Context(), img)
	duration := time.Since(start)

	if prediction == nil {
		h.logger.Info("No face detected",
			slog.String("request_id", requestID),
			slog.String("file", cleaned))
		writeJSON(w, http.StatusOK, emotion.PredictResponse{
			Success: false,
			Error:   "No face detected in image",
		})
		return
	}

	h.logger.Info("Prediction completed",
		slog.String("request_id", requestID),
		slog.String("emotion", prediction.Emotion),
		slog.Float64("confidence", prediction.Confidence),
		slog.Duration("duration", duration))

	writeJSON(w, http.StatusOK, emotion.PredictResponse{
		Success:    true,
		Prediction: prediction,
	})
}

// PredictBatch handles POST /predict/batch with up to ten images under the
// "files" field. Failures are reported per file so one bad image cannot
// sink the batch.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
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

	if len(headers) > maxBatchSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Batch size too large. Maximum %d images allowed.", maxBatchSize))
		return
	}

	h.logger.Info("Received batch request",
		slog.String("request_id", requestID),
		slog.Int("files", len(headers)))

	predictions := make([]emotion.Prediction, 0, len(headers))
	batchErrors := make([]string, 0)

	for i, header := range headers {
		prediction, reason := h.processBatchFile(r.Context(), header)
		if reason != "" {
			batchErrors = append(batchErrors, fmt.Sprintf("File %d: %s", i+1, reason))
			continue
		}
		predictions = append(predictions, *prediction)
	}

	h.logger.Info("Batch completed",
		slog.String("request_id", requestID),
		slog.Int("processed", len(predictions)),
		slog.Int("failed", len(batchErrors)))

	writeJSON(w, http.StatusOK, emotion.BatchResponse{
		Success:        len(predictions) > 0,
		Predictions:    predictions,
		TotalProcessed: len(predictions),
		Errors:         batchErrors,
	})
}

// processBatchFile runs one batch entry through the upload checks and the
// analyzer. The returned reason is empty on success.
func (h *Handler) processBatchFile(ctx context.Context, header *multipart.FileHeader) (*emotion.Prediction, string) {
	if _, failure := checkPart(header); failure != "" {
		return nil, failure
	}

	file, err := header.Open()
	if err != nil {
		return nil, "Invalid image file"
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "Invalid image file"
	}

	if err := imagefile.Validate(data); err != nil {
		return nil, "Invalid image file"
	}

	img, err := imagefile.Decode(data)
	if err != nil {
		return nil, "Failed to preprocess image"
	}

	prediction := h.analyzer.Analyze(ctx, img)
	if prediction == nil {
		return nil, "No face detected"
	}

	return prediction, ""
}

// checkPart validates one multipart image header the way clients expect:
// type and extension first, then the size cap.
func checkPart(header *multipart.FileHeader) (string, string) {
	if !imagefile.AllowedMIME(header.Header.Get("Content-Type")) {
		return "", "Unsupported file type. Allowed: jpg, jpeg, png, webp"
	}

	cleaned := imagefile.CleanFilename(header.Filename)
	if !imagefile.AllowedExt(cleaned) {
		return "", "Unsupported file type. Allowed: jpg, jpeg, png, webp"
	}

	if header.Size > imagefile.MaxBytes {
		return "", "File too large. Max 5MB"
	}

	return cleaned, ""
}
