package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mindbridge-ai/emotion-inference/internal/gateway"
	"github.com/mindbridge-ai/emotion-inference/internal/imagefile"
	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
	"github.com/mindbridge-ai/emotion-inference/internal/mlclient"
	"github.com/mindbridge-ai/emotion-inference/internal/upstream"
)

type upload struct {
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(target, field string, uploads []upload) *http.Request {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, u := range uploads {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, field, u.filename))
		header.Set("Content-Type", u.contentType)
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(u.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func mustParse(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	Expect(err).NotTo(HaveOccurred())
	return u
}

var _ = Describe("Handler", func() {
	var (
		logger    *slog.Logger
		collector *metrics.Collector
		target    *upstream.Upstream
		handler   *gateway.Handler
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			cancel = nil
		}
	})

	buildStack := func(mlURL string) {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		collector = metrics.NewCollector(100, logger)
		collector.Start(ctx)

		client := mlclient.NewClient(mlURL,
			mlclient.WithLogger(logger),
			mlclient.WithSleeper(func(time.Duration) {}),
			mlclient.WithEvents(collector.EventChannel()),
		)
		target = upstream.New(mustParse(mlURL))
		handler = gateway.NewHandler(logger, client, target, collector)
	}

	validUpload := upload{
		filename:    "face.png",
		contentType: "image/png",
		data:        []byte("fake-image-bytes"),
	}

	Describe("DetectEmotion", func() {
		It("should forward the upload and pass the prediction through", func() {
			mlBody := `{
				"success": true,
				"prediction": {
					"emotion": "joy",
					"confidence": 0.9,
					"bounding_box": [1, 2, 3, 4],
					"faces_detected": 1
				}
			}`
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/predict/emotion"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(mlBody))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(mlBody))
			Expect(target.InFlight()).To(Equal(0))
			Expect(target.EWMATime()).To(BeNumerically(">", 0))
		})

		It("should reject a request without a file", func() {
			buildStack("http://localhost:1")

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, httptest.NewRequest(http.MethodPost, "/api/emotion/detect", nil))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "No file uploaded"}}`))
		})

		It("should reject an unsupported content type", func() {
			buildStack("http://localhost:1")

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{
				{filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
			}))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(
				`{"detail": {"error": "Unsupported file type. Allowed: jpg, jpeg, png, webp"}}`))
		})

		It("should reject a file over the size cap", func() {
			buildStack("http://localhost:1")

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{
				{
					filename:    "big.png",
					contentType: "image/png",
					data:        bytes.Repeat([]byte{0xCD}, imagefile.MaxBytes+1),
				},
			}))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "File too large. Max 5MB"}}`))
		})

		It("should pass a rejection from the inference service through", func() {
			mlBody := `{"detail": {"error": "File too large. Max 5MB"}}`
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(mlBody))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(mlBody))
		})

		It("should degrade to neutral when the service is unreachable", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(
				`{"success": true, "prediction": {"emotion": "neutral", "confidence": 0.5}}`))

			Eventually(func() int64 {
				return collector.Snapshot().Degraded
			}, time.Second, 10*time.Millisecond).Should(Equal(int64(1)))
		})

		It("should degrade to neutral on an unparseable answer", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>whoops</html>"))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(
				`{"success": true, "prediction": {"emotion": "neutral", "confidence": 0.5}}`))
		})
	})

	Describe("DetectBatch", func() {
		It("should forward valid files and pass the answer through", func() {
			var seenFiles int32
			mlBody := `{
				"success": true,
				"predictions": [{"emotion": "joy", "confidence": 0.9}],
				"total_processed": 1,
				"errors": []
			}`
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/predict/batch"))
				Expect(r.ParseMultipartForm(32 << 20)).To(Succeed())
				atomic.StoreInt32(&seenFiles, int32(len(r.MultipartForm.File["files"])))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(mlBody))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, multipartRequest("/api/emotion/batch", "files", []upload{
				validUpload,
				{filename: "face2.jpg", contentType: "image/jpeg", data: []byte("more-bytes")},
			}))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(mlBody))
			Expect(atomic.LoadInt32(&seenFiles)).To(Equal(int32(2)))
		})

		It("should skip invalid files before forwarding", func() {
			var seenFiles int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.ParseMultipartForm(32 << 20)).To(Succeed())
				atomic.StoreInt32(&seenFiles, int32(len(r.MultipartForm.File["files"])))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"success": true, "predictions": [], "total_processed": 0, "errors": []}`))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, multipartRequest("/api/emotion/batch", "files", []upload{
				validUpload,
				{filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
			}))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(atomic.LoadInt32(&seenFiles)).To(Equal(int32(1)))
		})

		It("should reject the batch when nothing valid remains", func() {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, multipartRequest("/api/emotion/batch", "files", []upload{
				{filename: "a.txt", contentType: "text/plain", data: []byte("a")},
				{filename: "b.txt", contentType: "text/plain", data: []byte("b")},
			}))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "No valid images uploaded"}}`))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(0)))
		})

		It("should reject a request without files", func() {
			buildStack("http://localhost:1")

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, httptest.NewRequest(http.MethodPost, "/api/emotion/batch", nil))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "No file uploaded"}}`))
		})

		It("should answer 503 when the service is unreachable", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, multipartRequest("/api/emotion/batch", "files", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "ML service unavailable"}}`))
		})

		It("should answer 502 on an unparseable answer", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>whoops</html>"))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectBatch(rec, multipartRequest("/api/emotion/batch", "files", []upload{validUpload}))

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(rec.Body.String()).To(MatchJSON(`{"detail": {"error": "Invalid ML response"}}`))
		})
	})

	Describe("Health", func() {
		It("should report the gateway's view of the service", func() {
			buildStack("http://localhost:1")

			rec := httptest.NewRecorder()
			handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{
				"status": "ok",
				"upstream_healthy": true,
				"circuit_state": "closed"
			}`))
		})
	})

	Describe("Metrics", func() {
		It("should merge client, gateway, and upstream figures", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"success": true, "prediction": {"emotion": "joy", "confidence": 0.9}}`))
			}))
			defer server.Close()
			buildStack(server.URL)

			rec := httptest.NewRecorder()
			handler.DetectEmotion(rec, multipartRequest("/api/emotion/detect", "file", []upload{validUpload}))
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = httptest.NewRecorder()
			handler.Metrics(rec, httptest.NewRequest(http.MethodGet, "/api/emotion/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))

			var payload map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &payload)).To(Succeed())

			client, ok := payload["client"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(client["success_count"]).To(BeNumerically("==", 1))
			Expect(client["circuit_state"]).To(Equal("closed"))

			up, ok := payload["upstream"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(up["healthy"]).To(BeTrue())
			Expect(up["url"]).To(Equal(server.URL))

			gw, ok := payload["gateway"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(gw).To(HaveKey("total_attempts"))
		})
	})
})
