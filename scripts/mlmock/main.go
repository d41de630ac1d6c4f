// Mlmock is a stand-in for the emotion inference service used when testing
// the gateway. It serves canned predictions on /predict/emotion,
// /predict/batch and /health, and can simulate failures and slow responses.
//
// Usage:
//
//	go run ./scripts/mlmock -port 8000
//	go run ./scripts/mlmock -port 8000 -fail-rate 0.5 -latency 200ms
//
// The server logs all requests and returns JSON shaped like the real
// inference endpoints, so the gateway's retries, circuit breaker and
// degraded responses can be watched end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

var emotions = []string{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"}

type prediction struct {
	Emotion       string  `json:"emotion"`
	Confidence    float64 `json:"confidence"`
	BoundingBox   [4]int  `json:"bounding_box"`
	FacesDetected int     `json:"faces_detected"`
}

func randomPrediction() prediction {
	return prediction{
		Emotion:       emotions[rand.Intn(len(emotions))],
		Confidence:    0.6 + rand.Float64()*0.35,
		BoundingBox:   [4]int{24, 24, 96, 96},
		FacesDetected: 1,
	}
}

func main() {
	port := flag.Int("port", 8000, "port to listen on")
	failRate := flag.Float64("fail-rate", 0, "fraction of prediction requests answered with 500 (0..1)")
	latency := flag.Duration("latency", 0, "artificial delay before answering predictions")
	flag.Parse()

	writeJSON := func(w http.ResponseWriter, status int, payload any) {
		b, _ := json.Marshal(payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}

	// shared by both prediction endpoints
	simulate := func(w http.ResponseWriter, r *http.Request) bool {
		if *latency > 0 {
			time.Sleep(*latency)
		}
		if rand.Float64() < *failRate {
			log.Printf("request: method=%s path=%s from=%s -> simulated failure", r.Method, r.URL.Path, r.RemoteAddr)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"detail": map[string]string{"error": "Simulated inference failure"},
			})
			return false
		}
		return true
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/predict/emotion", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !simulate(w, r) {
			return
		}

		pred := randomPrediction()
		log.Printf("request: method=%s path=%s from=%s -> %s (%.2f)",
			r.Method, r.URL.Path, r.RemoteAddr, pred.Emotion, pred.Confidence)

		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"prediction": pred,
		})
	})

	mux.HandleFunc("/predict/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !simulate(w, r) {
			return
		}

		count := 1
		if err := r.ParseMultipartForm(32 << 20); err == nil && r.MultipartForm != nil {
			if files := r.MultipartForm.File["files"]; len(files) > 0 {
				count = len(files)
			}
		}

		predictions := make([]prediction, 0, count)
		for i := 0; i < count; i++ {
			predictions = append(predictions, randomPrediction())
		}

		log.Printf("request: method=%s path=%s from=%s -> %d predictions",
			r.Method, r.URL.Path, r.RemoteAddr, len(predictions))

		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"predictions":     predictions,
			"total_processed": len(predictions),
			"errors":          []string{},
		})
	})

	// health endpoint used by the gateway's health checker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"gpu_available": false,
			"model_loaded":  true,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting mock inference service on %s (fail-rate=%.2f latency=%v)", addr, *failRate, *latency)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
