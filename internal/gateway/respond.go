package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mindbridge-ai/emotion-inference/internal/mlclient"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the detail envelope used for rejected requests.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]map[string]string{
		"detail": {"error": message},
	})
}

// passThrough relays the inference service's own error answer, preserving
// its status code and JSON body.
func passThrough(w http.ResponseWriter, statusErr *mlclient.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusErr.StatusCode)

	if json.Valid([]byte(statusErr.Body)) {
		_, _ = w.Write([]byte(statusErr.Body))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"detail": {"error": statusErr.Body},
	})
}
