package emotion

// Prediction is the wire form of a single inference result. BoundingBox is
// [x, y, w, h] of the first detected face when one was found.
type Prediction struct {
	Emotion       string  `json:"emotion"`
	Confidence    float64 `json:"confidence"`
	BoundingBox   *[4]int `json:"bounding_box,omitempty"`
	FacesDetected *int    `json:"faces_detected,omitempty"`
}

// PredictResponse is the envelope returned by the single prediction endpoint.
type PredictResponse struct {
	Success    bool        `json:"success"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchResponse is the envelope returned by the batch prediction endpoint.
// Errors carries one "File N: reason" entry per failed input.
type BatchResponse struct {
	Success        bool         `json:"success"`
	Predictions    []Prediction `json:"predictions"`
	TotalProcessed int          `json:"total_processed"`
	Errors         []string     `json:"errors"`
}

// HealthStatus reports the serving daemon's readiness.
type HealthStatus struct {
	Status       string `json:"status"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}
