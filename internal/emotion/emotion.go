package emotion

import (
	"math"
	"math/rand"
	"strings"
)

// Neutral is the fallback label used whenever no tier produced a result.
const Neutral = "neutral"

// Labels is the closed emotion vocabulary, in canonical order.
var Labels = []string{"anger", "disgust", "fear", "joy", Neutral, "sadness", "surprise"}

// Valid reports whether label is part of the vocabulary.
func Valid(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}

	return false
}

// Match scans text for the first vocabulary label it contains, in canonical
// order. Matching is case-insensitive and substring based, so "overjoyed"
// matches "joy".
func Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, l := range Labels {
		if strings.Contains(lowered, l) {
			return l, true
		}
	}

	return "", false
}

// Clamp bounds a confidence score to [0, 1].
func Clamp(confidence float64) float64 {
	return min(max(confidence, 0), 1)
}

// MockPrediction returns a prediction with a random vocabulary label and a
// confidence drawn uniformly from [0.6, 0.95], rounded to three decimals.
func MockPrediction() Prediction {
	confidence := 0.6 + rand.Float64()*0.35

	return Prediction{
		Emotion:    Labels[rand.Intn(len(Labels))],
		Confidence: math.Round(confidence*1000) / 1000,
	}
}

// NeutralPrediction is the fixed mock result for images without a face.
func NeutralPrediction() Prediction {
	faces := 0
	return Prediction{Emotion: Neutral, Confidence: 0.5, FacesDetected: &faces}
}
