package analyzer

import (
	"context"
	"image"
	"log/slog"

	"github.com/mindbridge-ai/emotion-inference/internal/emotion"
	"github.com/mindbridge-ai/emotion-inference/internal/faces"
	"github.com/mindbridge-ai/emotion-inference/internal/vision"
)

const defaultFallbackThreshold = 0.4

// FaceFinder locates faces in an image, best detection first.
type FaceFinder interface {
	Detect(img image.Image) []faces.Detection
}

// Model classifies a cropped face image into an emotion label with a
// confidence in [0, 1].
type Model interface {
	Classify(face image.Image) (label string, confidence float64, err error)
}

// Analyzer chains face detection, the primary classifier and the vision
// fallback into a single reading.
type Analyzer struct {
	finder    FaceFinder
	model     Model
	vision    *vision.Client
	mock      bool
	threshold float64
	logger    *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModel attaches the in-process classifier. Without one every detected
// face reads as neutral at 0.5 until a fallback improves on it.
func WithModel(model Model) Option {
	return func(a *Analyzer) {
		a.model = model
	}
}

// WithVisionFallback attaches the hosted vision model consulted for weak
// readings.
func WithVisionFallback(client *vision.Client) Option {
	return func(a *Analyzer) {
		a.vision = client
	}
}

// WithMockPredictions replaces classifier output with random labels. Face
// detection still runs, so bounding boxes and face counts stay real.
func WithMockPredictions(enabled bool) Option {
	return func(a *Analyzer) {
		a.mock = enabled
	}
}

// WithFallbackThreshold sets the confidence below which the vision fallback
// is consulted.
func WithFallbackThreshold(threshold float64) Option {
	return func(a *Analyzer) {
		a.threshold = threshold
	}
}

// WithLogger sets the logger for cascade decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// New builds an Analyzer around the given face finder.
func New(finder FaceFinder, opts ...Option) *Analyzer {
	a := &Analyzer{
		finder:    finder,
		threshold: defaultFallbackThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ModelLoaded reports whether an in-process classifier is attached.
func (a *Analyzer) ModelLoaded() bool {
	return a.model != nil
}

// Analyze produces an emotion reading for img. It returns nil when no face
// is found, except in mock mode where a fixed neutral reading stands in.
func (a *Analyzer) Analyze(ctx context.Context, img image.Image) *emotion.Prediction {
	detections := a.finder.Detect(img)

	if len(detections) == 0 {
		if a.mock {
			neutral := emotion.NeutralPrediction()
			return &neutral
		}
		return nil
	}

	best := detections[0]
	label, confidence := a.classifyFace(faces.Crop(img, best))

	if a.shouldFallBack(confidence) {
		if result := a.visionFallback(ctx, img); result != nil {
			label, confidence = result.Emotion, result.Confidence
		}
	}

	if a.mock {
		mocked := emotion.MockPrediction()
		label, confidence = mocked.Emotion, mocked.Confidence
	}

	box := best.Box()
	count := len(detections)
	return &emotion.Prediction{
		Emotion:       label,
		Confidence:    emotion.Clamp(confidence),
		BoundingBox:   &box,
		FacesDetected: &count,
	}
}

func (a *Analyzer) classifyFace(face image.Image) (string, float64) {
	if a.model == nil {
		return emotion.Neutral, 0.5
	}

	label, confidence, err := a.model.Classify(face)
	if err != nil {
		a.logger.Error("emotion model failed", slog.String("error", err.Error()))
		return emotion.Neutral, 0
	}
	return label, confidence
}

// shouldFallBack decides whether the vision model gets consulted. Mock mode
// never falls back, an absent classifier always does.
func (a *Analyzer) shouldFallBack(confidence float64) bool {
	if a.vision == nil || a.mock {
		return false
	}
	return a.model == nil || confidence < a.threshold
}

// visionFallback queries the hosted model with the full normalized image,
// not just the face crop, so the model sees the same context a person would.
func (a *Analyzer) visionFallback(ctx context.Context, img image.Image) *vision.Result {
	result, err := a.vision.Classify(ctx, img)
	if err != nil {
		a.logger.Warn("vision fallback failed", slog.String("error", err.Error()))
		return nil
	}
	if result != nil {
		a.logger.Info("vision fallback applied",
			slog.String("emotion", result.Emotion),
			slog.Float64("confidence", result.Confidence))
	}
	return result
}
