package faces

import (
	"image"
	"log/slog"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
)

const (
	minFaceSize      = 30
	maxFaceSize      = 1000
	shiftFactor      = 0.1
	scaleFactor      = 1.1
	clusterOverlap   = 0.2
	qualityThreshold = 5.0
)

// Detection is one detected face in pixel coordinates of the analyzed image.
type Detection struct {
	X       int
	Y       int
	W       int
	H       int
	Quality float32
}

// Box returns the detection as [x, y, width, height].
func (d Detection) Box() [4]int {
	return [4]int{d.X, d.Y, d.W, d.H}
}

// Detector locates faces in normalized images using a pigo cascade.
type Detector struct {
	classifier *pigo.Pigo
	logger     *slog.Logger
}

// NewDetector loads the binary cascade at path. An empty path or a failed
// load leaves the detector disabled rather than failing startup; a disabled
// detector reports zero faces for every image.
func NewDetector(path string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{logger: logger}

	if path == "" {
		logger.Warn("no face cascade configured, face detection disabled")
		return d
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read face cascade, face detection disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return d
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		logger.Error("failed to unpack face cascade, face detection disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return d
	}

	d.classifier = classifier
	logger.Info("face cascade loaded",
		slog.String("path", path),
		slog.Int("bytes", len(data)))
	return d
}

// Enabled reports whether a cascade was loaded.
func (d *Detector) Enabled() bool {
	return d.classifier != nil
}

// Detect returns the faces found in img ordered by detection quality, best
// first. A disabled detector returns nil.
func (d *Detector) Detect(img image.Image) []Detection {
	if d.classifier == nil {
		return nil
	}

	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Max.X, src.Bounds().Max.Y

	maxSize := maxFaceSize
	if side := min(cols, rows); side < maxSize {
		maxSize = side
	}

	params := pigo.CascadeParams{
		MinSize:     minFaceSize,
		MaxSize:     maxSize,
		ShiftFactor: shiftFactor,
		ScaleFactor: scaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, clusterOverlap)

	found := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Q < qualityThreshold {
			continue
		}
		half := det.Scale / 2
		found = append(found, Detection{
			X:       det.Col - half,
			Y:       det.Row - half,
			W:       det.Scale,
			H:       det.Scale,
			Quality: det.Q,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].Quality > found[j].Quality
	})

	return found
}

// Crop extracts the detection's region from img, clamped to the image
// bounds. It returns img unchanged when the clamped region is empty.
func Crop(img image.Image, det Detection) image.Image {
	bounds := img.Bounds()
	region := image.Rect(det.X, det.Y, det.X+det.W, det.Y+det.H).Intersect(bounds)
	if region.Empty() {
		return img
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if sub, ok := img.(subImager); ok {
		return sub.SubImage(region)
	}
	return img
}
