package imagefile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"regexp"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxBytes is the upload size cap.
	MaxBytes = 5 << 20
	// MinDim and MaxDim bound each image side.
	MinDim = 10
	MaxDim = 10000

	// maxSide is the longest side kept after normalization.
	maxSide = 1024
)

var (
	ErrTooLarge   = errors.New("image exceeds max size")
	ErrFormat     = errors.New("unsupported image format")
	ErrDimensions = errors.New("image dimensions out of range")
)

var filenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Validate checks that data is a decodable jpeg, png, or webp image within
// the size and dimension limits. Only the header is parsed.
func Validate(data []byte) error {
	if len(data) > MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}

	switch format {
	case "jpeg", "png", "webp":
	default:
		return fmt.Errorf("%w: %s", ErrFormat, format)
	}

	if cfg.Width < MinDim || cfg.Height < MinDim {
		return fmt.Errorf("%w: %dx%d too small", ErrDimensions, cfg.Width, cfg.Height)
	}
	if cfg.Width > MaxDim || cfg.Height > MaxDim {
		return fmt.Errorf("%w: %dx%d too large", ErrDimensions, cfg.Width, cfg.Height)
	}

	return nil
}

// Decode parses the image and scales it down so the longest side is at most
// 1024 pixels, preserving aspect ratio.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	return Downscale(img, maxSide), nil
}

// Downscale resizes img so its longest side is at most limit, preserving
// aspect ratio. Images already small enough are returned unchanged.
func Downscale(img image.Image, limit int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= limit && height <= limit {
		return img
	}

	var newWidth, newHeight int
	if height > width {
		newHeight = limit
		newWidth = width * limit / height
	} else {
		newWidth = limit
		newHeight = height * limit / width
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}

// AllowedMIME reports whether contentType names a supported image type.
func AllowedMIME(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/webp":
		return true
	}

	return false
}

// AllowedExt reports whether filename carries a supported image extension.
func AllowedExt(filename string) bool {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".") {
	case "jpg", "jpeg", "png", "webp":
		return true
	}

	return false
}

// CleanFilename strips any leading path and replaces unexpected characters
// with underscores, falling back to upload.bin for unusable names.
func CleanFilename(name string) string {
	if name == "" {
		return "upload.bin"
	}

	cleaned := filenameChars.ReplaceAllString(filepath.Base(name), "_")
	if cleaned == "" || cleaned == "." {
		return "upload.bin"
	}

	return cleaned
}
