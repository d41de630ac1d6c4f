// Package imagefile validates and normalizes uploaded images. It enforces
// the supported formats (jpeg, png, webp), the size and dimension limits,
// and scales large images down before they reach the detection pipeline.
package imagefile
