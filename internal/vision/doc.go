// Package vision labels face images through a hosted multimodal chat model.
// It is the low-confidence fallback behind the in-process classifier: the
// image travels inline as a base64 data URL and the model's free-form reply
// is scanned for an emotion label and a confidence figure.
package vision
