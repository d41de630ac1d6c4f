// Package gateway implements the consumer-facing HTTP surface in front of
// the inference service. Uploads are checked locally and forwarded through
// the resilient client; single detections degrade to a neutral reading when
// the service cannot be reached, while the service's own rejections pass
// through untouched.
package gateway
