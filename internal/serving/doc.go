// Package serving implements the HTTP surface of the inference daemon: the
// single and batch prediction endpoints, the health report, and the service
// information root. Upload validation failures map to 400 responses with a
// detail envelope; analysis outcomes, including a missing face, are 200s.
package serving
