// Package upstream tracks the remote inference service as seen from the
// gateway: probe-driven health status, in-flight request counting, and a
// smoothed response time average.
package upstream
