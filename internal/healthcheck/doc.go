// Package healthcheck implements periodic health probing of the remote
// inference service. It updates the upstream's health status from HTTP
// health endpoint responses and reports transitions to the metrics
// collector.
package healthcheck
