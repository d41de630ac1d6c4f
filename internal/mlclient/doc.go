// Package mlclient provides the resilient HTTP client for the emotion
// inference service.
//
// Every prediction call goes through a circuit breaker and a bounded retry
// loop:
//
//   - Replies with a status below 500 are terminal: 2xx is decoded, anything
//     else is returned as a StatusError without retrying.
//   - Server errors, transport failures, and timeouts count against the
//     breaker and are retried with exponential backoff (250ms, 500ms, 1s
//     between attempts).
//   - While the breaker is open, calls fail immediately with ErrUnavailable
//     and no attempt is made.
//
// The client keeps per-attempt metrics (counts, average latency, breaker
// state) which the gateway exposes unchanged.
package mlclient
