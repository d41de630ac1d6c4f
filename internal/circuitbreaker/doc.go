// Package circuitbreaker implements the circuit breaker pattern for the
// remote inference service.
//
// A circuit breaker prevents hammering a failing service by rejecting calls
// locally until it has had time to recover. It has three states:
//
//   - closed: normal operation, calls pass through
//   - open: service failing, calls rejected without touching the network
//   - half_open: cooldown elapsed, a single probe tests recovery
//
// Usage:
//
//	cb := circuitbreaker.NewCircuitBreaker(3, 30*time.Second)
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
