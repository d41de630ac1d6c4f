package mlclient

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned both when the circuit breaker rejects a call
// outright and when every retry attempt has failed. Callers see the same
// error either way; the metrics tell them apart, since a rejected call
// records no attempts.
var ErrUnavailable = errors.New("ml service unavailable")

// StatusError is a reply below 500 outside the 2xx range. The service
// answered deliberately, so the call is not retried and the status and body
// are handed back unchanged.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ml service returned status %d: %s", e.StatusCode, e.Body)
}

// BadResponseError reports a successful reply whose body could not be
// decoded. It is never silently replaced with a default prediction.
type BadResponseError struct {
	Err error
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("invalid ml response: %v", e.Err)
}

func (e *BadResponseError) Unwrap() error {
	return e.Err
}
