package upstream

import (
	"net/url"
	"sync"
	"time"
)

// Upstream represents the remote inference service with health status,
// in-flight request tracking, and response time monitoring.
type Upstream struct {
	url              *url.URL
	mutex            sync.Mutex
	isHealthy        bool
	inFlight         int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// New creates a new Upstream for the given base URL.
// The upstream starts healthy until a probe says otherwise.
func New(url *url.URL) *Upstream {
	return &Upstream{
		url:       url,
		isHealthy: true,
	}
}

// URL returns the upstream base URL.
func (u *Upstream) URL() *url.URL {
	return u.url
}

// HealthURL returns the absolute URL of the upstream's health endpoint.
func (u *Upstream) HealthURL() string {
	return u.url.ResolveReference(&url.URL{Path: "/health"}).String()
}

// IsHealthy returns true if the upstream is currently healthy.
func (u *Upstream) IsHealthy() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.isHealthy
}

// SetHealthy updates the upstream's health status.
// Returns true if the status changed, false if it was already in that state.
func (u *Upstream) SetHealthy(healthy bool) (changed bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isHealthy == healthy {
		return false
	}

	u.isHealthy = healthy
	return true
}

// IncrementInFlight increments the in-flight request count.
func (u *Upstream) IncrementInFlight() {
	u.mutex.Lock()
	u.inFlight++
	u.mutex.Unlock()
}

// DecrementInFlight decrements the in-flight request count.
func (u *Upstream) DecrementInFlight() {
	u.mutex.Lock()
	if u.inFlight > 0 {
		u.inFlight--
	}
	u.mutex.Unlock()
}

// InFlight returns the current number of in-flight requests.
func (u *Upstream) InFlight() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.inFlight
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest request duration.
func (u *Upstream) RecordResponse(duration time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		u.ewmaResponseTime = duration
		u.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	u.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(u.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (u *Upstream) EWMATime() time.Duration {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		return 0
	}

	return u.ewmaResponseTime
}
