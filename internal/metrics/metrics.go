package metrics

import (
	"sort"
	"sync"
	"time"
)

type Metrics struct {
	mutex           sync.RWMutex
	attempts        map[string]int64
	successes       map[string]int64
	failures        map[string]int64
	responseTimes   map[string][]time.Duration
	statusCodes     map[string]map[int]int64
	rejected        int64
	degraded        int64
	upstreamHealthy bool
	startTime       time.Time
}

type Snapshot struct {
	TotalAttempts   int64                      `json:"total_attempts"`
	Rejected        int64                      `json:"rejected"`
	Degraded        int64                      `json:"degraded"`
	UpstreamHealthy bool                       `json:"upstream_healthy"`
	Uptime          time.Duration              `json:"uptime"`
	Endpoints       map[string]EndpointMetrics `json:"endpoints"`
}

type EndpointMetrics struct {
	Attempts    int64         `json:"attempts"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func (m *Metrics) RecordAttempt(endpoint string, duration time.Duration, statusCode int, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempts[endpoint]++
	if success {
		m.successes[endpoint]++
	} else {
		m.failures[endpoint]++
	}

	m.responseTimes[endpoint] = append(m.responseTimes[endpoint], duration)

	if len(m.responseTimes[endpoint]) > 1000 {
		m.responseTimes[endpoint] = m.responseTimes[endpoint][1:]
	}

	if statusCode > 0 {
		if m.statusCodes[endpoint] == nil {
			m.statusCodes[endpoint] = make(map[int]int64)
		}
		m.statusCodes[endpoint][statusCode]++
	}
}

func (m *Metrics) RecordRejection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejected++
}

func (m *Metrics) RecordDegradation() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.degraded++
}

func (m *Metrics) UpdateHealthStatus(healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.upstreamHealthy = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Rejected:        m.rejected,
		Degraded:        m.degraded,
		UpstreamHealthy: m.upstreamHealthy,
		Uptime:          time.Since(m.startTime),
		Endpoints:       make(map[string]EndpointMetrics),
	}

	// Collect all endpoints that recorded anything
	allEndpoints := make(map[string]bool)
	for endpoint := range m.attempts {
		allEndpoints[endpoint] = true
	}
	for endpoint := range m.responseTimes {
		allEndpoints[endpoint] = true
	}

	for endpoint := range allEndpoints {
		snap.TotalAttempts += m.attempts[endpoint]

		em := EndpointMetrics{
			Attempts:    m.attempts[endpoint],
			Successes:   m.successes[endpoint],
			Failures:    m.failures[endpoint],
			StatusCodes: m.statusCodes[endpoint],
		}

		durations := m.responseTimes[endpoint]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			em.AvgResponse = average(sorted)
			em.P50Response = percentile(sorted, 0.50)
			em.P95Response = percentile(sorted, 0.95)
			em.P99Response = percentile(sorted, 0.99)
		}

		snap.Endpoints[endpoint] = em
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		attempts:      make(map[string]int64),
		successes:     make(map[string]int64),
		failures:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		// the upstream starts healthy and the checker only reports
		// transitions, so the snapshot starts from the same assumption
		upstreamHealthy: true,
		startTime:       time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
