package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mindbridge-ai/emotion-inference/internal/circuitbreaker"
	"github.com/mindbridge-ai/emotion-inference/internal/emotion"
	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
)

const (
	singleEndpoint = "/predict/emotion"
	batchEndpoint  = "/predict/batch"
	healthEndpoint = "/health"

	defaultTimeout          = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBaseDelay        = 250 * time.Millisecond
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// NamedImage is one image entry in a prediction call.
type NamedImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client talks to a single emotion inference service. It owns its circuit
// breaker and its metrics counters; neither is shared between clients.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	sleeper    func(time.Duration)
	events     chan<- metrics.MetricEvent

	mutex         sync.Mutex
	successCount  int64
	failureCount  int64
	rejectedCount int64
	totalRequests int64
	totalLatency  time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithTimeout overrides the per-request HTTP timeout (defaults to 10s).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxRetries overrides the attempt budget per call (defaults to 3).
func WithMaxRetries(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
	}
}

// WithBaseDelay overrides the first backoff delay; later delays double it.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay >= 0 {
			c.baseDelay = delay
		}
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(c *Client) {
		c.breaker = circuitbreaker.NewCircuitBreaker(threshold, cooldown)
	}
}

// WithLogger sets the logger used for per-attempt logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithEvents wires the client to the metrics collector. Sends never block;
// events are dropped when the channel is full.
func WithEvents(events chan<- metrics.MetricEvent) Option {
	return func(c *Client) {
		c.events = events
	}
}

// NewClient constructs a client for the inference service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    circuitbreaker.NewCircuitBreaker(defaultFailureThreshold, defaultCooldown),
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client
}

// PredictEmotion sends one image to the single prediction endpoint.
func (c *Client) PredictEmotion(ctx context.Context, image NamedImage) (*emotion.PredictResponse, error) {
	payload, contentType, err := encodeMultipart("file", []NamedImage{image})
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	body, err := c.send(ctx, singleEndpoint, contentType, payload)
	if err != nil {
		return nil, err
	}

	var out emotion.PredictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Error("invalid JSON from ml service", slog.String("body", truncate(string(body), 200)))
		return nil, &BadResponseError{Err: err}
	}

	return &out, nil
}

// PredictBatch sends up to ten images to the batch prediction endpoint.
func (c *Client) PredictBatch(ctx context.Context, images []NamedImage) (*emotion.BatchResponse, error) {
	payload, contentType, err := encodeMultipart("files", images)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	body, err := c.send(ctx, batchEndpoint, contentType, payload)
	if err != nil {
		return nil, err
	}

	var out emotion.BatchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Error("invalid JSON from ml service", slog.String("body", truncate(string(body), 200)))
		return nil, &BadResponseError{Err: err}
	}

	return &out, nil
}

// Health probes the service health endpoint once. It bypasses the breaker
// and the retry loop; the periodic health checker owns availability tracking.
func (c *Client) Health(ctx context.Context) (*emotion.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var status emotion.HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &BadResponseError{Err: err}
	}

	return &status, nil
}

// CircuitState reports the breaker's current state.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breaker.State()
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeTerminal
	outcomeRetryable
)

// classify maps a raw attempt result onto the retry state machine. A reply
// below 500 is terminal for the call: the service answered deliberately and
// retrying will not change its mind. Server errors and transport failures,
// including timeouts, are transient.
func classify(statusCode int, err error) attemptOutcome {
	switch {
	case err != nil:
		return outcomeRetryable
	case statusCode >= 500:
		return outcomeRetryable
	case statusCode >= 200 && statusCode < 300:
		return outcomeSuccess
	default:
		return outcomeTerminal
	}
}

// send runs the retry loop for one logical call. Terminal outcomes return
// immediately; retryable ones sleep and try again until the attempt budget
// is spent.
func (c *Client) send(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	if !c.breaker.Allow() {
		c.recordRejection()
		c.emit(metrics.MetricEvent{
			Type:      metrics.EventCallRejected,
			Timestamp: time.Now(),
			Endpoint:  path,
		})
		c.logger.Warn("circuit breaker open, rejecting call", slog.String("endpoint", path))
		return nil, fmt.Errorf("circuit open: %w", ErrUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		start := time.Now()
		statusCode, body, err := c.once(ctx, path, contentType, payload)
		latency := time.Since(start)

		outcome := classify(statusCode, err)
		c.recordAttempt(outcome == outcomeSuccess, latency)
		c.emit(metrics.MetricEvent{
			Type:       metrics.EventAttemptCompleted,
			Timestamp:  time.Now(),
			Endpoint:   path,
			Duration:   latency,
			StatusCode: statusCode,
			Success:    outcome == outcomeSuccess,
		})

		switch outcome {
		case outcomeSuccess:
			c.breaker.RecordSuccess()
			c.logger.Info("ml request",
				slog.String("endpoint", path),
				slog.Int("status", statusCode),
				slog.Duration("latency", latency))
			return body, nil

		case outcomeTerminal:
			c.breaker.RecordSuccess()
			c.logger.Warn("ml request refused",
				slog.String("endpoint", path),
				slog.Int("status", statusCode))
			return nil, &StatusError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}

		case outcomeRetryable:
			c.breaker.RecordFailure()
			if err == nil {
				err = fmt.Errorf("ml service returned status %d", statusCode)
			}
			lastErr = err
			c.logger.Warn("ml attempt failed",
				slog.String("endpoint", path),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
		}

		if attempt < c.maxRetries-1 {
			// Exponential backoff between attempts: 250ms, 500ms, 1s.
			if err := c.sleep(ctx, c.baseDelay<<attempt); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Error("ml request failed, retries exhausted",
		slog.String("endpoint", path),
		slog.Int("attempts", c.maxRetries),
		slog.String("error", lastErr.Error()))
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, c.maxRetries, lastErr)
}

// once runs a single HTTP exchange.
func (c *Client) once(ctx context.Context, path, contentType string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}

	return resp.StatusCode, body, nil
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) emit(event metrics.MetricEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}

func (c *Client) recordAttempt(success bool, latency time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalRequests++
	c.totalLatency += latency
	if success {
		c.successCount++
	} else {
		c.failureCount++
	}
}

func (c *Client) recordRejection() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rejectedCount++
}

// Metrics is a point-in-time snapshot of the client counters. Every attempt
// counts toward TotalRequests, so SuccessCount plus FailureCount always
// equals TotalRequests. AverageLatency is in milliseconds, 0 when nothing
// has been recorded. Rejected calls record no attempts, which is how a
// fail-fast ErrUnavailable can be told apart from an exhausted retry loop.
type Metrics struct {
	SuccessCount   int64   `json:"success_count"`
	FailureCount   int64   `json:"failure_count"`
	RejectedCount  int64   `json:"rejected_count"`
	TotalRequests  int64   `json:"total_requests"`
	AverageLatency float64 `json:"average_latency"`
	CircuitState   string  `json:"circuit_state"`
}

func (c *Client) Metrics() Metrics {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var avg float64
	if c.totalRequests > 0 {
		avg = c.totalLatency.Seconds() * 1000 / float64(c.totalRequests)
		avg = math.Round(avg*100) / 100
	}

	return Metrics{
		SuccessCount:   c.successCount,
		FailureCount:   c.failureCount,
		RejectedCount:  c.rejectedCount,
		TotalRequests:  c.totalRequests,
		AverageLatency: avg,
		CircuitState:   c.breaker.State().String(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
