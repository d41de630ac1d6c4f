package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindbridge-ai/emotion-inference/internal/metrics"
	"github.com/mindbridge-ai/emotion-inference/internal/upstream"
)

// HealthCheck periodically probes the upstream's health endpoint and updates
// its status from the response. Transitions are logged and, when an events
// channel is given, reported to the metrics collector.
func HealthCheck(
	ctx context.Context,
	target *upstream.Upstream,
	interval time.Duration,
	events chan<- metrics.MetricEvent,
	logger *slog.Logger,
) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("upstream", target.URL().String()))
			return

		case <-ticker.C:
			req, err := http.NewRequestWithContext(
				ctx, http.MethodGet, target.HealthURL(), nil)
			if err != nil {
				continue
			}

			healthy := false
			res, err := client.Do(req)
			if err == nil {
				healthy = res.StatusCode == http.StatusOK
				res.Body.Close()
			}

			if !target.SetHealthy(healthy) {
				continue
			}

			if healthy {
				logger.Info("Inference service is back up",
					slog.String("upstream", target.URL().String()))
			} else {
				logger.Warn("Inference service is down",
					slog.String("upstream", target.URL().String()))
			}

			if events != nil {
				select {
				case events <- metrics.MetricEvent{
					Type:      metrics.EventHealthChanged,
					Timestamp: time.Now(),
					Healthy:   healthy,
				}:
				default:
				}
			}
		}
	}
}
