package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the license-specific OpenTelemetry instruments. A nil
// *Metrics disables recording; every record method is nil-safe.
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	HeartbeatFailures  metric.Int64Counter
	RevocationsApplied metric.Int64Counter
	RateLimitHits      metric.Int64Counter
	QueueDrains        metric.Int64Counter
}

// InitializeMetrics creates the license instruments on the given meter
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation passes by resulting status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.HeartbeatFailures, err = meter.Int64Counter(
		"license_heartbeat_failures_total",
		metric.WithDescription("Total number of failed session heartbeats"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat failures counter: %w", err)
	}

	m.RevocationsApplied, err = meter.Int64Counter(
		"license_revocations_applied_total",
		metric.WithDescription("Total number of server revocations applied locally"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	m.RateLimitHits, err = meter.Int64Counter(
		"license_activation_rate_limit_hits_total",
		metric.WithDescription("Total number of activation attempts blocked by rate limiting"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit hits counter: %w", err)
	}

	m.QueueDrains, err = meter.Int64Counter(
		"license_offline_queue_drains_total",
		metric.WithDescription("Total number of offline queue drain passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue drains counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordValidation(ctx context.Context, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("component", "license_manager"),
	)
	m.ValidationAttempts.Add(ctx, 1, labels)
	m.ValidationDuration.Record(ctx, elapsed.Seconds(), labels)
}

func (m *Metrics) recordActivation(ctx context.Context, mode string, success bool) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("component", "license_manager"),
	)
	m.ActivationAttempts.Add(ctx, 1, labels)
	if success {
		m.ActivationSuccess.Add(ctx, 1, labels)
	} else {
		m.ActivationFailures.Add(ctx, 1, labels)
	}
}

func (m *Metrics) recordHeartbeatFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.HeartbeatFailures.Add(ctx, 1)
}

func (m *Metrics) recordRevocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.RevocationsApplied.Add(ctx, 1)
}

func (m *Metrics) recordRateLimitHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitHits.Add(ctx, 1)
}

func (m *Metrics) recordQueueDrain(ctx context.Context) {
	if m == nil {
		return
	}
	m.QueueDrains.Add(ctx, 1)
}
