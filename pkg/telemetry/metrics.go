package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	upstreamCallCounter      metric.Int64Counter
	upstreamFailureCounter   metric.Int64Counter
	upstreamLatencyHistogram metric.Float64Histogram
)

// UpstreamMetrics captures the fields needed to record one outbound backend call.
type UpstreamMetrics struct {
	Domain     string
	Outcome    string
	Reason     string
	StatusCode int
	Duration   time.Duration
}

// RecordUpstreamCall emits counters and histograms describing an outbound call.
// It is a no-op until a MeterProvider is installed.
func RecordUpstreamCall(ctx context.Context, m UpstreamMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("upstream.domain", m.Domain),
		attribute.String("upstream.outcome", m.Outcome),
	}

	upstreamCallCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		upstreamLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Reason != "" {
		failureAttrs := append(attrs, attribute.String("upstream.reason", m.Reason))
		if m.StatusCode != 0 {
			failureAttrs = append(failureAttrs, attribute.Int("http.response.status_code", m.StatusCode))
		}
		upstreamFailureCounter.Add(ctx, 1, metric.WithAttributes(failureAttrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("gateway.upstream")

		upstreamCallCounter, metricsInitErr = meter.Int64Counter(
			"gateway.upstream.calls_total",
			metric.WithDescription("Outbound backend calls partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		upstreamFailureCounter, metricsInitErr = meter.Int64Counter(
			"gateway.upstream.failures_total",
			metric.WithDescription("Outbound backend failures partitioned by reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		upstreamLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gateway.upstream.duration_ms",
			metric.WithDescription("Observed outbound call latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordUpstreamFailure attaches the swallowed failure to the current span so
// the detail survives in traces even though the client never sees it.
func RecordUpstreamFailure(span trace.Span, domain, reason string, err error) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("upstream.domain", domain),
		attribute.String("upstream.reason", reason),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	span.AddEvent("upstream.unavailable", trace.WithAttributes(attrs...))
}
