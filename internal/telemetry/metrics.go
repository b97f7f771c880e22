package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/casefront/outbound/internal/service/models/message"
)

// PipelineMetrics is the delivery pipeline's metrics sink. All instruments
// are tagged by channel; failure and dead-letter counters also carry the
// error code.
type PipelineMetrics struct {
	sendSuccess     metric.Int64Counter
	sendFailure     metric.Int64Counter
	retries         metric.Int64Counter
	deadLetters     metric.Int64Counter
	deliveryLatency metric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on the global meter.
func NewPipelineMetrics() *PipelineMetrics {
	meter := otel.Meter("outbound.pipeline")

	pm := &PipelineMetrics{}

	pm.sendSuccess, _ = meter.Int64Counter("outbound_send_success_total",
		metric.WithDescription("Messages delivered successfully"),
		metric.WithUnit("{message}"))

	pm.sendFailure, _ = meter.Int64Counter("outbound_send_failure_total",
		metric.WithDescription("Delivery attempts that failed"),
		metric.WithUnit("{attempt}"))

	pm.retries, _ = meter.Int64Counter("outbound_retry_total",
		metric.WithDescription("Messages re-queued for retry"),
		metric.WithUnit("{message}"))

	pm.deadLetters, _ = meter.Int64Counter("outbound_dead_letter_total",
		metric.WithDescription("Messages moved to the terminal FAILED state"),
		metric.WithUnit("{message}"))

	pm.deliveryLatency, _ = meter.Float64Histogram("outbound_delivery_latency_seconds",
		metric.WithDescription("Seconds from intake to successful delivery"),
		metric.WithUnit("s"))

	return pm
}

// RecordSuccess counts a delivery and its intake-to-delivery latency.
func (pm *PipelineMetrics) RecordSuccess(ctx context.Context, ch message.Channel, latencySeconds float64) {
	attrs := metric.WithAttributes(attribute.String("channel", string(ch)))
	pm.sendSuccess.Add(ctx, 1, attrs)
	pm.deliveryLatency.Record(ctx, latencySeconds, attrs)
}

// RecordFailure counts a failed attempt.
func (pm *PipelineMetrics) RecordFailure(ctx context.Context, ch message.Channel, code string) {
	pm.sendFailure.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("code", code),
	))
}

// RecordRetry counts a message returned to the queue.
func (pm *PipelineMetrics) RecordRetry(ctx context.Context, ch message.Channel) {
	pm.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(ch))))
}

// RecordDeadLetter counts a message entering the dead-letter state.
func (pm *PipelineMetrics) RecordDeadLetter(ctx context.Context, ch message.Channel, code string) {
	pm.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("code", code),
	))
}
