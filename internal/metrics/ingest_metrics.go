package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("ingest-metrics")

// IngestMetrics provides metrics collection for event ingestion
type IngestMetrics struct {
	eventsIngestedCounter   metric.Int64Counter
	eventsRejectedCounter   metric.Int64Counter
	eventsReplayedCounter   metric.Int64Counter
	unassignedTokensCounter metric.Int64Counter
	ingestDurationHistogram metric.Float64Histogram
}

// NewIngestMetrics creates a new ingest metrics collector
func NewIngestMetrics() (*IngestMetrics, error) {
	eventsIngestedCounter, err := meter.Int64Counter(
		"attendance.events.ingested",
		metric.WithDescription("Total number of attendance events persisted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsRejectedCounter, err := meter.Int64Counter(
		"attendance.events.rejected",
		metric.WithDescription("Total number of submissions rejected by validation or duplicate suppression"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsReplayedCounter, err := meter.Int64Counter(
		"attendance.events.replayed",
		metric.WithDescription("Total number of idempotent redeliveries answered from existing events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	unassignedTokensCounter, err := meter.Int64Counter(
		"attendance.tokens.unassigned",
		metric.WithDescription("Total number of taps routed to the scan buffer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	ingestDurationHistogram, err := meter.Float64Histogram(
		"attendance.ingest.duration",
		metric.WithDescription("Duration of ingest calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		eventsIngestedCounter:   eventsIngestedCounter,
		eventsRejectedCounter:   eventsRejectedCounter,
		eventsReplayedCounter:   eventsReplayedCounter,
		unassignedTokensCounter: unassignedTokensCounter,
		ingestDurationHistogram: ingestDurationHistogram,
	}, nil
}

// RecordIngested records a persisted event
func (im *IngestMetrics) RecordIngested(ctx context.Context, deviceID, direction string, duration time.Duration) {
	im.eventsIngestedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("direction", direction),
		),
	)
	im.ingestDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("status", "ingested"),
		),
	)
}

// RecordRejected records a deterministic rejection
func (im *IngestMetrics) RecordRejected(ctx context.Context, deviceID, reason string) {
	im.eventsRejectedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("reason", reason),
		),
	)
}

// RecordReplayed records an idempotency-collision answered with the
// existing event
func (im *IngestMetrics) RecordReplayed(ctx context.Context, deviceID string) {
	im.eventsReplayedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
		),
	)
}

// RecordUnassignedToken records a tap routed to the scan buffer
func (im *IngestMetrics) RecordUnassignedToken(ctx context.Context, deviceID string) {
	im.unassignedTokensCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
		),
	)
}
