package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BridgeMetrics bundles the bridge data-path instruments.
type BridgeMetrics struct {
	RequestsTotal       metric.Int64Counter
	FetchRoundsTotal    metric.Int64Counter
	RecordsTotal        metric.Int64Counter
	ActiveSubscriptions metric.Int64UpDownCounter
	PageFetchDuration   metric.Float64Histogram
}

// NewBridgeMetrics creates the bridge metrics bundle on the given meter.
func NewBridgeMetrics(meter metric.Meter) (*BridgeMetrics, error) {
	requests, err := meter.Int64Counter("bridge.requests.total",
		metric.WithDescription("Historical requests by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	rounds, err := meter.Int64Counter("bridge.fetch.rounds.total",
		metric.WithDescription("Pagination fetch rounds issued to the venue"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fetch rounds counter: %w", err)
	}
	records, err := meter.Int64Counter("bridge.records.total",
		metric.WithDescription("Records published to the data bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("create records counter: %w", err)
	}
	subs, err := meter.Int64UpDownCounter("bridge.subscriptions.active",
		metric.WithDescription("Active streaming subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("create subscriptions gauge: %w", err)
	}
	pageDur, err := meter.Float64Histogram("bridge.page.fetch.duration",
		metric.WithDescription("Historical page fetch duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create page duration histogram: %w", err)
	}
	return &BridgeMetrics{
		RequestsTotal:       requests,
		FetchRoundsTotal:    rounds,
		RecordsTotal:        records,
		ActiveSubscriptions: subs,
		PageFetchDuration:   pageDur,
	}, nil
}

// RecordRequest records a completed historical request with its outcome.
func (m *BridgeMetrics) RecordRequest(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordFetchRound records one venue page fetch and its latency.
func (m *BridgeMetrics) RecordFetchRound(ctx context.Context, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.FetchRoundsTotal.Add(ctx, 1, attrs)
	m.PageFetchDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordPublished records records delivered to the data bus.
func (m *BridgeMetrics) RecordPublished(ctx context.Context, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.RecordsTotal.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// SubscriptionStarted increments the active subscription gauge.
func (m *BridgeMetrics) SubscriptionStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// SubscriptionStopped decrements the active subscription gauge.
func (m *BridgeMetrics) SubscriptionStopped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Add(ctx, -1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
