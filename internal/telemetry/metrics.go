package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "collab-sync/gateway"

// Metrics holds the gateway's OTel instruments. The zero value is not usable; use NewMetrics or NopMetrics.
type Metrics struct {
	connections   metric.Int64UpDownCounter
	editsApplied  metric.Int64Counter
	editsRejected metric.Int64Counter
	dropped       metric.Int64Counter
}

// NewMetrics registers the gateway instruments on mp. A nil provider yields no-op instruments.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)
	connections, err := m.Int64UpDownCounter("collab.gateway.connections",
		metric.WithDescription("Open WebSocket connections"))
	if err != nil {
		return nil, err
	}
	applied, err := m.Int64Counter("collab.gateway.edits.applied",
		metric.WithDescription("Edit batches and document replacements persisted"))
	if err != nil {
		return nil, err
	}
	rejected, err := m.Int64Counter("collab.gateway.edits.rejected",
		metric.WithDescription("Edit batches rejected by validation, policy or storage"))
	if err != nil {
		return nil, err
	}
	dropped, err := m.Int64Counter("collab.gateway.messages.dropped",
		metric.WithDescription("Outbound messages dropped because a connection's send buffer was full"))
	if err != nil {
		return nil, err
	}
	return &Metrics{connections: connections, editsApplied: applied, editsRejected: rejected, dropped: dropped}, nil
}

// NopMetrics returns Metrics backed by no-op instruments.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

func (m *Metrics) ConnectionOpened(ctx context.Context) { m.connections.Add(ctx, 1) }
func (m *Metrics) ConnectionClosed(ctx context.Context) { m.connections.Add(ctx, -1) }
func (m *Metrics) EditApplied(ctx context.Context)      { m.editsApplied.Add(ctx, 1) }
func (m *Metrics) EditRejected(ctx context.Context)     { m.editsRejected.Add(ctx, 1) }
func (m *Metrics) MessageDropped(ctx context.Context)   { m.dropped.Add(ctx, 1) }
