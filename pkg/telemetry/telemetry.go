// Package telemetry provides the coordinator and checkpoint builder's
// OpenTelemetry metric counters. It deliberately stops at the meter
// API and a manual reader: metrics/health endpoints are named
// out-of-scope boundary surface, so no OTLP exporter pipeline is
// stood up here (see DESIGN.md).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func logKindAttr(logKind string) attribute.KeyValue {
	return attribute.String("log_kind", logKind)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String("reason", reason)
}

// Metrics holds the counters C9 and C8 record against.
type Metrics struct {
	reader           *sdkmetric.ManualReader
	provider         *sdkmetric.MeterProvider
	acceptedRecords  metric.Int64Counter
	rejectedRecords  metric.Int64Counter
	checkpointTicks  metric.Int64Counter
	checkpointLength metric.Int64UpDownCounter
}

// New builds a Metrics instance backed by a manual reader, so a caller
// (typically a test, or an administrative status endpoint) can pull a
// point-in-time snapshot without a running exporter.
func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("registry-sub001/coordinator")

	accepted, err := meter.Int64Counter("registry.records.accepted",
		metric.WithDescription("Records accepted by C4/C5 validators"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("registry.records.rejected",
		metric.WithDescription("Records rejected by C4/C5 validators"))
	if err != nil {
		return nil, err
	}
	ticks, err := meter.Int64Counter("registry.checkpoint.ticks",
		metric.WithDescription("Checkpoint builder ticks that emitted a new checkpoint"))
	if err != nil {
		return nil, err
	}
	length, err := meter.Int64UpDownCounter("registry.checkpoint.length",
		metric.WithDescription("Current log length at the latest checkpoint"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reader:           reader,
		provider:         provider,
		acceptedRecords:  accepted,
		rejectedRecords:  rejected,
		checkpointTicks:  ticks,
		checkpointLength: length,
	}, nil
}

// RecordAccepted increments the accepted-records counter for logKind
// ("operator" or "package").
func (m *Metrics) RecordAccepted(ctx context.Context, logKind string) {
	m.acceptedRecords.Add(ctx, 1, metric.WithAttributes(logKindAttr(logKind)))
}

// RecordRejected increments the rejected-records counter for logKind,
// tagged with the rejection reason.
func (m *Metrics) RecordRejected(ctx context.Context, logKind, reason string) {
	m.rejectedRecords.Add(ctx, 1, metric.WithAttributes(logKindAttr(logKind), reasonAttr(reason)))
}

// RecordCheckpoint records a checkpoint emission and the new log length.
func (m *Metrics) RecordCheckpoint(ctx context.Context, logLength uint64, delta int64) {
	m.checkpointTicks.Add(ctx, 1)
	m.checkpointLength.Add(ctx, delta)
}

// Snapshot collects the current metric data via the manual reader, for
// tests or an administrative inspection surface.
func (m *Metrics) Snapshot(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var out metricdata.ResourceMetrics
	err := m.reader.Collect(ctx, &out)
	return out, err
}

// Shutdown releases the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
