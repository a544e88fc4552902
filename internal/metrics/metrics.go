// Package metrics holds the agent's OpenTelemetry instruments.
//
// Instruments are created from a meter provider. The agent installs the SDK
// provider of a Collector, whose readings are served on the status endpoint;
// with the global no-op provider recording is free.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "shopsync"

// Instrument names.
const (
	TicksName         = "shopsync.ticks"
	TickDurationName  = "shopsync.tick.duration_seconds"
	StageOutcomesName = "shopsync.stage.outcomes"
)

// Outcome labels for stage results.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeDuplicate = "duplicate"
	OutcomeWaiting   = "waiting"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeConsumed  = "consumed"
)

// Metrics holds all agent metric instruments.
type Metrics struct {
	Ticks         metric.Int64Counter
	TickDuration  metric.Float64Histogram
	StageOutcomes metric.Int64Counter
}

// New creates all metric instruments on mp. A nil mp uses the global
// provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Ticks, err = meter.Int64Counter(TicksName,
		metric.WithDescription("Number of reconciliation ticks run"))
	if err != nil {
		return nil, err
	}

	m.TickDuration, err = meter.Float64Histogram(TickDurationName,
		metric.WithDescription("Tick duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.StageOutcomes, err = meter.Int64Counter(StageOutcomesName,
		metric.WithDescription("Per-task stage results by stage and outcome"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTick counts a finished tick. A nil receiver records nothing.
func (m *Metrics) RecordTick(ctx context.Context, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("failed", failed))
	m.Ticks.Add(ctx, 1, attrs)
	m.TickDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStage counts one stage outcome. A nil receiver records nothing.
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.StageOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}
