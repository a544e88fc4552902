package metrics

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Collector is an in-process SDK meter provider read on demand.
//
// Thread-safety: all methods are safe for concurrent use.
type Collector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// Snapshot is a point-in-time reading of the agent's counters.
// Counters are cumulative since the collector was created.
type Snapshot struct {
	// Ticks is keyed by "ok" and "failed".
	Ticks map[string]int64 `json:"ticks"`
	// StageOutcomes is keyed by stage, then outcome.
	StageOutcomes map[string]map[string]int64 `json:"stage_outcomes"`
	// HTTPRequests counts instrumented HTTP requests, keyed by "client" and
	// "server".
	HTTPRequests map[string]int64 `json:"http_requests"`
}

// NewCollector creates a collector backed by a manual reader.
func NewCollector() *Collector {
	reader := sdkmetric.NewManualReader()
	return &Collector{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// MeterProvider returns the provider instruments should be created on.
func (c *Collector) MeterProvider() metric.MeterProvider {
	return c.provider
}

// Shutdown flushes and stops the provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}

// Snapshot collects the current readings.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return Snapshot{}, fmt.Errorf("collect metrics: %w", err)
	}

	snap := Snapshot{
		Ticks:         map[string]int64{},
		StageOutcomes: map[string]map[string]int64{},
		HTTPRequests:  map[string]int64{},
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch {
			case m.Name == TicksName:
				for _, dp := range sums(m.Data) {
					key := "ok"
					if v, ok := dp.Attributes.Value("failed"); ok && v.AsBool() {
						key = "failed"
					}
					snap.Ticks[key] += dp.Value
				}
			case m.Name == StageOutcomesName:
				for _, dp := range sums(m.Data) {
					stage := stringAttr(dp.Attributes, "stage")
					if snap.StageOutcomes[stage] == nil {
						snap.StageOutcomes[stage] = map[string]int64{}
					}
					snap.StageOutcomes[stage][stringAttr(dp.Attributes, "outcome")] += dp.Value
				}
			case strings.HasPrefix(m.Name, "http.client.") && strings.HasSuffix(m.Name, "duration"):
				snap.HTTPRequests["client"] += histogramCount(m.Data)
			case strings.HasPrefix(m.Name, "http.server.") && strings.HasSuffix(m.Name, "duration"):
				snap.HTTPRequests["server"] += histogramCount(m.Data)
			}
		}
	}
	return snap, nil
}

func sums(data metricdata.Aggregation) []metricdata.DataPoint[int64] {
	if s, ok := data.(metricdata.Sum[int64]); ok {
		return s.DataPoints
	}
	return nil
}

func histogramCount(data metricdata.Aggregation) int64 {
	var n uint64
	switch h := data.(type) {
	case metricdata.Histogram[float64]:
		for _, dp := range h.DataPoints {
			n += dp.Count
		}
	case metricdata.Histogram[int64]:
		for _, dp := range h.DataPoints {
			n += dp.Count
		}
	}
	return int64(n) //nolint:gosec // G115: request counts stay far below MaxInt64
}

func stringAttr(set attribute.Set, key attribute.Key) string {
	v, ok := set.Value(key)
	if !ok {
		return ""
	}
	return v.AsString()
}
