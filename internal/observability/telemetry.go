package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metric names recorded by the streaming core.
const (
	MetricAdaptIncrease = "adapt.increase"
	MetricAdaptDecrease = "adapt.decrease"
	MetricAdaptNoop     = "adapt.noop"
	MetricAdaptLatency  = "adapt.latency_ms"

	MetricPoolStarted  = "exec_pool.started"
	MetricPoolSubmit   = "exec_pool.submit"
	MetricPoolComplete = "exec_pool.complete"
	MetricPoolTimeout  = "exec_pool.timeout"
	MetricPoolFallback = "exec_pool.fallback"
	MetricPoolInitMS   = "exec_pool.init_ms"
	MetricPoolTaskMS   = "exec_pool.task_ms"
)

// latencyBucketsMS are histogram bucket boundaries in milliseconds.
var latencyBucketsMS = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Telemetry records named counters and durations. Unknown names are ignored.
type Telemetry interface {
	Count(ctx context.Context, name string)
	Duration(ctx context.Context, name string, d time.Duration)
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

// Count does nothing.
func (NopTelemetry) Count(context.Context, string) {}

// Duration does nothing.
func (NopTelemetry) Duration(context.Context, string, time.Duration) {}

// StreamMetrics records the streaming core's counters and durations as OTel
// instruments.
type StreamMetrics struct {
	counters  map[string]metric.Int64Counter
	durations map[string]metric.Float64Histogram
}

// NewStreamMetrics creates every instrument on mt.
func NewStreamMetrics(mt metric.Meter) (*StreamMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &StreamMetrics{
		counters: map[string]metric.Int64Counter{
			MetricAdaptIncrease: b.counter(MetricAdaptIncrease, "Chunk-size decisions that grew the chunk"),
			MetricAdaptDecrease: b.counter(MetricAdaptDecrease, "Chunk-size decisions that shrank the chunk"),
			MetricAdaptNoop:     b.counter(MetricAdaptNoop, "Chunk-size decisions that kept the size"),
			MetricPoolStarted:   b.counter(MetricPoolStarted, "Worker pool starts"),
			MetricPoolSubmit:    b.counter(MetricPoolSubmit, "Tasks submitted to the worker pool"),
			MetricPoolComplete:  b.counter(MetricPoolComplete, "Tasks completed by the worker pool"),
			MetricPoolTimeout:   b.counter(MetricPoolTimeout, "Tasks that timed out or lost their worker"),
			MetricPoolFallback:  b.counter(MetricPoolFallback, "Jobs run in-process instead of on the pool"),
		},
		durations: map[string]metric.Float64Histogram{
			MetricAdaptLatency: b.msHistogram(MetricAdaptLatency, "Observed chunk latency", latencyBucketsMS...),
			MetricPoolInitMS:   b.msHistogram(MetricPoolInitMS, "Worker pool start time", latencyBucketsMS...),
			MetricPoolTaskMS:   b.msHistogram(MetricPoolTaskMS, "Offloaded task duration", latencyBucketsMS...),
		},
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// Count adds one to the named counter. Safe on a nil receiver.
func (sm *StreamMetrics) Count(ctx context.Context, name string) {
	if sm == nil {
		return
	}

	counter, ok := sm.counters[name]
	if !ok {
		return
	}

	counter.Add(ctx, 1)
}

// Duration records d in milliseconds on the named histogram. Safe on a nil
// receiver.
func (sm *StreamMetrics) Duration(ctx context.Context, name string, d time.Duration) {
	if sm == nil {
		return
	}

	histogram, ok := sm.durations[name]
	if !ok {
		return
	}

	histogram.Record(ctx, float64(d)/float64(time.Millisecond))
}
