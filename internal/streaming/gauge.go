package streaming

// SuppressIncreaseUtilization is the pool utilization at or above which the
// controller refuses to grow the chunk size.
const SuppressIncreaseUtilization = 0.8

// BackpressureGauge reports the current in-flight utilization of the worker
// pool as a ratio of busy tasks to worker capacity.
type BackpressureGauge interface {
	Utilization() float64
}

// GaugeFunc adapts a function to the BackpressureGauge interface.
type GaugeFunc func() float64

// Utilization calls f.
func (f GaugeFunc) Utilization() float64 { return f() }

// StaticGauge always reports the same utilization.
// Used when nothing is offloaded.
type StaticGauge float64

// Utilization returns g.
func (g StaticGauge) Utilization() float64 { return float64(g) }
