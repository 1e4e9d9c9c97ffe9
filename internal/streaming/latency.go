package streaming

// LatencyTracker holds an exponentially-weighted moving average of the
// observed per-chunk latency in milliseconds.
type LatencyTracker struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewLatencyTracker creates a tracker with smoothing factor alpha in (0, 1].
// Alpha controls responsiveness: 1.0 = trust only latest.
func NewLatencyTracker(alpha float64) *LatencyTracker {
	return &LatencyTracker{alpha: alpha}
}

// Update incorporates a new observation and returns the updated EMA.
// The first observation initializes the average directly.
func (l *LatencyTracker) Update(observedMS float64) float64 {
	if !l.initialized {
		l.value = observedMS
		l.initialized = true

		return l.value
	}

	l.value = l.alpha*observedMS + (1-l.alpha)*l.value

	return l.value
}

// Value returns the smoothed latency and whether any observation was seen.
func (l *LatencyTracker) Value() (float64, bool) {
	return l.value, l.initialized
}
