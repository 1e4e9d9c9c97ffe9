// Package events defines the closed set of lifecycle and decision events
// emitted by the streaming core, and the sinks that consume them.
package events

import "time"

// Kind names an event variant.
type Kind string

// Event kinds. The set is closed: events are only built through the
// constructors in this package.
const (
	KindAdaptationDecision Kind = "STREAM_ADAPTATION_DECISION"
	KindPoolStarted        Kind = "EXEC_POOL_STARTED"
	KindTaskSubmitted      Kind = "EXEC_POOL_TASK_SUBMITTED"
	KindTaskCompleted      Kind = "EXEC_POOL_TASK_COMPLETED"
	KindTimeout            Kind = "EXEC_POOL_TIMEOUT"
	KindFallback           Kind = "EXEC_POOL_FALLBACK"
)

// Payload keys.
const (
	KeyOldSize           = "old_size"
	KeyNewSize           = "new_size"
	KeyReason            = "reason"
	KeySmoothedLatencyMS = "smoothed_latency_ms"
	KeyTargetLatencyMS   = "target_latency_ms"
	KeyBackpressureUtil  = "backpressure_util"
	KeyCooldownRemaining = "cooldown_remaining"
	KeyMaxWorkers        = "max_workers"
	KeyStartMethod       = "start_method"
	KeyKind              = "kind"
	KeySizeChars         = "size_chars"
	KeyDurationMS        = "duration_ms"
	KeyTimeoutMS         = "timeout_ms"
	KeyAttempt           = "attempt"
)

// Event is an immutable record of something the core did.
type Event struct {
	Kind    Kind
	Payload map[string]any
	Time    time.Time
}

// Int returns the integer payload value for key.
func (e Event) Int(key string) int {
	v, ok := e.Payload[key].(int)
	if !ok {
		return 0
	}

	return v
}

// Float returns the float payload value for key.
func (e Event) Float(key string) float64 {
	v, ok := e.Payload[key].(float64)
	if !ok {
		return 0
	}

	return v
}

// String returns the string payload value for key.
func (e Event) String(key string) string {
	v, ok := e.Payload[key].(string)
	if !ok {
		return ""
	}

	return v
}

func newEvent(kind Kind, payload map[string]any) Event {
	return Event{Kind: kind, Payload: payload, Time: time.Now()}
}

// AdaptationDecision carries the fields of a chunk-size decision.
type AdaptationDecision struct {
	OldSize           int
	NewSize           int
	Reason            string
	SmoothedLatencyMS float64
	TargetLatencyMS   float64
	BackpressureUtil  float64
	CooldownRemaining int
}

// NewAdaptationDecision builds a STREAM_ADAPTATION_DECISION event.
func NewAdaptationDecision(d AdaptationDecision) Event {
	return newEvent(KindAdaptationDecision, map[string]any{
		KeyOldSize:           d.OldSize,
		KeyNewSize:           d.NewSize,
		KeyReason:            d.Reason,
		KeySmoothedLatencyMS: d.SmoothedLatencyMS,
		KeyTargetLatencyMS:   d.TargetLatencyMS,
		KeyBackpressureUtil:  d.BackpressureUtil,
		KeyCooldownRemaining: d.CooldownRemaining,
	})
}

// NewPoolStarted builds an EXEC_POOL_STARTED event.
func NewPoolStarted(maxWorkers int, startMethod string) Event {
	return newEvent(KindPoolStarted, map[string]any{
		KeyMaxWorkers:  maxWorkers,
		KeyStartMethod: startMethod,
	})
}

// NewTaskSubmitted builds an EXEC_POOL_TASK_SUBMITTED event.
func NewTaskSubmitted(kind string, sizeChars, attempt int) Event {
	return newEvent(KindTaskSubmitted, map[string]any{
		KeyKind:      kind,
		KeySizeChars: sizeChars,
		KeyAttempt:   attempt,
	})
}

// NewTaskCompleted builds an EXEC_POOL_TASK_COMPLETED event.
func NewTaskCompleted(kind string, duration time.Duration) Event {
	return newEvent(KindTaskCompleted, map[string]any{
		KeyKind:       kind,
		KeyDurationMS: durationMS(duration),
	})
}

// NewTimeout builds an EXEC_POOL_TIMEOUT event.
func NewTimeout(kind string, timeout time.Duration, attempt int) Event {
	return newEvent(KindTimeout, map[string]any{
		KeyKind:      kind,
		KeyTimeoutMS: int(timeout.Milliseconds()),
		KeyAttempt:   attempt,
	})
}

// NewFallback builds an EXEC_POOL_FALLBACK event.
func NewFallback(kind, reason string, attempt int) Event {
	return newEvent(KindFallback, map[string]any{
		KeyKind:    kind,
		KeyReason:  reason,
		KeyAttempt: attempt,
	})
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
