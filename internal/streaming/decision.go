package streaming

import "github.com/Sumatoshi-tech/pseudostream/internal/events"

// Reason is the outcome class of a chunk-size decision.
type Reason string

// Decision reasons.
const (
	ReasonIncrease Reason = "increase"
	ReasonDecrease Reason = "decrease"
	ReasonNoop     Reason = "noop"
)

// ChunkDecision is the immutable record of one controller step.
type ChunkDecision struct {
	OldSize           int
	NewSize           int
	Reason            Reason
	SmoothedLatencyMS float64
	TargetLatencyMS   float64
	BackpressureUtil  float64
	CooldownRemaining int
}

// Changed reports whether the decision resized the chunk.
func (d ChunkDecision) Changed() bool {
	return d.NewSize != d.OldSize
}

// Event converts the decision to a STREAM_ADAPTATION_DECISION event.
func (d ChunkDecision) Event() events.Event {
	return events.NewAdaptationDecision(events.AdaptationDecision{
		OldSize:           d.OldSize,
		NewSize:           d.NewSize,
		Reason:            string(d.Reason),
		SmoothedLatencyMS: d.SmoothedLatencyMS,
		TargetLatencyMS:   d.TargetLatencyMS,
		BackpressureUtil:  d.BackpressureUtil,
		CooldownRemaining: d.CooldownRemaining,
	})
}
