// Package streaming implements the chunk-size feedback loop: latency
// smoothing, backpressure gauging, and the hysteretic size controller, plus
// the chunker that slices input by the chosen size.
package streaming

import (
	"errors"
	"fmt"
	"math"
)

// charsPerToken converts a tokens/sec throughput into a character budget.
const charsPerToken = 4

// msPerSecond converts the latency target to seconds for the throughput ceiling.
const msPerSecond = 1000.0

// ErrInvalidControllerConfig is returned by NewController for malformed settings.
var ErrInvalidControllerConfig = errors.New("invalid controller config")

// ControllerConfig holds the resolved controller settings.
type ControllerConfig struct {
	// InitialSize is the first chunk size. Non-positive means BaselineSize.
	InitialSize int
	// BaselineSize is the fixed chunk size used with adaptive chunking off.
	// Non-positive means MinSize.
	BaselineSize    int
	MinSize         int
	MaxSize         int
	TargetLatencyMS float64
	HysteresisPct   float64
	StepPct         float64
	CooldownChunks  int
	SmoothingAlpha  float64
}

// Validate checks the settings.
func (c ControllerConfig) Validate() error {
	switch {
	case c.MinSize <= 0 || c.MinSize > c.MaxSize:
		return fmt.Errorf("%w: bounds min=%d max=%d", ErrInvalidControllerConfig, c.MinSize, c.MaxSize)
	case c.TargetLatencyMS <= 0:
		return fmt.Errorf("%w: target latency %g", ErrInvalidControllerConfig, c.TargetLatencyMS)
	case c.HysteresisPct < 0 || c.HysteresisPct >= 1:
		return fmt.Errorf("%w: hysteresis %g", ErrInvalidControllerConfig, c.HysteresisPct)
	case c.StepPct <= 0 || c.StepPct >= 1:
		return fmt.Errorf("%w: step %g", ErrInvalidControllerConfig, c.StepPct)
	case c.CooldownChunks < 0:
		return fmt.Errorf("%w: cooldown %d", ErrInvalidControllerConfig, c.CooldownChunks)
	case c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1:
		return fmt.Errorf("%w: alpha %g", ErrInvalidControllerConfig, c.SmoothingAlpha)
	}

	return nil
}

// ControllerState is a read-only snapshot of the controller.
type ControllerState struct {
	CurrentSize       int
	SmoothedLatencyMS float64
	HasLatency        bool
	CooldownRemaining int
	LastDecision      Reason
}

// Controller chooses the next chunk size from smoothed latency feedback and
// pool backpressure. It is not safe for concurrent use; a single loop owns it.
type Controller struct {
	cfg     ControllerConfig
	latency *LatencyTracker

	currentSize       int
	cooldownRemaining int
	lastDecision      Reason
}

// NewController validates cfg and returns a controller at its initial size,
// or the baseline when none is set, clamped into [MinSize, MaxSize].
func NewController(cfg ControllerConfig) (*Controller, error) {
	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	initial := cfg.InitialSize
	if initial <= 0 {
		initial = cfg.BaselineSize
	}

	if initial <= 0 {
		initial = cfg.MinSize
	}

	return &Controller{
		cfg:          cfg,
		latency:      NewLatencyTracker(cfg.SmoothingAlpha),
		currentSize:  clamp(initial, cfg.MinSize, cfg.MaxSize),
		lastDecision: ReasonNoop,
	}, nil
}

// UpdateFeedback folds an observed chunk latency into the smoothed value.
func (c *Controller) UpdateFeedback(observedMS float64) {
	c.latency.Update(observedMS)
}

// NextChunkSize runs one decision step. tokensPerSecond, when positive, caps
// growth at the character budget the target latency allows at that rate;
// zero means no ceiling.
func (c *Controller) NextChunkSize(backpressure, tokensPerSecond float64) (int, ChunkDecision) {
	old := c.currentSize
	smoothed, seen := c.latency.Value()

	if c.cooldownRemaining > 0 {
		c.cooldownRemaining--
		c.lastDecision = ReasonNoop

		return old, c.decision(old, old, ReasonNoop, smoothed, backpressure)
	}

	if !seen {
		c.lastDecision = ReasonNoop

		return old, c.decision(old, old, ReasonNoop, smoothed, backpressure)
	}

	lower := c.cfg.TargetLatencyMS * (1 - c.cfg.HysteresisPct)
	upper := c.cfg.TargetLatencyMS * (1 + c.cfg.HysteresisPct)

	next := old
	reason := ReasonNoop

	switch {
	case smoothed > upper:
		next = int(math.Round(float64(old) * (1 - c.cfg.StepPct)))
		reason = ReasonDecrease
	case smoothed < lower && backpressure < SuppressIncreaseUtilization:
		next = int(math.Round(float64(old) * (1 + c.cfg.StepPct)))
		reason = ReasonIncrease

		if tokensPerSecond > 0 {
			budget := int(tokensPerSecond * c.cfg.TargetLatencyMS / msPerSecond * charsPerToken)
			next = max(min(next, budget), old)
		}
	}

	next = clamp(next, c.cfg.MinSize, c.cfg.MaxSize)

	if next == old {
		reason = ReasonNoop
	} else {
		c.currentSize = next
		c.cooldownRemaining = c.cfg.CooldownChunks
	}

	c.lastDecision = reason

	return next, c.decision(old, next, reason, smoothed, backpressure)
}

// State returns a copy of the controller state.
func (c *Controller) State() ControllerState {
	smoothed, seen := c.latency.Value()

	return ControllerState{
		CurrentSize:       c.currentSize,
		SmoothedLatencyMS: smoothed,
		HasLatency:        seen,
		CooldownRemaining: c.cooldownRemaining,
		LastDecision:      c.lastDecision,
	}
}

func (c *Controller) decision(old, next int, reason Reason, smoothed, backpressure float64) ChunkDecision {
	return ChunkDecision{
		OldSize:           old,
		NewSize:           next,
		Reason:            reason,
		SmoothedLatencyMS: smoothed,
		TargetLatencyMS:   c.cfg.TargetLatencyMS,
		BackpressureUtil:  backpressure,
		CooldownRemaining: c.cooldownRemaining,
	}
}

func clamp(v, lo, hi int) int {
	return max(min(v, hi), lo)
}
