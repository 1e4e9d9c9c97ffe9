package streaming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/streaming"
)

func scenarioConfig() streaming.ControllerConfig {
	return streaming.ControllerConfig{
		InitialSize:     600,
		MinSize:         200,
		MaxSize:         2000,
		TargetLatencyMS: 600,
		HysteresisPct:   0.2,
		StepPct:         0.2,
		CooldownChunks:  3,
		SmoothingAlpha:  1.0,
	}
}

func newController(t *testing.T, cfg streaming.ControllerConfig) *streaming.Controller {
	t.Helper()

	ctrl, err := streaming.NewController(cfg)
	require.NoError(t, err)

	return ctrl
}

func TestController_Scenario(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, scenarioConfig())

	for range 3 {
		ctrl.UpdateFeedback(600)

		size, decision := ctrl.NextChunkSize(0, 0)
		assert.Equal(t, 600, size)
		assert.Equal(t, streaming.ReasonNoop, decision.Reason)
		assert.False(t, decision.Changed())
	}

	ctrl.UpdateFeedback(1000)

	size, decision := ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 480, size)
	assert.Equal(t, streaming.ReasonDecrease, decision.Reason)
	assert.Equal(t, 600, decision.OldSize)
	assert.Equal(t, 3, decision.CooldownRemaining)
	assert.True(t, decision.Changed())

	for remaining := 2; remaining >= 0; remaining-- {
		ctrl.UpdateFeedback(100)

		size, decision = ctrl.NextChunkSize(0, 0)
		assert.Equal(t, 480, size)
		assert.Equal(t, streaming.ReasonNoop, decision.Reason)
		assert.Equal(t, remaining, decision.CooldownRemaining)
	}

	ctrl.UpdateFeedback(100)

	size, decision = ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 576, size)
	assert.Equal(t, streaming.ReasonIncrease, decision.Reason)
	assert.InDelta(t, 100.0, decision.SmoothedLatencyMS, 1e-9)
	assert.InDelta(t, 600.0, decision.TargetLatencyMS, 1e-9)
}

func TestController_DefaultAlphaSmoothsSpike(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.SmoothingAlpha = 0.2
	ctrl := newController(t, cfg)

	ctrl.UpdateFeedback(600)
	ctrl.UpdateFeedback(1000)

	size, decision := ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 600, size)
	assert.Equal(t, streaming.ReasonNoop, decision.Reason)
	assert.InDelta(t, 680.0, decision.SmoothedLatencyMS, 1e-9)
}

func TestController_NoFeedbackIsNoop(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, scenarioConfig())

	size, decision := ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 600, size)
	assert.Equal(t, streaming.ReasonNoop, decision.Reason)
	assert.False(t, ctrl.State().HasLatency)
}

func TestController_BackpressureSuppressesIncrease(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, scenarioConfig())
	ctrl.UpdateFeedback(50)

	size, decision := ctrl.NextChunkSize(0.8, 0)
	assert.Equal(t, 600, size)
	assert.Equal(t, streaming.ReasonNoop, decision.Reason)
	assert.InDelta(t, 0.8, decision.BackpressureUtil, 1e-9)
	assert.Zero(t, decision.CooldownRemaining)

	size, decision = ctrl.NextChunkSize(0.79, 0)
	assert.Equal(t, 720, size)
	assert.Equal(t, streaming.ReasonIncrease, decision.Reason)
}

func TestController_BackpressureDoesNotBlockDecrease(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, scenarioConfig())
	ctrl.UpdateFeedback(5000)

	size, decision := ctrl.NextChunkSize(1.0, 0)
	assert.Equal(t, 480, size)
	assert.Equal(t, streaming.ReasonDecrease, decision.Reason)
}

func TestController_ClampsToBounds(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.InitialSize = 1900
	cfg.CooldownChunks = 0
	ctrl := newController(t, cfg)
	ctrl.UpdateFeedback(10)

	size, decision := ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 2000, size)
	assert.Equal(t, streaming.ReasonIncrease, decision.Reason)

	size, decision = ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 2000, size)
	assert.Equal(t, streaming.ReasonNoop, decision.Reason)

	cfg.InitialSize = 220
	ctrl = newController(t, cfg)
	ctrl.UpdateFeedback(10000)

	size, _ = ctrl.NextChunkSize(0, 0)
	assert.Equal(t, 200, size)
}

func TestController_InitialSizeClamped(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.InitialSize = 5000
	assert.Equal(t, 2000, newController(t, cfg).State().CurrentSize)

	cfg.InitialSize = 0
	assert.Equal(t, 200, newController(t, cfg).State().CurrentSize)
}

func TestController_InitialSizeDefaultsToBaseline(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.InitialSize = 0
	cfg.BaselineSize = 1000
	assert.Equal(t, 1000, newController(t, cfg).State().CurrentSize)

	cfg.BaselineSize = 50
	assert.Equal(t, 200, newController(t, cfg).State().CurrentSize)

	cfg.InitialSize = 700
	assert.Equal(t, 700, newController(t, cfg).State().CurrentSize)
}

func TestController_TokensPerSecondCeiling(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.CooldownChunks = 0
	ctrl := newController(t, cfg)
	ctrl.UpdateFeedback(100)

	// 270 tok/s * 0.6 s * 4 chars = 648 chars.
	size, decision := ctrl.NextChunkSize(0, 270)
	assert.Equal(t, 648, size)
	assert.Equal(t, streaming.ReasonIncrease, decision.Reason)

	// A budget below the current size never shrinks it.
	size, decision = ctrl.NextChunkSize(0, 10)
	assert.Equal(t, 648, size)
	assert.Equal(t, streaming.ReasonNoop, decision.Reason)
}

func TestController_StateIsCopy(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, scenarioConfig())
	ctrl.UpdateFeedback(1000)
	ctrl.NextChunkSize(0, 0)

	state := ctrl.State()
	state.CurrentSize = 1
	state.CooldownRemaining = 99

	fresh := ctrl.State()
	assert.Equal(t, 480, fresh.CurrentSize)
	assert.Equal(t, 3, fresh.CooldownRemaining)
	assert.Equal(t, streaming.ReasonDecrease, fresh.LastDecision)
	assert.InDelta(t, 1000.0, fresh.SmoothedLatencyMS, 1e-9)
}

func TestNewController_RejectsMalformedConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *streaming.ControllerConfig)
	}{
		{"min above max", func(c *streaming.ControllerConfig) { c.MinSize = 3000 }},
		{"zero min", func(c *streaming.ControllerConfig) { c.MinSize = 0 }},
		{"negative target", func(c *streaming.ControllerConfig) { c.TargetLatencyMS = -1 }},
		{"alpha zero", func(c *streaming.ControllerConfig) { c.SmoothingAlpha = 0 }},
		{"alpha above one", func(c *streaming.ControllerConfig) { c.SmoothingAlpha = 1.1 }},
		{"hysteresis", func(c *streaming.ControllerConfig) { c.HysteresisPct = 1 }},
		{"step", func(c *streaming.ControllerConfig) { c.StepPct = 0 }},
		{"cooldown", func(c *streaming.ControllerConfig) { c.CooldownChunks = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := scenarioConfig()
			tt.mutate(&cfg)

			_, err := streaming.NewController(cfg)
			require.ErrorIs(t, err, streaming.ErrInvalidControllerConfig)
		})
	}
}

func TestLatencyTracker(t *testing.T) {
	t.Parallel()

	tracker := streaming.NewLatencyTracker(0.5)

	_, seen := tracker.Value()
	assert.False(t, seen)

	assert.InDelta(t, 100.0, tracker.Update(100), 1e-9)
	assert.InDelta(t, 150.0, tracker.Update(200), 1e-9)

	value, seen := tracker.Value()
	assert.True(t, seen)
	assert.InDelta(t, 150.0, value, 1e-9)
}

func TestChunkDecision_Event(t *testing.T) {
	t.Parallel()

	d := streaming.ChunkDecision{
		OldSize:           600,
		NewSize:           480,
		Reason:            streaming.ReasonDecrease,
		SmoothedLatencyMS: 1000,
		TargetLatencyMS:   600,
		CooldownRemaining: 3,
	}

	ev := d.Event()
	assert.Equal(t, "decrease", ev.String("reason"))
	assert.Equal(t, 480, ev.Int("new_size"))
}

func TestGauges(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, streaming.StaticGauge(0.5).Utilization(), 1e-9)
	assert.InDelta(t, 0.25, streaming.GaugeFunc(func() float64 { return 0.25 }).Utilization(), 1e-9)
}
