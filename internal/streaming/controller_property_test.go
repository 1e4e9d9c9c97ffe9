package streaming_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/Sumatoshi-tech/pseudostream/internal/streaming"
)

func drawConfig(t *rapid.T) streaming.ControllerConfig {
	minSize := rapid.IntRange(1, 1000).Draw(t, "min")
	maxSize := rapid.IntRange(minSize, 5000).Draw(t, "max")

	return streaming.ControllerConfig{
		InitialSize:     rapid.IntRange(0, 6000).Draw(t, "initial"),
		MinSize:         minSize,
		MaxSize:         maxSize,
		TargetLatencyMS: rapid.Float64Range(1, 2000).Draw(t, "target"),
		HysteresisPct:   rapid.Float64Range(0, 0.9).Draw(t, "hysteresis"),
		StepPct:         rapid.Float64Range(0.01, 0.9).Draw(t, "step"),
		CooldownChunks:  rapid.IntRange(0, 5).Draw(t, "cooldown"),
		SmoothingAlpha:  rapid.Float64Range(0.01, 1).Draw(t, "alpha"),
	}
}

func TestControllerProperty_SizeWithinBounds(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)

		ctrl, err := streaming.NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for step := range steps {
			ctrl.UpdateFeedback(rapid.Float64Range(0, 10000).Draw(t, "latency"))

			size, _ := ctrl.NextChunkSize(
				rapid.Float64Range(0, 1).Draw(t, "util"),
				rapid.Float64Range(0, 5000).Draw(t, "tps"),
			)
			if size < cfg.MinSize || size > cfg.MaxSize {
				t.Fatalf("step %d: size %d outside [%d, %d]", step, size, cfg.MinSize, cfg.MaxSize)
			}
		}
	})
}

func TestControllerProperty_SteadyStateInBand(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)
		cfg.HysteresisPct = max(cfg.HysteresisPct, 0.05)

		ctrl, err := streaming.NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}

		initial := ctrl.State().CurrentSize
		band := cfg.TargetLatencyMS * cfg.HysteresisPct
		// Stay clear of the edges so smoothing round-off cannot leave the band.
		lower := cfg.TargetLatencyMS - band*0.99
		upper := cfg.TargetLatencyMS + band*0.99

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for range steps {
			ctrl.UpdateFeedback(rapid.Float64Range(lower, upper).Draw(t, "latency"))

			size, decision := ctrl.NextChunkSize(rapid.Float64Range(0, 1).Draw(t, "util"), 0)
			if size != initial || decision.Reason != streaming.ReasonNoop {
				t.Fatalf("in-band latency changed size %d -> %d (%s)", initial, size, decision.Reason)
			}
		}
	})
}

func TestControllerProperty_CooldownHoldsSize(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)

		ctrl, err := streaming.NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		hold := 0
		held := 0

		for range steps {
			ctrl.UpdateFeedback(rapid.Float64Range(0, 10000).Draw(t, "latency"))

			size, decision := ctrl.NextChunkSize(rapid.Float64Range(0, 1).Draw(t, "util"), 0)

			if hold > 0 {
				if size != held || decision.Changed() {
					t.Fatalf("size changed during cooldown: %d -> %d", held, size)
				}

				hold--

				continue
			}

			if decision.Changed() {
				hold = cfg.CooldownChunks
				held = size
			}
		}
	})
}

func TestControllerProperty_NoIncreaseUnderBackpressure(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)

		ctrl, err := streaming.NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for range steps {
			ctrl.UpdateFeedback(rapid.Float64Range(0, 10000).Draw(t, "latency"))

			util := rapid.Float64Range(0, 1).Draw(t, "util")

			_, decision := ctrl.NextChunkSize(util, 0)
			if util >= streaming.SuppressIncreaseUtilization && decision.Reason == streaming.ReasonIncrease {
				t.Fatalf("increase at utilization %g", util)
			}
		}
	})
}
