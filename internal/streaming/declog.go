package streaming

import (
	"context"
	"log/slog"
)

// LogDecision emits a structured debug entry for one controller step.
func LogDecision(ctx context.Context, logger *slog.Logger, chunkIndex int, d ChunkDecision) {
	logger.DebugContext(ctx, "streaming: chunk decision",
		"chunk", chunkIndex+1,
		"old_size", d.OldSize,
		"new_size", d.NewSize,
		"reason", string(d.Reason),
		"smoothed_latency_ms", d.SmoothedLatencyMS,
		"target_latency_ms", d.TargetLatencyMS,
		"backpressure_util", d.BackpressureUtil,
		"cooldown_remaining", d.CooldownRemaining,
	)
}
