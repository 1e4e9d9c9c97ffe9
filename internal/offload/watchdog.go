package offload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Watchdog waits on task futures under a timeout and restarts the pool when
// a worker stalls or crashes.
type Watchdog struct {
	mu sync.Mutex

	pool   *Pool
	logger *slog.Logger

	// stalledCount tracks total stall events for observability.
	stalledCount int
}

// NewWatchdog creates a Watchdog for pool.
func NewWatchdog(pool *Pool, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		pool:   pool,
		logger: orDiscard(logger),
	}
}

// StalledCount returns the total number of stall events observed.
func (wd *Watchdog) StalledCount() int {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	return wd.stalledCount
}

// Wait blocks until fut resolves, timeout elapses, or ctx is done.
// Returns ErrTaskTimeout on timeout.
func (wd *Watchdog) Wait(ctx context.Context, fut *Future, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-fut.resolved():
		return out.value, out.err
	case <-timer.C:
		return "", ErrTaskTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HandleStall records a stall of a task on generation gen and restarts the
// pool once for that generation. Returns the generation to resubmit on.
func (wd *Watchdog) HandleStall(ctx context.Context, kind Kind, gen uint64, cause error) (uint64, error) {
	wd.mu.Lock()
	wd.stalledCount++
	count := wd.stalledCount
	wd.mu.Unlock()

	wd.logger.WarnContext(ctx, "worker stall detected",
		slog.String("kind", string(kind)),
		slog.Uint64("generation", gen),
		slog.Int("stall_count", count),
		slog.String("cause", cause.Error()),
	)

	span := trace.SpanFromContext(ctx)
	span.AddEvent("exec_pool.stall_detected", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int64("generation", int64(gen)),
		attribute.Int("stall_count", count),
	))

	next, err := wd.pool.Restart(ctx, gen)
	if err != nil {
		wd.logger.ErrorContext(ctx, "worker pool restart failed",
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()),
		)

		return next, err
	}

	span.AddEvent("exec_pool.restarted", trace.WithAttributes(
		attribute.Int64("generation", int64(next)),
	))

	return next, nil
}
