package offload_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
)

func newStartedPool(t *testing.T, handlers offload.Handlers, size int) *offload.Pool {
	t.Helper()

	pool := offload.NewPool(offload.NewInProcessBackend(handlers), size, nil)
	require.NoError(t, pool.Start(context.Background()))

	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	return pool
}

func TestDefaultMaxWorkers(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, offload.DefaultMaxWorkers(), offload.MinDefaultWorkers)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	t.Parallel()

	pool := offload.NewPool(offload.NewInProcessBackend(nil), 1, nil)

	_, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "x"})
	require.ErrorIs(t, err, offload.ErrWorkerPoolBroken)
}

func TestPool_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, nil, 2)

	require.NoError(t, pool.Start(context.Background()))
	assert.Equal(t, offload.PoolInfo{
		WorkerCount: 2,
		StartMethod: offload.StartMethodInProcess,
		Generation:  1,
	}, pool.Info())
}

func TestPool_RestartOncePerGeneration(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, nil, 1)
	ctx := context.Background()

	next, err := pool.Restart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	again, err := pool.Restart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), again)

	third, err := pool.Restart(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), third)
	assert.Equal(t, uint64(3), pool.Info().Generation)
}

func TestPool_RestartFailsQueuedTasksAsStale(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, offload.Handlers{offload.KindParse: blocking}, 1)
	wd := offload.NewWatchdog(pool, nil)
	ctx := context.Background()

	running, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "a"})
	require.NoError(t, err)

	require.Eventually(t, running.Started, time.Second, 5*time.Millisecond)

	queued, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "b"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pool.Utilization(), 1e-9)

	_, err = pool.Restart(ctx, running.Generation)
	require.NoError(t, err)

	_, err = wd.Wait(ctx, running, time.Second)
	require.ErrorIs(t, err, offload.ErrStaleGeneration)

	_, err = wd.Wait(ctx, queued, time.Second)
	require.ErrorIs(t, err, offload.ErrStaleGeneration)
	require.ErrorIs(t, err, offload.ErrWorkerPoolBroken)

	assert.Zero(t, pool.Utilization())
}

func TestPool_QueueFull(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, offload.Handlers{offload.KindParse: blocking}, 1)

	var full int

	for range 18 {
		_, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "x"})
		if errors.Is(err, offload.ErrQueueFull) {
			full++

			continue
		}

		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, full, 1)
	assert.InDelta(t, float64(18-full), pool.Utilization(), 1e-9)
}

func TestPool_ShutdownCancelsOutstanding(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, offload.Handlers{offload.KindParse: blocking}, 1)
	wd := offload.NewWatchdog(pool, nil)
	ctx := context.Background()

	first, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "a"})
	require.NoError(t, err)

	require.Eventually(t, first.Started, time.Second, 5*time.Millisecond)

	second, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "b"})
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(ctx))
	require.NoError(t, pool.Shutdown(ctx))

	_, err = wd.Wait(ctx, first, time.Second)
	require.ErrorIs(t, err, offload.ErrStaleGeneration)

	// The queued task is either drained by shutdown or picked up by a worker
	// of the cancelled generation.
	_, err = wd.Wait(ctx, second, time.Second)
	assert.True(t, errors.Is(err, offload.ErrPoolClosed) || errors.Is(err, offload.ErrStaleGeneration), err)

	_, err = pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "c"})
	require.ErrorIs(t, err, offload.ErrPoolClosed)

	_, err = pool.Restart(ctx, 1)
	require.ErrorIs(t, err, offload.ErrPoolClosed)

	require.ErrorIs(t, pool.Start(ctx), offload.ErrPoolClosed)
}

func TestPool_SerializationError(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, nil, 1)

	_, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "\xc3\x28"})
	require.ErrorIs(t, err, offload.ErrSerialization)
	assert.Zero(t, pool.Utilization())
}

func TestWatchdog_WaitTimeout(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, offload.Handlers{offload.KindParse: blocking}, 1)
	wd := offload.NewWatchdog(pool, nil)

	fut, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "a"})
	require.NoError(t, err)

	_, err = wd.Wait(context.Background(), fut, 20*time.Millisecond)
	require.ErrorIs(t, err, offload.ErrTaskTimeout)

	next, err := wd.HandleStall(context.Background(), offload.KindParse, fut.Generation, err)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
	assert.Equal(t, 1, wd.StalledCount())

	// A second stall report for the same generation does not restart again.
	next, err = wd.HandleStall(context.Background(), offload.KindParse, fut.Generation, offload.ErrTaskTimeout)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
	assert.Equal(t, 2, wd.StalledCount())
}

func TestWatchdog_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	pool := newStartedPool(t, offload.Handlers{offload.KindParse: blocking}, 1)
	wd := offload.NewWatchdog(pool, nil)

	fut, err := pool.Submit(offload.Task{Kind: offload.KindParse, Payload: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = wd.Wait(ctx, fut, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
