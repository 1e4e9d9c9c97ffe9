package offload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool sizing.
const (
	// MinDefaultWorkers is the floor of the platform-derived worker count.
	MinDefaultWorkers = 2

	// cpuPercent is the share of CPUs used by default.
	cpuPercent = 60

	// percentDivisor converts cpuPercent to a fraction.
	percentDivisor = 100

	// queueSlotsPerWorker bounds how many tasks may wait per worker.
	queueSlotsPerWorker = 16
)

// DefaultMaxWorkers returns 60% of the available CPUs, at least two.
func DefaultMaxWorkers() int {
	return max(runtime.NumCPU()*cpuPercent/percentDivisor, MinDefaultWorkers)
}

// PoolInfo is a read-only snapshot of the pool handle.
type PoolInfo struct {
	WorkerCount int
	StartMethod string
	Generation  uint64
}

// Pool owns a fixed set of workers. Each restart replaces every worker and
// bumps the generation; tasks of an older generation fail with
// ErrStaleGeneration and are never run against the new one.
type Pool struct {
	backend Backend
	size    int
	logger  *slog.Logger

	mu     sync.Mutex
	gen    *generation
	closed bool

	nextID   atomic.Uint64
	inflight atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

type generation struct {
	id       uint64
	ctx      context.Context
	cancel   context.CancelFunc
	requests chan *job
	workers  []Worker
	wg       sync.WaitGroup
}

type job struct {
	id      uint64
	gen     uint64
	frame   []byte
	started atomic.Bool
	done    chan outcome
}

type outcome struct {
	value string
	err   error
}

// Future is the pool side of one submitted task.
type Future struct {
	ID         uint64
	Generation uint64
	job        *job
}

// resolved delivers exactly one outcome once the task resolves.
func (f *Future) resolved() <-chan outcome {
	return f.job.done
}

// Started reports whether a worker picked the task up.
func (f *Future) Started() bool {
	return f.job.started.Load()
}

// NewPool creates a pool of size workers. Workers start on Start.
func NewPool(backend Backend, size int, logger *slog.Logger) *Pool {
	return &Pool{
		backend: backend,
		size:    max(size, 1),
		logger:  orDiscard(logger),
	}
}

// Start launches the first generation.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	if p.gen != nil {
		return nil
	}

	gen, err := p.spawn(ctx, 1)
	if err != nil {
		return err
	}

	p.gen = gen

	return nil
}

// spawn starts a full generation of workers. Must be called with p.mu held.
func (p *Pool) spawn(ctx context.Context, id uint64) (*generation, error) {
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	gen := &generation{
		id:       id,
		ctx:      genCtx,
		cancel:   cancel,
		requests: make(chan *job, p.size*queueSlotsPerWorker),
	}

	for idx := range p.size {
		worker, err := p.backend.StartWorker(genCtx, idx)
		if err != nil {
			cancel()
			closeWorkers(gen.workers)

			return nil, fmt.Errorf("%w: %w", ErrWorkerPoolBroken, err)
		}

		gen.workers = append(gen.workers, worker)
	}

	for _, worker := range gen.workers {
		gen.wg.Add(1)

		go p.serve(gen, worker)
	}

	p.logger.Debug("worker pool generation started",
		slog.Uint64("generation", id),
		slog.Int("workers", p.size),
		slog.String("start_method", p.backend.Name()),
	)

	return gen, nil
}

func (p *Pool) serve(gen *generation, worker Worker) {
	defer gen.wg.Done()

	for {
		select {
		case <-gen.ctx.Done():
			return
		case j := <-gen.requests:
			if gen.ctx.Err() != nil {
				p.finish(j, outcome{err: ErrStaleGeneration})

				continue
			}

			j.started.Store(true)

			frame, err := worker.Do(gen.ctx, j.frame)
			if gen.ctx.Err() != nil {
				p.finish(j, outcome{err: ErrStaleGeneration})

				continue
			}

			p.finish(j, decodeOutcome(frame, err))
		}
	}
}

func decodeOutcome(frame []byte, err error) outcome {
	if err != nil {
		return outcome{err: err}
	}

	resp, decodeErr := DecodeResponse(frame)
	if decodeErr != nil {
		return outcome{err: decodeErr}
	}

	if resp.Unserializable {
		return outcome{err: fmt.Errorf("%w: %s", ErrSerialization, resp.Error)}
	}

	if resp.Error != "" {
		return outcome{err: fmt.Errorf("%w: %s", ErrJobFailed, resp.Error)}
	}

	return outcome{value: resp.Value}
}

// finish resolves j. Each job is received from its queue exactly once, so
// it is finished exactly once.
func (p *Pool) finish(j *job, out outcome) {
	p.inflight.Add(-1)
	j.done <- out
}

// Submit enqueues task on the current generation without blocking.
func (p *Pool) Submit(task Task) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if p.gen == nil {
		return nil, fmt.Errorf("%w: not started", ErrWorkerPoolBroken)
	}

	id := p.nextID.Add(1)

	frame, err := EncodeRequest(Request{
		ID:         id,
		Generation: p.gen.id,
		Kind:       task.Kind,
		Payload:    task.Payload,
	})
	if err != nil {
		return nil, err
	}

	j := &job{
		id:    id,
		gen:   p.gen.id,
		frame: frame,
		done:  make(chan outcome, 1),
	}

	p.inflight.Add(1)

	select {
	case p.gen.requests <- j:
	default:
		p.inflight.Add(-1)

		return nil, ErrQueueFull
	}

	return &Future{ID: id, Generation: j.gen, job: j}, nil
}

// Restart replaces every worker if the pool is still on generation from.
// Repeated calls for the same generation restart once. Returns the current
// generation.
func (p *Pool) Restart(ctx context.Context, from uint64) (uint64, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return 0, ErrPoolClosed
	}

	if p.gen == nil || p.gen.id != from {
		current := uint64(0)
		if p.gen != nil {
			current = p.gen.id
		}

		p.mu.Unlock()

		return current, nil
	}

	old := p.gen

	next, err := p.spawn(ctx, old.id+1)
	if err != nil {
		p.mu.Unlock()

		return old.id, err
	}

	p.gen = next
	p.mu.Unlock()

	p.retire(old, ErrStaleGeneration)

	p.logger.Info("worker pool restarted",
		slog.Uint64("old_generation", old.id),
		slog.Uint64("generation", next.id),
	)

	return next.id, nil
}

// retire cancels a generation, fails its queued tasks with cause, and
// closes its workers. Running handlers are abandoned.
func (p *Pool) retire(gen *generation, cause error) {
	gen.cancel()

	for {
		select {
		case j := <-gen.requests:
			p.finish(j, outcome{err: cause})
		default:
			closeWorkers(gen.workers)

			return
		}
	}
}

// Shutdown cancels outstanding tasks and terminates every worker. Safe to
// call more than once; later calls return the first result.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		gen := p.gen
		p.mu.Unlock()

		if gen == nil {
			return
		}

		gen.cancel()

		for drained := false; !drained; {
			select {
			case j := <-gen.requests:
				p.finish(j, outcome{err: ErrPoolClosed})
			default:
				drained = true
			}
		}

		group, _ := errgroup.WithContext(ctx)

		for _, worker := range gen.workers {
			group.Go(worker.Close)
		}

		p.shutdownErr = group.Wait()

		gen.wg.Wait()

		p.logger.Debug("worker pool shut down", slog.Uint64("generation", gen.id))
	})

	return p.shutdownErr
}

// Utilization returns in-flight tasks divided by worker count.
func (p *Pool) Utilization() float64 {
	return float64(p.inflight.Load()) / float64(p.size)
}

// Info returns a snapshot of the pool handle.
func (p *Pool) Info() PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := PoolInfo{WorkerCount: p.size, StartMethod: p.backend.Name()}
	if p.gen != nil {
		info.Generation = p.gen.id
	}

	return info
}

func closeWorkers(workers []Worker) {
	for _, worker := range workers {
		_ = worker.Close()
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return logger
}

// isStale reports whether err came from a generation change.
func isStale(err error) bool {
	return errors.Is(err, ErrStaleGeneration)
}
