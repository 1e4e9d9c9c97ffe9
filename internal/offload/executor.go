// Package offload runs parse and validate jobs on an isolated worker pool
// under a per-task timeout, with pool restart, bounded retry and a
// guaranteed in-process fallback.
package offload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Sumatoshi-tech/pseudostream/internal/events"
	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
)

// ErrNoBackend is returned by NewExecutor without a backend.
var ErrNoBackend = errors.New("offload: no worker backend")

// ExecutorConfig holds executor settings and collaborators.
type ExecutorConfig struct {
	// Backend starts pool workers.
	Backend Backend
	// Local handlers run jobs in-process on fallback.
	Local Handlers

	// MaxWorkers is the pool size. Zero means DefaultMaxWorkers.
	MaxWorkers     int
	TaskTimeout    time.Duration
	JobMaxChars    int
	RetryOnTimeout bool
	RetryLimit     int

	Dispatcher events.Dispatcher
	Telemetry  observability.Telemetry
	Logger     *slog.Logger
}

// Executor submits jobs to a lazily started pool. It owns the pool handle;
// callers only see events, telemetry and Info snapshots.
type Executor struct {
	cfg        ExecutorConfig
	workers    int
	dispatcher events.Dispatcher
	telemetry  observability.Telemetry
	logger     *slog.Logger

	mu       sync.Mutex
	pool     *Pool
	watchdog *Watchdog
	closed   bool

	submissions atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewExecutor creates an executor. The pool starts on first submission.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Backend == nil {
		return nil, ErrNoBackend
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers()
	}

	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = observability.NopTelemetry{}
	}

	return &Executor{
		cfg:        cfg,
		workers:    workers,
		dispatcher: events.OrDiscard(cfg.Dispatcher),
		telemetry:  telemetry,
		logger:     orDiscard(cfg.Logger),
	}, nil
}

// Submit hands a job to the pool without blocking. Jobs above the size cap
// never reach the pool; any submission failure turns the handle into a
// local run. A non-positive timeout uses the configured one.
func (e *Executor) Submit(ctx context.Context, kind Kind, payload string, timeout time.Duration) *Handle {
	if timeout <= 0 {
		timeout = e.cfg.TaskTimeout
	}

	h := &Handle{
		exec:    e,
		kind:    kind,
		payload: payload,
		timeout: timeout,
		size:    utf8.RuneCountInString(payload),
		start:   time.Now(),
		state:   StateSubmitted,
	}

	if h.size > e.cfg.JobMaxChars {
		h.bypass(ctx, ReasonJobTooLarge)

		return h
	}

	_, startErr := e.ensurePool(ctx)
	if startErr != nil {
		h.bypass(ctx, fallbackReason(startErr))

		return h
	}

	submitErr := h.submit(ctx, 1)
	if submitErr != nil {
		h.bypass(ctx, fallbackReason(submitErr))
	}

	return h
}

// Run submits a job and waits for its result.
func (e *Executor) Run(ctx context.Context, kind Kind, payload string) Result {
	return e.Submit(ctx, kind, payload, 0).Result(ctx)
}

func (e *Executor) ensurePool(ctx context.Context) (*Watchdog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrPoolClosed
	}

	if e.pool != nil {
		return e.watchdog, nil
	}

	began := time.Now()
	pool := NewPool(e.cfg.Backend, e.workers, e.logger)

	startErr := pool.Start(ctx)
	if startErr != nil {
		e.logger.ErrorContext(ctx, "worker pool start failed", slog.String("error", startErr.Error()))

		return nil, startErr
	}

	e.pool = pool
	e.watchdog = NewWatchdog(pool, e.logger)

	e.emit(events.NewPoolStarted(e.workers, e.cfg.Backend.Name()))
	e.telemetry.Count(ctx, observability.MetricPoolStarted)
	e.telemetry.Duration(ctx, observability.MetricPoolInitMS, time.Since(began))

	e.logger.InfoContext(ctx, "worker pool started",
		slog.Int("max_workers", e.workers),
		slog.String("start_method", e.cfg.Backend.Name()),
	)

	return e.watchdog, nil
}

func (e *Executor) current() (*Pool, *Watchdog) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pool, e.watchdog
}

func (e *Executor) emit(ev events.Event) {
	e.dispatcher.Dispatch(ev)
}

// Utilization reports the pool's in-flight ratio. Zero before the pool starts.
func (e *Executor) Utilization() float64 {
	pool, _ := e.current()
	if pool == nil {
		return 0
	}

	return pool.Utilization()
}

// Info returns a snapshot of the pool handle.
func (e *Executor) Info() PoolInfo {
	pool, _ := e.current()
	if pool == nil {
		return PoolInfo{WorkerCount: e.workers, StartMethod: e.cfg.Backend.Name()}
	}

	return pool.Info()
}

// Submissions returns how many tasks reached the pool, retries included.
func (e *Executor) Submissions() int64 {
	return e.submissions.Load()
}

// StallCount returns the number of timeouts and crashes that forced a restart.
func (e *Executor) StallCount() int {
	_, wd := e.current()
	if wd == nil {
		return 0
	}

	return wd.StalledCount()
}

// Shutdown cancels outstanding tasks and terminates the pool. Later calls
// return the first result.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		pool := e.pool
		e.mu.Unlock()

		if pool != nil {
			e.shutdownErr = pool.Shutdown(ctx)
		}
	})

	return e.shutdownErr
}

// Handle tracks one job from submission to its terminal state.
type Handle struct {
	exec    *Executor
	kind    Kind
	payload string
	timeout time.Duration
	size    int
	start   time.Time

	mu        sync.Mutex
	state     State
	attempt   int
	future    *Future
	submitted time.Time
	bypassed  string
	done      bool
	result    Result
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateSubmitted && h.future != nil && h.future.Started() {
		return StateRunning
	}

	return h.state
}

// Attempt returns the current attempt number. Zero for bypassed jobs.
func (h *Handle) Attempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.attempt
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) bypass(ctx context.Context, reason string) {
	h.mu.Lock()
	h.state = StateBypassed
	h.bypassed = reason
	attempt := h.attempt
	h.mu.Unlock()

	h.exec.emit(events.NewFallback(string(h.kind), reason, attempt))
	h.exec.telemetry.Count(ctx, observability.MetricPoolFallback)
}

func (h *Handle) submit(ctx context.Context, attempt int) error {
	pool, _ := h.exec.current()
	if pool == nil {
		return ErrPoolClosed
	}

	fut, err := pool.Submit(Task{
		Kind:    h.kind,
		Payload: h.payload,
		Timeout: h.timeout,
		Attempt: attempt,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.future = fut
	h.attempt = attempt
	h.submitted = time.Now()
	h.state = StateSubmitted
	h.mu.Unlock()

	h.exec.submissions.Add(1)
	h.exec.emit(events.NewTaskSubmitted(string(h.kind), h.size, attempt))
	h.exec.telemetry.Count(ctx, observability.MetricPoolSubmit)

	return nil
}

// Result blocks until the job reaches a terminal state and returns it. Only
// cancellation of ctx ends the wait without a value; every offload failure
// ends in a retried success or an in-process fallback.
func (h *Handle) Result(ctx context.Context) Result {
	h.mu.Lock()
	if h.done {
		res := h.result
		h.mu.Unlock()

		return res
	}

	bypassed := h.bypassed
	h.mu.Unlock()

	var res Result
	if bypassed != "" {
		res = h.runLocal(ctx, bypassed)
	} else {
		res = h.await(ctx)
	}

	if ctx.Err() == nil || res.State.Terminal() {
		h.mu.Lock()
		h.done = true
		h.result = res
		h.mu.Unlock()
	}

	return res
}

func (h *Handle) await(ctx context.Context) Result {
	exec := h.exec

	for {
		_, wd := exec.current()
		if wd == nil {
			return h.fallback(ctx, ReasonPoolClosed)
		}

		h.mu.Lock()
		fut := h.future
		attempt := h.attempt
		h.mu.Unlock()

		value, err := wd.Wait(ctx, fut, h.timeout)

		switch {
		case err == nil || errors.Is(err, ErrJobFailed):
			return h.complete(ctx, value, err)
		case ctx.Err() != nil:
			return Result{
				Err:      ctx.Err(),
				Duration: time.Since(h.start),
				Attempts: attempt,
				State:    h.State(),
			}
		case errors.Is(err, ErrPoolClosed):
			return h.fallback(ctx, ReasonPoolClosed)
		case errors.Is(err, ErrSerialization):
			// The worker is healthy; only the job cannot cross the boundary.
			return h.fallback(ctx, ReasonSerialization)
		}

		reason := ReasonPoolBroken
		if errors.Is(err, ErrTaskTimeout) {
			reason = ReasonTimeoutExhausted
		}

		if !isStale(err) {
			h.setState(StateTimedOut)
			exec.emit(events.NewTimeout(string(h.kind), h.timeout, attempt))
			exec.telemetry.Count(ctx, observability.MetricPoolTimeout)

			_, restartErr := wd.HandleStall(ctx, h.kind, fut.Generation, err)
			if restartErr != nil {
				return h.fallback(ctx, fallbackReason(restartErr))
			}
		}

		if !exec.cfg.RetryOnTimeout || attempt > exec.cfg.RetryLimit {
			return h.fallback(ctx, reason)
		}

		h.setState(StateRetrying)

		submitErr := h.submit(ctx, attempt+1)
		if submitErr != nil {
			return h.fallback(ctx, fallbackReason(submitErr))
		}
	}
}

func (h *Handle) complete(ctx context.Context, value string, jobErr error) Result {
	h.mu.Lock()
	h.state = StateCompleted
	taskDuration := time.Since(h.submitted)
	attempt := h.attempt
	h.mu.Unlock()

	h.exec.emit(events.NewTaskCompleted(string(h.kind), taskDuration))
	h.exec.telemetry.Count(ctx, observability.MetricPoolComplete)
	h.exec.telemetry.Duration(ctx, observability.MetricPoolTaskMS, taskDuration)

	return Result{
		Value:    value,
		Err:      jobErr,
		Duration: time.Since(h.start),
		Attempts: attempt,
		State:    StateCompleted,
	}
}

// fallback announces the fallback and runs the job in-process.
func (h *Handle) fallback(ctx context.Context, reason string) Result {
	h.exec.emit(events.NewFallback(string(h.kind), reason, h.Attempt()))
	h.exec.telemetry.Count(ctx, observability.MetricPoolFallback)

	h.exec.logger.DebugContext(ctx, "offload fallback",
		slog.String("kind", string(h.kind)),
		slog.String("reason", reason),
	)

	return h.runLocal(ctx, reason)
}

func (h *Handle) runLocal(ctx context.Context, reason string) Result {
	h.setState(StateFallback)

	res := Result{
		Attempts:       h.Attempt(),
		State:          StateFallback,
		Fallback:       true,
		FallbackReason: reason,
	}

	local, ok := h.exec.cfg.Local[h.kind]
	if !ok {
		res.Err = ErrUnknownKind
		res.Duration = time.Since(h.start)

		return res
	}

	res.Value, res.Err = local(ctx, h.payload)
	res.Duration = time.Since(h.start)

	return res
}
