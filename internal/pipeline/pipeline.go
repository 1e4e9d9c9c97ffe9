// Package pipeline coordinates a streaming translation run: it asks the
// chunk-size controller how much input to take next, drives parse jobs
// in-process or through the offload executor, feeds measured latency back,
// and assembles results strictly in input order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
	"github.com/Sumatoshi-tech/pseudostream/internal/events"
	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
	"github.com/Sumatoshi-tech/pseudostream/internal/streaming"
	"github.com/Sumatoshi-tech/pseudostream/internal/translate"
)

const tracerName = "pseudostream"

// windowPerWorker sizes the offloaded in-flight window. Chunks beyond the
// worker count wait in the pool queue, so the backpressure gauge can reach
// full utilization.
const windowPerWorker = 2

// Sentinel errors.
var (
	// ErrChunkTranslation wraps the first chunk failure when abort_on_error is set.
	ErrChunkTranslation = errors.New("chunk translation failed")

	// ErrValidation wraps a validation failure when abort_on_error is set.
	ErrValidation = errors.New("output validation failed")

	// ErrClosed is returned by Run after Close or a cancelled run.
	ErrClosed = errors.New("pipeline closed")

	// ErrUnknownStartMethod is returned by New for an unsupported start method.
	ErrUnknownStartMethod = errors.New("unknown worker start method")
)

// Deps are the pipeline's injected collaborators. Every field is optional.
type Deps struct {
	// Logger is the structured logger. When nil, a discard logger is used.
	Logger *slog.Logger

	// Dispatcher receives adaptation and pool lifecycle events.
	Dispatcher events.Dispatcher

	// Telemetry records adapt.* and exec_pool.* metrics.
	Telemetry observability.Telemetry

	// Tracer creates the run span. When nil, falls back to otel.Tracer.
	Tracer trace.Tracer

	// WorkerCommand launches exec-method workers. When empty, the running
	// binary is re-executed with the worker subcommand.
	WorkerCommand []string

	// WorkerEnv is appended to the environment of exec-method workers.
	WorkerEnv []string
}

// Pipeline runs streaming translations. Each pipeline owns its executor and
// worker pool; independent pipelines share nothing.
type Pipeline struct {
	cfg        config.Config
	engine     translate.Engine
	logger     *slog.Logger
	dispatcher events.Dispatcher
	telemetry  observability.Telemetry
	tracer     trace.Tracer

	exec *offload.Executor

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a pipeline from a resolved configuration snapshot. The worker
// pool, when enabled, starts lazily on the first offloaded job.
func New(cfg config.Config, engine translate.Engine, deps Deps) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		engine:     engine,
		logger:     deps.Logger,
		dispatcher: events.OrDiscard(deps.Dispatcher),
		telemetry:  deps.Telemetry,
		tracer:     deps.Tracer,
	}

	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if p.telemetry == nil {
		p.telemetry = observability.NopTelemetry{}
	}

	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}

	if !cfg.Pool.Enabled {
		return p, nil
	}

	backend, err := p.newBackend(deps)
	if err != nil {
		return nil, err
	}

	p.exec, err = offload.NewExecutor(offload.ExecutorConfig{
		Backend:        backend,
		Local:          translate.Handlers(engine),
		MaxWorkers:     cfg.Pool.MaxWorkers,
		TaskTimeout:    cfg.TaskTimeout(),
		JobMaxChars:    cfg.Pool.JobMaxChars,
		RetryOnTimeout: cfg.Pool.RetryOnTimeout,
		RetryLimit:     cfg.Pool.RetryLimit,
		Dispatcher:     p.dispatcher,
		Telemetry:      p.telemetry,
		Logger:         p.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	return p, nil
}

func (p *Pipeline) newBackend(deps Deps) (offload.Backend, error) {
	switch p.cfg.StartMethod() {
	case config.StartMethodInProcess:
		return offload.NewInProcessBackend(translate.Handlers(p.engine)), nil
	case config.StartMethodExec:
		command := deps.WorkerCommand
		if len(command) == 0 {
			var err error

			command, err = offload.DefaultWorkerCommand()
			if err != nil {
				return nil, err
			}
		}

		backend, err := offload.NewExecBackend(command, deps.WorkerEnv, p.logger)
		if err != nil {
			return nil, fmt.Errorf("create exec backend: %w", err)
		}

		return backend, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStartMethod, p.cfg.Pool.StartMethod)
	}
}

// PoolInfo returns a snapshot of the worker pool handle. The second value
// is false when offloading is disabled.
func (p *Pipeline) PoolInfo() (offload.PoolInfo, bool) {
	if p.exec == nil {
		return offload.PoolInfo{}, false
	}

	return p.exec.Info(), true
}

// Ready reports whether the pipeline accepts runs. Usable as a readiness check.
func (p *Pipeline) Ready(context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Close cancels outstanding tasks and tears down the worker pool. Later
// calls return the first result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		if p.exec != nil {
			p.closeErr = p.exec.Shutdown(context.Background())
		}
	})

	return p.closeErr
}

// Run translates input chunk by chunk. Chunk failures are recorded in the
// report and the run continues unless abort_on_error is set. Cancelling ctx
// discards partial results, tears the pool down and returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context, input string) (*Report, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.Int("pipeline.input_chars", utf8.RuneCountInString(input)),
			attribute.Bool("pipeline.adaptive", p.cfg.Adaptive.Enabled),
			attribute.Bool("pipeline.offload", p.exec != nil),
		))
	defer span.End()

	r, err := p.newRun()
	if err != nil {
		return nil, err
	}

	began := time.Now()

	report, err := r.execute(ctx, input)
	if ctx.Err() != nil {
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())

		closeErr := p.Close()
		if closeErr != nil {
			p.logger.WarnContext(ctx, "pipeline: teardown after cancel", "error", closeErr)
		}

		return nil, ctx.Err()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	report.Elapsed = time.Since(began)

	span.SetAttributes(
		attribute.Int("pipeline.chunks", len(report.Chunks)),
		attribute.Int("pipeline.failed", len(report.Failed)),
		attribute.Int("pipeline.adaptations", report.Adaptations),
		attribute.Int("pipeline.fallbacks", report.Fallbacks),
	)

	p.logger.InfoContext(ctx, "pipeline: run complete",
		"chunks", len(report.Chunks),
		"failed", len(report.Failed),
		"adaptations", report.Adaptations,
		"fallbacks", report.Fallbacks,
		"p95_ms", report.Latency.P95MS,
		"elapsed", report.Elapsed,
	)

	return report, err
}

func (p *Pipeline) newRun() (*run, error) {
	r := &run{
		p:      p,
		report: &Report{},
		window: 1,
		gauge:  streaming.StaticGauge(0),
	}

	if p.exec != nil {
		r.gauge = streaming.GaugeFunc(p.exec.Utilization)
	}

	if p.exec != nil && p.cfg.OffloadParse() {
		r.window = max(p.exec.Info().WorkerCount, 1) * windowPerWorker
	}

	r.sem = semaphore.NewWeighted(int64(r.window))

	if !p.cfg.Adaptive.Enabled {
		return r, nil
	}

	adaptive := p.cfg.Adaptive

	ctrl, err := streaming.NewController(streaming.ControllerConfig{
		InitialSize:     p.cfg.InitialChunkSize(),
		BaselineSize:    p.cfg.ChunkSize,
		MinSize:         adaptive.MinChunkSize,
		MaxSize:         adaptive.MaxChunkSize,
		TargetLatencyMS: adaptive.TargetLatencyMS,
		HysteresisPct:   adaptive.HysteresisPct,
		StepPct:         adaptive.StepPct,
		CooldownChunks:  adaptive.CooldownChunks,
		SmoothingAlpha:  adaptive.SmoothingAlpha,
	})
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}

	r.ctrl = ctrl

	return r, nil
}
