package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
	"github.com/Sumatoshi-tech/pseudostream/internal/streaming"
)

var decisionMetrics = map[streaming.Reason]string{
	streaming.ReasonIncrease: observability.MetricAdaptIncrease,
	streaming.ReasonDecrease: observability.MetricAdaptDecrease,
	streaming.ReasonNoop:     observability.MetricAdaptNoop,
}

// run is the state of one Run call. Only the loop goroutine touches it;
// chunk goroutines communicate through their inflight.done channel.
type run struct {
	p      *Pipeline
	ctrl   *streaming.Controller
	gauge  streaming.BackpressureGauge
	window int
	sem    *semaphore.Weighted
	report *Report

	pending []*inflight
	wg      sync.WaitGroup
}

// inflight is a dispatched chunk awaiting its result.
type inflight struct {
	done chan ChunkResult
}

// execute drives the chunk loop, then validates the assembled output. On a
// non-nil error the returned report holds the results collected so far.
func (r *run) execute(ctx context.Context, input string) (*Report, error) {
	err := r.loop(ctx, input)

	r.report.assemble()

	if err != nil {
		return r.report, err
	}

	return r.report, r.validate(ctx)
}

// loop dispatches every chunk and collects every result. Chunk goroutines
// have exited when it returns.
func (r *run) loop(ctx context.Context, input string) error {
	runCtx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		r.wg.Wait()
	}()

	chunker := streaming.NewChunker(input)

	for !chunker.Done() {
		err := r.sem.Acquire(runCtx, 1)
		if err != nil {
			return err
		}

		err = r.collect(ctx, false)
		if err != nil {
			r.sem.Release(1)

			return err
		}

		chunk, _ := chunker.Next(r.nextSize(ctx))
		r.dispatch(runCtx, chunk)
	}

	return r.collect(ctx, true)
}

// nextSize consults the controller, or returns the fixed baseline when
// adaptive chunking is off.
func (r *run) nextSize(ctx context.Context) int {
	p := r.p

	size := p.cfg.ChunkSize

	if r.ctrl != nil {
		var decision streaming.ChunkDecision

		size, decision = r.ctrl.NextChunkSize(r.gauge.Utilization(), p.cfg.Adaptive.TokensPerSecond)
		r.recordDecision(ctx, len(r.report.ChunkSizes), decision)
	}

	r.report.ChunkSizes = append(r.report.ChunkSizes, size)

	return size
}

func (r *run) recordDecision(ctx context.Context, chunkIndex int, d streaming.ChunkDecision) {
	p := r.p

	r.report.Decisions++
	p.telemetry.Count(ctx, decisionMetrics[d.Reason])
	streaming.LogDecision(ctx, p.logger, chunkIndex, d)

	if !d.Changed() {
		return
	}

	r.report.Adaptations++
	p.dispatcher.Dispatch(d.Event())

	trace.SpanFromContext(ctx).AddEvent("pipeline.adaptation", trace.WithAttributes(
		attribute.Int("chunk", chunkIndex),
		attribute.Int("old_size", d.OldSize),
		attribute.Int("new_size", d.NewSize),
		attribute.String("reason", string(d.Reason)),
	))
}

// dispatch starts chunk. Offloaded submissions happen on the loop goroutine
// so pool events keep input order; waiting happens on the chunk goroutine,
// which frees the window slot when the result is in.
func (r *run) dispatch(ctx context.Context, chunk streaming.Chunk) {
	p := r.p
	f := &inflight{done: make(chan ChunkResult, 1)}
	began := time.Now()

	var handle *offload.Handle
	if p.exec != nil && p.cfg.OffloadParse() {
		handle = p.exec.Submit(ctx, offload.KindParse, chunk.Text, 0)
	}

	r.pending = append(r.pending, f)
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)

		res := ChunkResult{
			Index:  chunk.Index,
			Offset: chunk.Offset,
			Size:   chunk.Len(),
		}

		if handle != nil {
			out := handle.Result(ctx)

			res.Output, res.Err = out.Value, out.Err
			res.Offloaded = !out.Fallback
			res.Fallback = out.Fallback
			res.FallbackReason = out.FallbackReason
			res.Attempts = out.Attempts
		} else {
			res.Output, res.Err = p.engine.Parse(ctx, chunk.Text)
		}

		res.Latency = time.Since(began)
		f.done <- res
	}()
}

// collect consumes finished chunks from the head of the pending queue in
// input order. With wait set it blocks until the queue is empty.
func (r *run) collect(ctx context.Context, wait bool) error {
	for len(r.pending) > 0 {
		head := r.pending[0]

		var res ChunkResult

		if wait {
			res = <-head.done
		} else {
			select {
			case res = <-head.done:
			default:
				return nil
			}
		}

		r.pending = r.pending[1:]

		err := r.accept(ctx, res)
		if err != nil {
			return err
		}
	}

	return nil
}

// accept feeds one in-order result back into the controller and the report.
func (r *run) accept(ctx context.Context, res ChunkResult) error {
	p := r.p

	if res.Err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if r.ctrl != nil {
		r.ctrl.UpdateFeedback(float64(res.Latency) / float64(time.Millisecond))
		p.telemetry.Duration(ctx, observability.MetricAdaptLatency, res.Latency)
	}

	r.report.add(res)

	if res.Err == nil {
		return nil
	}

	p.logger.WarnContext(ctx, "pipeline: chunk failed",
		"chunk", res.Index,
		"offset", res.Offset,
		"error", res.Err,
	)

	if p.cfg.AbortOnError {
		return fmt.Errorf("%w: chunk %d: %w", ErrChunkTranslation, res.Index, res.Err)
	}

	return nil
}

// validate checks the assembled output once every chunk translated.
func (r *run) validate(ctx context.Context) error {
	p := r.p

	if len(r.report.Failed) > 0 || r.report.Output == "" {
		return nil
	}

	var err error

	if p.exec != nil && p.cfg.OffloadValidate() {
		res := p.exec.Run(ctx, offload.KindValidate, r.report.Output)
		if res.Fallback {
			r.report.Fallbacks++
		}

		err = res.Err
	} else {
		err = p.engine.Validate(ctx, r.report.Output)
	}

	if err == nil {
		return nil
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	r.report.ValidationErr = err

	p.logger.WarnContext(ctx, "pipeline: validation failed", "error", err)

	if p.cfg.AbortOnError {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return nil
}
