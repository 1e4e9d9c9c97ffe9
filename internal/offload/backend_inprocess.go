package offload

import (
	"context"
	"fmt"
)

// InProcessBackend runs workers as goroutines. Jobs still cross the wire
// codec so the serialization boundary matches the exec backend. A worker
// stuck in a handler cannot be preempted; on restart it is abandoned and
// exits when the handler returns.
type InProcessBackend struct {
	handlers Handlers
}

// NewInProcessBackend creates a backend serving handlers.
func NewInProcessBackend(handlers Handlers) *InProcessBackend {
	return &InProcessBackend{handlers: handlers}
}

// Name returns StartMethodInProcess.
func (b *InProcessBackend) Name() string {
	return StartMethodInProcess
}

// StartWorker creates a goroutine worker.
func (b *InProcessBackend) StartWorker(_ context.Context, _ int) (Worker, error) {
	return &inProcessWorker{handlers: b.handlers}, nil
}

type inProcessWorker struct {
	handlers Handlers
}

type doResult struct {
	frame []byte
	err   error
}

func (w *inProcessWorker) Do(ctx context.Context, frame []byte) ([]byte, error) {
	req, decodeErr := DecodeRequest(frame)
	if decodeErr != nil {
		return nil, decodeErr
	}

	done := make(chan doResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- doResult{err: fmt.Errorf("%w: panic: %v", ErrWorkerCrashed, r)}
			}
		}()

		resp := runHandler(ctx, w.handlers, req)

		out, encodeErr := EncodeResponse(resp)
		if encodeErr != nil {
			out, encodeErr = EncodeResponse(unserializable(req.ID, encodeErr))
		}

		done <- doResult{frame: out, err: encodeErr}
	}()

	select {
	case res := <-done:
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *inProcessWorker) Close() error {
	return nil
}
