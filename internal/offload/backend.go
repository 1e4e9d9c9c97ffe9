package offload

import "context"

// Start methods.
const (
	StartMethodInProcess = "inprocess"
	StartMethodExec      = "exec"
)

// Worker runs one request frame at a time and returns the response frame.
// A transport failure is reported as ErrWorkerCrashed; a cancelled ctx
// abandons the request.
type Worker interface {
	Do(ctx context.Context, frame []byte) ([]byte, error)
	Close() error
}

// Backend starts isolated workers.
type Backend interface {
	// Name returns the start method.
	Name() string
	StartWorker(ctx context.Context, id int) (Worker, error)
}
