package offload

import (
	"errors"
	"fmt"
)

// Offload failure taxonomy. Every failure except ErrJobFailed ends in either
// a retried success or an in-process fallback.
var (
	// ErrTaskTimeout marks a task that did not finish within its timeout.
	ErrTaskTimeout = errors.New("offload task timed out")

	// ErrWorkerPoolBroken marks a pool that can no longer run a task.
	ErrWorkerPoolBroken = errors.New("worker pool broken")

	// ErrWorkerCrashed is reported when a worker dies mid-task.
	ErrWorkerCrashed = fmt.Errorf("%w: worker crashed", ErrWorkerPoolBroken)

	// ErrStaleGeneration is reported for tasks abandoned by a pool restart.
	ErrStaleGeneration = fmt.Errorf("%w: stale generation", ErrWorkerPoolBroken)

	// ErrJobTooLarge marks a payload above the job-size cap.
	ErrJobTooLarge = errors.New("job too large for offload")

	// ErrSerialization marks a payload that cannot cross the worker boundary.
	ErrSerialization = errors.New("job not serializable")

	// ErrPoolClosed is returned by submissions after shutdown.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull is returned when the pool queue has no room.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrUnknownKind marks a job kind without a registered handler.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrJobFailed wraps an error returned by the job handler itself.
	ErrJobFailed = errors.New("job failed")
)

// Fallback reasons carried by EXEC_POOL_FALLBACK events.
const (
	ReasonJobTooLarge      = "job_too_large"
	ReasonTimeoutExhausted = "timeout_exhausted"
	ReasonPoolBroken       = "pool_broken"
	ReasonSerialization    = "serialization_error"
	ReasonPoolClosed       = "pool_closed"
	ReasonQueueFull        = "queue_full"
)

// fallbackReason maps a submission failure to its fallback reason.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrJobTooLarge):
		return ReasonJobTooLarge
	case errors.Is(err, ErrSerialization):
		return ReasonSerialization
	case errors.Is(err, ErrPoolClosed):
		return ReasonPoolClosed
	case errors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	case errors.Is(err, ErrTaskTimeout):
		return ReasonTimeoutExhausted
	default:
		return ReasonPoolBroken
	}
}
