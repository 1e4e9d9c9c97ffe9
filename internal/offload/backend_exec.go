package offload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// WorkerCommandName is the subcommand a binary exposes to act as a worker.
const WorkerCommandName = "worker"

// ErrNoWorkerCommand is returned when the exec backend has nothing to run.
var ErrNoWorkerCommand = errors.New("exec backend: empty worker command")

// ExecBackend runs each worker as a child process speaking the frame
// protocol over stdin and stdout. Restart kills the processes.
type ExecBackend struct {
	command []string
	env     []string
	logger  *slog.Logger
}

// NewExecBackend creates a backend that launches command. Extra env entries
// are appended to the parent environment.
func NewExecBackend(command, env []string, logger *slog.Logger) (*ExecBackend, error) {
	if len(command) == 0 {
		return nil, ErrNoWorkerCommand
	}

	return &ExecBackend{
		command: command,
		env:     env,
		logger:  orDiscard(logger),
	}, nil
}

// DefaultWorkerCommand re-executes the running binary in worker mode.
func DefaultWorkerCommand() ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	return []string{self, WorkerCommandName}, nil
}

// Name returns StartMethodExec.
func (b *ExecBackend) Name() string {
	return StartMethodExec
}

// StartWorker launches one child process.
func (b *ExecBackend) StartWorker(_ context.Context, id int) (Worker, error) {
	cmd := exec.Command(b.command[0], b.command[1:]...) //nolint:gosec // command comes from trusted config.
	cmd.Env = append(os.Environ(), b.env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdin: %w", id, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout: %w", id, err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}

	b.logger.Debug("exec worker started", "worker", id, "pid", cmd.Process.Pid)

	return &execWorker{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: b.logger,
	}, nil
}

type execWorker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *slog.Logger

	// mu serializes requests; the child handles one frame at a time.
	mu   sync.Mutex
	dead bool

	closeOnce sync.Once
	closeErr  error
}

func (w *execWorker) Do(ctx context.Context, frame []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return nil, fmt.Errorf("%w: worker %d exited", ErrWorkerCrashed, w.id)
	}

	_, writeErr := w.stdin.Write(append(frame, frameDelimiter))
	if writeErr != nil {
		w.dead = true

		return nil, fmt.Errorf("%w: write to worker %d: %w", ErrWorkerCrashed, w.id, writeErr)
	}

	done := make(chan doResult, 1)

	go func() {
		line, readErr := w.stdout.ReadBytes(frameDelimiter)
		done <- doResult{frame: line, err: readErr}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			w.dead = true

			return nil, fmt.Errorf("%w: read from worker %d: %w", ErrWorkerCrashed, w.id, res.err)
		}

		return res.frame, nil
	case <-ctx.Done():
		// The child may still be busy; it cannot take another frame.
		w.dead = true
		_ = w.Close()

		<-done

		return nil, ctx.Err()
	}
}

func (w *execWorker) Close() error {
	w.closeOnce.Do(func() {
		_ = w.stdin.Close()

		killErr := w.cmd.Process.Kill()
		if killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			w.closeErr = fmt.Errorf("kill worker %d: %w", w.id, killErr)
		}

		// Wait reports the kill signal as an error; only reaping matters here.
		_ = w.cmd.Wait()

		w.logger.Debug("exec worker stopped", "worker", w.id)
	})

	return w.closeErr
}
