package offload_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	kind, err := offload.ParseKind("validate")
	require.NoError(t, err)
	assert.Equal(t, offload.KindValidate, kind)

	_, err = offload.ParseKind("compile")
	require.ErrorIs(t, err, offload.ErrUnknownKind)
}

func TestState_StringAndTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    offload.State
		name     string
		terminal bool
	}{
		{offload.StateSubmitted, "SUBMITTED", false},
		{offload.StateRunning, "RUNNING", false},
		{offload.StateBypassed, "BYPASSED", false},
		{offload.StateTimedOut, "TIMED_OUT", false},
		{offload.StateRetrying, "RETRYING", false},
		{offload.StateCompleted, "COMPLETED", true},
		{offload.StateFallback, "FALLBACK", true},
		{offload.State(42), "State(42)", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
		assert.Equal(t, tt.terminal, tt.state.Terminal(), tt.name)
	}
}

func TestFallbackReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{offload.ErrJobTooLarge, offload.ReasonJobTooLarge},
		{fmt.Errorf("wrap: %w", offload.ErrSerialization), offload.ReasonSerialization},
		{offload.ErrPoolClosed, offload.ReasonPoolClosed},
		{offload.ErrQueueFull, offload.ReasonQueueFull},
		{offload.ErrTaskTimeout, offload.ReasonTimeoutExhausted},
		{offload.ErrWorkerCrashed, offload.ReasonPoolBroken},
		{offload.ErrStaleGeneration, offload.ReasonPoolBroken},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, offload.FallbackReasonForTest(tt.err), tt.err.Error())
	}
}
