package streaming_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/streaming"
)

func TestChunker_FixedSizes(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("x", 25)
	chunker := streaming.NewChunker(input)

	var chunks []streaming.Chunk

	for {
		chunk, ok := chunker.Next(10)
		if !ok {
			break
		}

		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{chunks[0].Len(), chunks[1].Len(), chunks[2].Len()})
	assert.Equal(t, []int{0, 10, 20}, []int{chunks[0].Offset, chunks[1].Offset, chunks[2].Offset})
	assert.Equal(t, 2, chunks[2].Index)
	assert.Equal(t, input, streaming.Join(chunks))
	assert.True(t, chunker.Done())
}

func TestChunker_SnapsToLineInSecondHalf(t *testing.T) {
	t.Parallel()

	chunker := streaming.NewChunker("abcdefg\nhijklmnop\n")

	chunk, ok := chunker.Next(10)
	require.True(t, ok)
	assert.Equal(t, "abcdefg\n", chunk.Text)
	assert.Equal(t, 10, chunker.Remaining())
}

func TestChunker_IgnoresNewlineInFirstHalf(t *testing.T) {
	t.Parallel()

	chunker := streaming.NewChunker("ab\ncdefghijklmnop")

	chunk, ok := chunker.Next(10)
	require.True(t, ok)
	assert.Equal(t, "ab\ncdefghi", chunk.Text)
}

func TestChunker_CountsRunes(t *testing.T) {
	t.Parallel()

	chunker := streaming.NewChunker("äöüßéèêë")

	chunk, ok := chunker.Next(3)
	require.True(t, ok)
	assert.Equal(t, "äöü", chunk.Text)
	assert.Equal(t, 3, chunk.Len())
	assert.Equal(t, 5, chunker.Remaining())
}

func TestChunker_VaryingSizesPreserveInput(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("set x to x plus 1\nprint x\n", 40)
	chunker := streaming.NewChunker(input)
	sizes := []int{7, 50, 0, 13, 200}

	var chunks []streaming.Chunk

	for idx := 0; ; idx++ {
		chunk, ok := chunker.Next(sizes[idx%len(sizes)])
		if !ok {
			break
		}

		chunks = append(chunks, chunk)
	}

	assert.Equal(t, input, streaming.Join(chunks))
}

func TestChunker_EmptyInput(t *testing.T) {
	t.Parallel()

	_, ok := streaming.NewChunker("").Next(10)
	assert.False(t, ok)
}

func TestLogDecision_EmitsStructuredFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	streaming.LogDecision(context.Background(), logger, 2, streaming.ChunkDecision{
		OldSize: 600,
		NewSize: 480,
		Reason:  streaming.ReasonDecrease,
	})

	output := buf.String()
	assert.Contains(t, output, "streaming: chunk decision")
	assert.Contains(t, output, "chunk=3")
	assert.Contains(t, output, "reason=decrease")
}
