package streaming

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one contiguous slice of input.
type Chunk struct {
	Index int
	// Offset is the rune offset of Text within the input.
	Offset int
	Text   string
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Chunker slices input strictly in order. Sizes count characters (runes).
// A cut is moved back to just after the last newline in the second half of
// the window so lines stay whole when possible.
type Chunker struct {
	input     string
	pos       int // Byte offset.
	runePos   int
	remaining int
	index     int
}

// NewChunker creates a chunker over input.
func NewChunker(input string) *Chunker {
	return &Chunker{
		input:     input,
		remaining: utf8.RuneCountInString(input),
	}
}

// Remaining returns the number of characters not yet emitted.
func (c *Chunker) Remaining() int {
	return c.remaining
}

// Done reports whether the input is exhausted.
func (c *Chunker) Done() bool {
	return c.remaining == 0
}

// Next cuts the next chunk of at most size characters. Returns false once
// the input is exhausted. Sizes below one are treated as one.
func (c *Chunker) Next(size int) (Chunk, bool) {
	if c.Done() {
		return Chunk{}, false
	}

	size = max(size, 1)

	var end, runes int

	if size >= c.remaining {
		end = len(c.input)
		runes = c.remaining
	} else {
		end, runes = c.cut(size)
	}

	chunk := Chunk{
		Index:  c.index,
		Offset: c.runePos,
		Text:   c.input[c.pos:end],
	}

	c.pos = end
	c.runePos += runes
	c.remaining -= runes
	c.index++

	return chunk, true
}

// cut returns the byte end and rune count of a window of size runes,
// snapped to a line boundary when one exists in its second half.
func (c *Chunker) cut(size int) (int, int) {
	half := size / 2 //nolint:mnd // second half of the window.
	end := c.pos
	lineEnd, lineRunes := -1, 0

	for n := 0; n < size; n++ {
		r, width := utf8.DecodeRuneInString(c.input[end:])
		end += width

		if r == '\n' && n+1 > half {
			lineEnd, lineRunes = end, n+1
		}
	}

	if lineEnd > 0 {
		return lineEnd, lineRunes
	}

	return end, size
}

// Join concatenates chunk texts in slice order.
func Join(chunks []Chunk) string {
	var sb strings.Builder

	for _, ch := range chunks {
		sb.WriteString(ch.Text)
	}

	return sb.String()
}
