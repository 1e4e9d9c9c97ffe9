// Package translate defines the translation engine the streaming core
// schedules, and a small rule-based engine that rewrites block-structured
// pseudocode into Go-like code.
package translate

import (
	"context"

	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
)

// Engine parses pseudocode chunks and validates assembled code. Both methods
// must be pure functions of their input so they can run in any worker.
type Engine interface {
	Parse(ctx context.Context, chunk string) (string, error)
	Validate(ctx context.Context, code string) error
}

// Handlers exposes engine as offload job handlers. A validate job returns an
// empty value on success.
func Handlers(engine Engine) offload.Handlers {
	return offload.Handlers{
		offload.KindParse: engine.Parse,
		offload.KindValidate: func(ctx context.Context, code string) (string, error) {
			return "", engine.Validate(ctx, code)
		},
	}
}
