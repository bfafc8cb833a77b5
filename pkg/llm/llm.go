// Package llm wraps chat completion behind a small interface so the
// classifier, answer engine and agents share one client and tests can
// substitute a fake.
package llm

import (
	"context"
)

// Request is a single-turn completion. When JSONSchema is set the model is
// constrained to emit JSON matching it.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONSchema  *JSONSchema
}

// JSONSchema names a structured-output contract.
type JSONSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Response carries the completion text and token accounting.
type Response struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
