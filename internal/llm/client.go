// Package llm defines the model-call contract the pipeline consumes.
// Provider SDK plumbing lives behind an external LLM service; this
// package only knows how to ask for a completion and what comes back.
package llm

import "context"

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the canonical model response shape.
type Completion struct {
	Text       string `json:"text"`
	Usage      Usage  `json:"usage"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Request describes one model call.
type Request struct {
	System      string  `json:"system,omitempty"`
	User        string  `json:"user"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Client issues free-text model calls.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// TypedGenerator is the optional typed-generation fast path. Backends
// that support schema-constrained output implement it; callers must fall
// back to Complete plus extraction when it fails.
type TypedGenerator interface {
	GenerateStructured(ctx context.Context, req Request, schemaJSON []byte) (*Completion, error)
}
