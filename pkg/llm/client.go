package llm

import (
	"context"
	"errors"
)

var (
	// ErrCompletion wraps every upstream model failure.
	ErrCompletion = errors.New("completion failed")

	ErrCredentialInvalid = errors.New("credential invalid")
	ErrNoActiveClient    = errors.New("no active LLM client")
)

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool
	MaxTokens         int64
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl marks the system prompt as cacheable.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// WithMaxTokens overrides the client's default output token ceiling for one call.
func WithMaxTokens(n int64) CompleteOption {
	return func(o *CompleteOptions) {
		o.MaxTokens = n
	}
}

func applyOptions(opts []CompleteOption) CompleteOptions {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client is a single-turn text completion provider.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Validator is implemented by clients that can check their credential upstream.
type Validator interface {
	Validate(ctx context.Context) error
}
