package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client with a token-bucket limiter so bursts of
// repair iterations cannot hammer the upstream service.
type RateLimited struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited allows requestsPerMinute calls with a burst of one.
func NewRateLimited(inner Client, requestsPerMinute int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

// Complete waits for limiter capacity, then delegates.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, req)
}

// GenerateStructured delegates when the wrapped client supports the
// typed fast path, applying the same limiter.
func (r *RateLimited) GenerateStructured(ctx context.Context, req Request, schemaJSON []byte) (*Completion, error) {
	gen, ok := r.inner.(TypedGenerator)
	if !ok {
		return nil, ErrTypedGenerationUnsupported
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return gen.GenerateStructured(ctx, req, schemaJSON)
}
