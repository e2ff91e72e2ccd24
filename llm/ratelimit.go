package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider paces calls to the wrapped provider with a token bucket.
// Fan-out branches share one limiter per provider.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows rps requests per second with the given burst.
// A non-positive rps disables pacing.
func NewRateLimitedProvider(inner Provider, rps float64, burst int) *RateLimitedProvider {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

var _ Provider = (*RateLimitedProvider)(nil)

func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

func (p *RateLimitedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &Error{
			Code:     ErrRateLimited,
			Message:  "local rate limit: " + err.Error(),
			Provider: p.inner.Name(),
		}
	}
	return p.inner.Completion(ctx, req)
}
