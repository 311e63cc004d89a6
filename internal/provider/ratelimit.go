package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"egocoach/internal/domain"
)

// RateLimitedEmbedder throttles calls to a wrapped embedder with a token
// bucket so that a single-request local backend is not saturated.
type RateLimitedEmbedder struct {
	next    domain.Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows perSecond requests with the given burst.
// perSecond <= 0 disables limiting.
func NewRateLimitedEmbedder(next domain.Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedEmbedder) Name() string { return r.next.Name() }

func (r *RateLimitedEmbedder) Healthy(ctx context.Context) error { return r.next.Healthy(ctx) }

// Embed blocks until a token is available or ctx is done.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Embed(ctx, text)
}
