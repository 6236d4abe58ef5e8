package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"quoteupdater/internal/provider"
)

// Provider wraps a provider and gates calls through a rate limiter.
// Waiting callers return early with the context error when canceled.
type Provider struct {
	P provider.Provider
	L *rate.Limiter
}

// NewPerMinute allows perMinute calls per minute with the given burst.
// perMinute <= 0 means unlimited.
func NewPerMinute(p provider.Provider, perMinute, burst int) *Provider {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &Provider{P: p, L: rate.NewLimiter(limit, burst)}
}

// NewMinInterval enforces at least interval between the starts of two calls.
func NewMinInterval(p provider.Provider, interval time.Duration) *Provider {
	return &Provider{P: p, L: rate.NewLimiter(rate.Every(interval), 1)}
}

func (r *Provider) Name() string { return r.P.Name() }

func (r *Provider) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if r.L != nil {
		if err := r.L.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.P.Fetch(ctx, symbols)
}
