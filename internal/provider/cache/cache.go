package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"quoteupdater/internal/provider"
)

const defaultMaxItems = 1024

// Provider caches results per symbol for a TTL.
// It requests only missing symbols from the underlying provider and
// combines cached + fresh results.
type Provider struct {
	P     provider.Provider
	items *expirable.LRU[string, []provider.Quote]
}

// New wraps p. A ttl <= 0 disables caching; maxItems <= 0 uses a default bound.
func New(p provider.Provider, ttl time.Duration, maxItems int) *Provider {
	c := &Provider{P: p}
	if ttl > 0 {
		if maxItems <= 0 {
			maxItems = defaultMaxItems
		}
		c.items = expirable.NewLRU[string, []provider.Quote](maxItems, nil, ttl)
	}
	return c
}

func (c *Provider) Name() string { return c.P.Name() }

// Fetch returns quotes for requested symbols using cache when valid. When the
// upstream fails, still-valid cached quotes are returned along with the error.
func (c *Provider) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if c.items == nil {
		return c.P.Fetch(ctx, symbols)
	}

	// Split into cached and unique missing symbols, preserving request order
	cachedBySymbol := make(map[string][]provider.Quote, len(symbols))
	missing := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if qs, ok := c.items.Get(s); ok {
			cachedBySymbol[s] = qs
			continue
		}
		missing = append(missing, s)
	}

	if len(missing) == 0 {
		return collect(symbols, cachedBySymbol), nil
	}

	fresh, err := c.P.Fetch(ctx, missing)
	if err != nil {
		// cached quotes come back together with the upstream error
		if len(cachedBySymbol) > 0 {
			return collect(symbols, cachedBySymbol), err
		}
		return nil, err
	}

	bySymbol := make(map[string][]provider.Quote, len(missing))
	for _, q := range fresh {
		bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
	}
	for _, sym := range missing {
		if qs, ok := bySymbol[sym]; ok {
			c.items.Add(sym, qs)
			cachedBySymbol[sym] = qs
		}
	}
	return collect(symbols, cachedBySymbol), nil
}

func collect(symbols []string, bySymbol map[string][]provider.Quote) []provider.Quote {
	out := make([]provider.Quote, 0, len(bySymbol))
	done := make(map[string]struct{}, len(bySymbol))
	for _, s := range symbols {
		if _, ok := done[s]; ok {
			continue
		}
		done[s] = struct{}{}
		out = append(out, bySymbol[s]...)
	}
	return out
}
