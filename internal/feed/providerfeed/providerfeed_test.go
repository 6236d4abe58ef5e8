package providerfeed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/feed/providerfeed"
	"quoteupdater/internal/instrument"
	"quoteupdater/internal/provider"
	"quoteupdater/internal/provider/cache"
)

type fakeProvider struct {
	fetch func(ctx context.Context, symbols []string) ([]provider.Quote, error)
	calls [][]string
}

func (p *fakeProvider) Name() string { return "Fake" }

func (p *fakeProvider) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	p.calls = append(p.calls, symbols)
	return p.fetch(ctx, symbols)
}

func TestFeed_UpdateLatestQuotes(t *testing.T) {
	t.Parallel()

	// Arrange: the provider knows two of three symbols, one of them twice
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p := &fakeProvider{fetch: func(context.Context, []string) ([]provider.Quote, error) {
		return []provider.Quote{
			{Symbol: "AAA", Price: decimal.RequireFromString("10.5"), Source: "Fake:x", ReceivedAt: t0},
			{Symbol: "AAA", Price: decimal.RequireFromString("11"), Source: "Fake:y", ReceivedAt: t0.Add(time.Minute)},
			{Symbol: "BBB", Price: decimal.RequireFromString("2"), Source: "Fake:x", ReceivedAt: t0},
		}, nil
	}}
	f := providerfeed.New("FAKE", p)
	insts := []*instrument.Instrument{
		{ID: "1", Symbol: "AAA"},
		{ID: "BBB"},
		{ID: "3", Name: "Missing", Symbol: "CCC"},
		{ID: "4", Symbol: "AAA"},
	}

	// Act
	changed, errs := f.UpdateLatestQuotes(t.Context(), insts)

	// Assert: one call with unique symbols; one error for the missing one
	require.True(t, changed)
	require.Len(t, p.calls, 1)
	require.Equal(t, []string{"AAA", "BBB", "CCC"}, p.calls[0])
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "Missing")

	q, ok := insts[0].Latest()
	require.True(t, ok)
	require.True(t, q.Value.Equal(decimal.NewFromInt(11)))
	require.Equal(t, "Fake:y", q.Source)
	_, ok = insts[2].Latest()
	require.False(t, ok)

	// Act: same quotes again change nothing
	changed, _ = f.UpdateLatestQuotes(t.Context(), insts)
	require.False(t, changed)
}

func TestFeed_UpdateLatestQuotes_FetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream down")
	p := &fakeProvider{fetch: func(context.Context, []string) ([]provider.Quote, error) { return nil, boom }}
	f := providerfeed.New("FAKE", p)

	changed, errs := f.UpdateLatestQuotes(t.Context(), []*instrument.Instrument{{ID: "a"}, {ID: "b"}})
	require.False(t, changed)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
}

func TestFeed_UpdateLatestQuotes_CachedFallbackKeepsFetchError(t *testing.T) {
	t.Parallel()

	// Arrange: a cache in front of a provider that fails after the first call
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	boom := errors.New("upstream down")
	var failing bool
	p := &fakeProvider{fetch: func(_ context.Context, symbols []string) ([]provider.Quote, error) {
		if failing {
			return nil, boom
		}
		out := make([]provider.Quote, 0, len(symbols))
		for _, s := range symbols {
			out = append(out, provider.Quote{Symbol: s, Price: decimal.NewFromInt(5), ReceivedAt: t0})
		}
		return out, nil
	}}
	f := providerfeed.New("FAKE", cache.New(p, time.Minute, 10))
	cached := &instrument.Instrument{ID: "AAA"}
	_, errs := f.UpdateLatestQuotes(t.Context(), []*instrument.Instrument{cached})
	require.Empty(t, errs)
	failing = true

	// Act
	fresh := &instrument.Instrument{ID: "BBB"}
	changed, errs := f.UpdateLatestQuotes(t.Context(), []*instrument.Instrument{cached, fresh})

	// Assert: the cached quote is applied and the upstream failure is the one cause
	require.False(t, changed)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
	_, ok := fresh.Latest()
	require.False(t, ok)
}

func TestFeed_UpdateHistoricalQuotes(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	price := decimal.RequireFromString("99.9")
	p := &fakeProvider{fetch: func(_ context.Context, symbols []string) ([]provider.Quote, error) {
		return []provider.Quote{{Symbol: symbols[0], Price: price, ReceivedAt: t0}}, nil
	}}
	f := providerfeed.New("FAKE", p)
	inst := &instrument.Instrument{ID: "1", Symbol: "AAA"}

	changed, errs := f.UpdateHistoricalQuotes(t.Context(), inst)
	require.True(t, changed)
	require.Empty(t, errs)
	prices := inst.Prices()
	require.Len(t, prices, 1)
	require.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), prices[0].Date)
	require.True(t, prices[0].Close.Equal(price))

	// Assert: the same day and price is not a change
	changed, _ = f.UpdateHistoricalQuotes(t.Context(), inst)
	require.False(t, changed)
}

func TestFeed_Identity(t *testing.T) {
	t.Parallel()

	f := providerfeed.New("FAKE", &fakeProvider{})
	require.Equal(t, "FAKE", f.ID())
	require.Equal(t, "Fake", f.Name())
	require.Equal(t, feed.Batch, f.Kind())
}
