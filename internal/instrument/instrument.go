package instrument

import (
	"sync"

	"quoteupdater/internal/quote"
)

// Instrument is a tracked security. Identity and feed configuration are
// read-only once loaded; quote state is mutated by feeds and guarded by mu.
type Instrument struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`

	// Feed and FeedURL configure historical quotes and act as the default
	// for latest quotes.
	Feed    string `json:"feed"`
	FeedURL string `json:"feed_url,omitempty"`

	LatestFeed    string `json:"latest_feed,omitempty"`
	LatestFeedURL string `json:"latest_feed_url,omitempty"`

	mu     sync.RWMutex
	latest *quote.Latest
	prices []quote.Price
}

// LatestFeedID returns the feed used for latest quotes.
func (i *Instrument) LatestFeedID() string {
	if i.LatestFeed != "" {
		return i.LatestFeed
	}
	return i.Feed
}

// LatestURL returns the URL used for latest quotes.
func (i *Instrument) LatestURL() string {
	if i.LatestFeedURL != "" {
		return i.LatestFeedURL
	}
	return i.FeedURL
}

// DisplayName is Name, or ID when the instrument has no name.
func (i *Instrument) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

// Latest returns the latest quote, if any.
func (i *Instrument) Latest() (quote.Latest, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.latest == nil {
		return quote.Latest{}, false
	}
	return *i.latest, true
}

// SetLatest stores q and reports whether it differs from the previous value.
func (i *Instrument) SetLatest(q quote.Latest) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.latest != nil && i.latest.Equal(q) {
		return false
	}
	i.latest = &q
	return true
}

// Prices returns a copy of the historical series, oldest first.
func (i *Instrument) Prices() []quote.Price {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]quote.Price, len(i.prices))
	copy(out, i.prices)
	return out
}

// MergePrices upserts ps into the series and reports whether anything changed.
func (i *Instrument) MergePrices(ps []quote.Price) bool {
	if len(ps) == 0 {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	merged, changed := quote.MergePrices(i.prices, ps)
	if changed {
		i.prices = merged
	}
	return changed
}
