package quote

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"quoteupdater/internal/provider"
)

// Latest is the most recent quote known for an instrument.
type Latest struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"`
	Source   string          `json:"source,omitempty"`
	Time     time.Time       `json:"time"`
}

// Equal reports whether both quotes carry the same value, source and time.
func (l Latest) Equal(o Latest) bool {
	return l.Value.Equal(o.Value) && l.Currency == o.Currency && l.Source == o.Source && l.Time.Equal(o.Time)
}

// Price is one point of a historical series, keyed by calendar day.
type Price struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewestBySymbol collapses quotes by symbol keeping the newest one.
// For equal timestamps, later input wins. Zero timestamps are replaced with time.Now().UTC().
func NewestBySymbol(quotes []provider.Quote) map[string]provider.Quote {
	now := time.Now().UTC()
	newest := make(map[string]provider.Quote, len(quotes))
	for _, q := range quotes {
		if q.ReceivedAt.IsZero() {
			q.ReceivedAt = now
		}
		if cur, ok := newest[q.Symbol]; ok && q.ReceivedAt.Before(cur.ReceivedAt) {
			continue
		}
		newest[q.Symbol] = q
	}
	return newest
}

// FromProvider converts a provider quote into a Latest.
func FromProvider(q provider.Quote) Latest {
	return Latest{Value: q.Price, Currency: q.Currency, Source: q.Source, Time: q.ReceivedAt}
}

// MergePrices upserts incoming prices into existing by day and returns the
// merged series sorted by date. changed is false when nothing was added or
// replaced.
func MergePrices(existing, incoming []Price) (merged []Price, changed bool) {
	byDay := make(map[time.Time]decimal.Decimal, len(existing)+len(incoming))
	for _, p := range existing {
		byDay[Day(p.Date)] = p.Close
	}
	for _, p := range incoming {
		d := Day(p.Date)
		if cur, ok := byDay[d]; ok && cur.Equal(p.Close) {
			continue
		}
		byDay[d] = p.Close
		changed = true
	}
	if !changed {
		return existing, false
	}

	merged = make([]Price, 0, len(byDay))
	for d, c := range byDay {
		merged = append(merged, Price{Date: d, Close: c})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	return merged, true
}
