// Package providerfeed exposes a price provider as a batching quote feed.
package providerfeed

import (
	"context"
	"fmt"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
	"quoteupdater/internal/provider"
	"quoteupdater/internal/quote"
)

// Feed requests all symbols of a latest-quote task in one provider call.
type Feed struct {
	id string
	p  provider.Provider
}

func New(id string, p provider.Provider) *Feed {
	return &Feed{id: id, p: p}
}

func (f *Feed) ID() string      { return f.id }
func (f *Feed) Name() string    { return f.p.Name() }
func (f *Feed) Kind() feed.Kind { return feed.Batch }

// UpdateLatestQuotes fetches the newest quote of every instrument. Instruments
// the provider returned nothing for are reported one error each.
func (f *Feed) UpdateLatestQuotes(ctx context.Context, insts []*instrument.Instrument) (bool, []error) {
	if len(insts) == 0 {
		return false, nil
	}
	newest, err := f.fetch(ctx, symbols(insts))
	if err != nil && len(newest) == 0 {
		return false, []error{err}
	}

	var changed bool
	var errs []error
	if err != nil {
		// the fetch error explains the missing quotes
		errs = append(errs, err)
	}
	for _, inst := range insts {
		q, ok := newest[symbolOf(inst)]
		if !ok {
			if err == nil {
				errs = append(errs, fmt.Errorf("%s: no quote for %s", f.p.Name(), inst.DisplayName()))
			}
			continue
		}
		if inst.SetLatest(quote.FromProvider(q)) {
			changed = true
		}
	}
	return changed, errs
}

// UpdateHistoricalQuotes records the current quote as the price of its day.
// Providers only serve current prices, so the series grows one point per day.
func (f *Feed) UpdateHistoricalQuotes(ctx context.Context, inst *instrument.Instrument) (bool, []error) {
	sym := symbolOf(inst)
	newest, err := f.fetch(ctx, []string{sym})
	q, ok := newest[sym]
	if err != nil && !ok {
		return false, []error{err}
	}
	if !ok {
		return false, []error{fmt.Errorf("%s: no quote for %s", f.p.Name(), inst.DisplayName())}
	}
	return inst.MergePrices([]quote.Price{{Date: quote.Day(q.ReceivedAt), Close: q.Price}}), nil
}

func (f *Feed) fetch(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	quotes, err := f.p.Fetch(ctx, syms)
	if err != nil {
		err = fmt.Errorf("%s: fetch %d symbols: %w", f.p.Name(), len(syms), err)
	}
	return quote.NewestBySymbol(quotes), err
}

func symbolOf(inst *instrument.Instrument) string {
	if inst.Symbol != "" {
		return inst.Symbol
	}
	return inst.ID
}

func symbols(insts []*instrument.Instrument) []string {
	seen := make(map[string]struct{}, len(insts))
	out := make([]string, 0, len(insts))
	for _, inst := range insts {
		s := symbolOf(inst)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
