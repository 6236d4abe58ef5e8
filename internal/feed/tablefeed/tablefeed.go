// Package tablefeed reads daily price tables published as CSV files.
//
// Each instrument points at its own table URL, so the feed is invoked once
// per instrument and the scheduler serializes requests to the same host.
package tablefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
	"quoteupdater/internal/quote"
)

// ID is the registry id of the table feed.
const ID = "TABLE"

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 5 * time.Minute
	maxTableBytes    = 8 << 20
)

var (
	// ErrNoURL is reported for instruments without a table URL.
	ErrNoURL = errors.New("instrument has no table url")
	// ErrNoRows is reported when a table holds no usable price rows.
	ErrNoRows = errors.New("table has no price rows")
)

// Feed downloads and parses price tables. Parsed tables are cached by URL
// and concurrent loads of one URL share a single request.
type Feed struct {
	name       string
	httpClient HTTPClient
	header     http.Header
	cacheSize  int
	cacheTTL   time.Duration

	cache *expirable.LRU[string, []quote.Price]
	sf    singleflight.Group
}

func New(options ...Option) *Feed {
	f := &Feed{
		name:       "Price table",
		httpClient: http.DefaultClient,
		header:     http.Header{},
		cacheSize:  defaultCacheSize,
		cacheTTL:   defaultCacheTTL,
	}
	for _, option := range options {
		option(f)
	}
	f.cache = expirable.NewLRU[string, []quote.Price](f.cacheSize, nil, f.cacheTTL)
	return f
}

func (f *Feed) ID() string      { return ID }
func (f *Feed) Name() string    { return f.name }
func (f *Feed) Kind() feed.Kind { return feed.PerURL }

// UpdateLatestQuotes sets each instrument's latest quote to the newest row of
// its latest-quote table.
func (f *Feed) UpdateLatestQuotes(ctx context.Context, insts []*instrument.Instrument) (bool, []error) {
	var changed bool
	var errs []error
	for _, inst := range insts {
		prices, err := f.pricesFor(ctx, inst, inst.LatestURL())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		last := prices[len(prices)-1]
		q := quote.Latest{Value: last.Close, Source: f.name, Time: last.Date}
		if inst.SetLatest(q) {
			changed = true
		}
	}
	return changed, errs
}

// UpdateHistoricalQuotes merges every row of the instrument's table into its
// series.
func (f *Feed) UpdateHistoricalQuotes(ctx context.Context, inst *instrument.Instrument) (bool, []error) {
	prices, err := f.pricesFor(ctx, inst, inst.FeedURL)
	if err != nil {
		return false, []error{err}
	}
	return inst.MergePrices(prices), nil
}

func (f *Feed) pricesFor(ctx context.Context, inst *instrument.Instrument, rawURL string) ([]quote.Price, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%s: %w", inst.DisplayName(), ErrNoURL)
	}
	prices, err := f.table(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inst.DisplayName(), err)
	}
	return prices, nil
}

// table returns the parsed rows at rawURL, oldest first. The result is never
// empty.
func (f *Feed) table(ctx context.Context, rawURL string) ([]quote.Price, error) {
	if prices, ok := f.cache.Get(rawURL); ok {
		return prices, nil
	}
	v, err, _ := f.sf.Do(rawURL, func() (any, error) {
		prices, err := f.load(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		f.cache.Add(rawURL, prices)
		return prices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]quote.Price), nil
}

func (f *Feed) load(ctx context.Context, rawURL string) ([]quote.Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range f.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "text/csv, text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s -> %d: %s", rawURL, resp.StatusCode, string(b))
	}

	prices, err := Parse(io.LimitReader(resp.Body, maxTableBytes))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	return prices, nil
}
