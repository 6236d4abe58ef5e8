package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"quoteupdater/internal/httpx"
	"quoteupdater/internal/provider"
)

// Config controls the snapshot provider behavior.
type Config struct {
	Name     string
	URL      string
	Currency string
	APIKey   string            // optional; sent as the apikey query parameter
	Headers  map[string]string // optional extra headers
	// Markets lists the venues to query; each is one snapshot request.
	// Empty means a single request without a market parameter.
	Markets []string
	// SnapshotTTL is how long a downloaded snapshot is served. Defaults to 10s.
	SnapshotTTL time.Duration
}

// Provider pulls a full price snapshot per market and filters it by the
// requested symbols. Snapshots are cached for SnapshotTTL and concurrent
// refreshes of one market share a single request.
type Provider struct {
	cfg    Config
	client *httpx.Client

	snapshots *expirable.LRU[string, map[string]item]
	sf        singleflight.Group
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Snapshot"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 10 * time.Second
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = []string{""}
	}
	return &Provider{
		cfg:       cfg,
		client:    hc,
		snapshots: expirable.NewLRU[string, map[string]item](len(cfg.Markets), nil, cfg.SnapshotTTL),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if p.cfg.URL == "" {
		return nil, fmt.Errorf("%s: missing URL", p.cfg.Name)
	}

	now := time.Now().UTC()
	var out []provider.Quote
	var anyValid bool
	var lastErr error
	for _, market := range p.cfg.Markets {
		items, err := p.snapshot(ctx, market)
		if err != nil {
			// Record last error; continue to check other markets
			lastErr = err
			continue
		}
		anyValid = true
		for _, s := range symbols {
			it, ok := items[s]
			if !ok || it.P == nil {
				continue
			}
			price, err := decimal.NewFromString(it.P.String())
			if err != nil {
				continue
			}
			source := p.cfg.Name
			if market != "" {
				source += ":" + market
			}
			out = append(out, provider.Quote{
				Symbol:     s,
				Price:      price,
				Currency:   p.cfg.Currency,
				Source:     source,
				ReceivedAt: parseEpochMaybeMillis(it.T, now),
			})
		}
	}
	if !anyValid {
		return nil, lastErr
	}
	return out, nil
}

func (p *Provider) snapshot(ctx context.Context, market string) (map[string]item, error) {
	if items, ok := p.snapshots.Get(market); ok {
		return items, nil
	}
	v, err, _ := p.sf.Do(market, func() (any, error) {
		perMarketCtx, cancel := context.WithTimeout(ctx, 7*time.Second)
		defer cancel()
		items, err := p.fetchMarket(perMarketCtx, market)
		if err != nil {
			return nil, err
		}
		p.snapshots.Add(market, items)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]item), nil
}

func (p *Provider) fetchMarket(ctx context.Context, market string) (map[string]item, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if p.cfg.APIKey != "" {
		q.Set("apikey", p.cfg.APIKey)
	}
	if market != "" {
		q.Set("market", market)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s -> %d", p.cfg.URL, resp.StatusCode)
	}
	var body apiResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return body.Items, nil
}

type apiResponse struct {
	Items map[string]item `json:"items"`
	Time  int64           `json:"time"`
}

type item struct {
	P *json.Number `json:"p"`
	T int64        `json:"t"`
}

func parseEpochMaybeMillis(v int64, fallback time.Time) time.Time {
	if v <= 0 {
		return fallback
	}
	if v > 1_000_000_000_000 { // ms
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
