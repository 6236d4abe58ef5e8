package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quoteupdater/internal/httpx"
	"quoteupdater/internal/provider"
)

type Config struct {
	Name      string
	URL       string
	Method    string
	Headers   map[string]string
	Currency  string
	SymbolMap map[string]string
	// MaxItemsPerRequest splits large symbol lists into smaller batch API requests.
	// 0 or negative means no limit (single request).
	MaxItemsPerRequest int
	// MaxConcurrency limits concurrent batch requests when splitting.
	// Defaults to 1 when <= 0.
	MaxConcurrency int
}

// Provider fetches quotes from a JSON batch endpoint that accepts
// {"symbols": [...]} and answers with one entry per known symbol.
type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "BatchAPI"
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if p.cfg.URL == "" {
		return nil, fmt.Errorf("%s: missing URL", p.cfg.Name)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	// map requested symbols -> provider keys, keep unique provider keys for batching
	keyBySymbol := make(map[string]string, len(symbols))
	uniqSet := make(map[string]struct{}, len(symbols))
	uniqKeys := make([]string, 0, len(symbols))
	for _, s := range symbols {
		key := s
		if v := p.cfg.SymbolMap[s]; v != "" {
			key = v
		}
		keyBySymbol[s] = key
		if _, ok := uniqSet[key]; !ok {
			uniqSet[key] = struct{}{}
			uniqKeys = append(uniqKeys, key)
		}
	}

	var mu sync.Mutex
	byKey := make(map[string]entry, len(uniqKeys))
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	maxConc := p.cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}
	g.SetLimit(maxConc)
	for _, keys := range chunkStrings(uniqKeys, p.cfg.MaxItemsPerRequest) {
		g.Go(func() error {
			entries, err := p.doBatch(gctx, keys)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				// keep the other chunks running
				return nil
			}
			for _, e := range entries {
				byKey[e.Symbol] = e
			}
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	out := make([]provider.Quote, 0, len(symbols))
	for _, s := range symbols {
		e, ok := byKey[keyBySymbol[s]]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(e.Price.String()))
		if err != nil || !price.IsPositive() {
			continue
		}
		currency := e.Currency
		if currency == "" {
			currency = p.cfg.Currency
		}
		out = append(out, provider.Quote{
			Symbol:     s,
			Price:      price,
			Currency:   currency,
			Source:     sourceName(p.cfg.Name, e.Venue),
			ReceivedAt: parseEpochMaybeMillis(e.UpdatedAt, now),
		})
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p *Provider) doBatch(ctx context.Context, keys []string) ([]entry, error) {
	body, err := json.Marshal(apiRequest{Symbols: keys})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%s %s -> %d: %s", p.cfg.Method, p.cfg.URL, resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api apiResponse
	if err := dec.Decode(&api); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(api.Error) != "" && len(api.Data) == 0 {
		return nil, fmt.Errorf("provider error: %q", api.Error)
	}
	return api.Data, nil
}

type apiRequest struct {
	Symbols []string `json:"symbols"`
}

type apiResponse struct {
	Data  []entry `json:"data"`
	Error string  `json:"error"`
}

type entry struct {
	Symbol    string      `json:"symbol"`
	Price     json.Number `json:"price"`
	Currency  string      `json:"currency"`
	Venue     string      `json:"venue"`
	UpdatedAt int64       `json:"updated_at"`
}

func sourceName(name, venue string) string {
	if venue == "" {
		return name
	}
	return name + ":" + venue
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

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 || len(in) <= size {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := min(i+size, len(in))
		out = append(out, in[i:j])
	}
	return out
}
