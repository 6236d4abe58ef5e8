// Package app wires configuration into the feed registry shared by the
// daemon and the one-shot command.
package app

import (
	"log/slog"
	"net/http"
	"time"

	"quoteupdater/internal/config"
	"quoteupdater/internal/feed"
	"quoteupdater/internal/feed/providerfeed"
	"quoteupdater/internal/feed/tablefeed"
	"quoteupdater/internal/httpx"
	"quoteupdater/internal/provider"
	"quoteupdater/internal/provider/batchapi"
	"quoteupdater/internal/provider/cache"
	"quoteupdater/internal/provider/ratelimit"
	"quoteupdater/internal/provider/snapshot"
)

// Feeds builds the registry of every enabled feed. Misconfigured feeds are
// skipped with a warning so one bad entry does not stop the others.
func Feeds(cfg config.Config, hc *httpx.Client, log *slog.Logger) *feed.Registry {
	reg := feed.NewRegistry()

	for _, bf := range cfg.BatchFeeds {
		if !bf.Enabled {
			continue
		}
		if bf.Endpoint == "" {
			log.Warn("batch feed has no endpoint; skipping", "feed", bf.ID)
			continue
		}
		if bf.APIKey == "" {
			log.Warn("batch feed has no api key", "feed", bf.ID)
		}
		reg.Register(providerfeed.New(bf.ID, batchProvider(bf, hc)))
	}

	if cfg.TableFeed.Enabled {
		header := http.Header{}
		ua := cfg.TableFeed.UserAgent
		if ua == "" {
			ua = httpx.DefaultUserAgent
		}
		header.Set("User-Agent", ua)
		reg.Register(tablefeed.New(
			tablefeed.WithHTTPClient(hc.Doer()),
			tablefeed.WithHeader(header),
			tablefeed.WithName(cfg.TableFeed.Name),
			tablefeed.WithCacheSize(cfg.TableFeed.CacheSize),
			tablefeed.WithCacheTTL(time.Duration(cfg.TableFeed.CacheTTLSeconds)*time.Second),
		))
	}

	log.Info("feeds registered", "feeds", reg.IDs())
	return reg
}

func batchProvider(bf config.BatchFeed, hc *httpx.Client) provider.Provider {
	headers := map[string]string{}
	if bf.APIKey != "" {
		headers["Authorization"] = "Bearer " + bf.APIKey
	}
	name := bf.Name
	if name == "" {
		name = bf.ID
	}
	var p provider.Provider
	if bf.Mode == config.ModeSnapshot {
		p = snapshot.New(snapshot.Config{
			Name:        name,
			URL:         bf.Endpoint,
			Currency:    bf.Currency,
			APIKey:      bf.APIKey,
			Markets:     bf.Markets,
			SnapshotTTL: time.Duration(bf.SnapshotTTLSeconds) * time.Second,
		}, hc)
	} else {
		p = batchapi.New(batchapi.Config{
			Name:               name,
			URL:                bf.Endpoint,
			Method:             http.MethodPost,
			Headers:            headers,
			Currency:           bf.Currency,
			SymbolMap:          bf.SymbolMap,
			MaxItemsPerRequest: bf.MaxItemsPerRequest,
			MaxConcurrency:     bf.MaxConcurrency,
		}, hc)
	}
	// Prefer a per-minute budget with burst if set, otherwise use min-interval
	if bf.MaxRequestsPerMinute > 0 {
		p = ratelimit.NewPerMinute(p, bf.MaxRequestsPerMinute, bf.Burst)
	} else if bf.MinRequestIntervalSec > 0 {
		p = ratelimit.NewMinInterval(p, time.Duration(bf.MinRequestIntervalSec)*time.Second)
	}
	if bf.CacheTTLSeconds > 0 {
		p = cache.New(p, time.Duration(bf.CacheTTLSeconds)*time.Second, bf.CacheMaxItems)
	}
	return p
}
