package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Server struct {
	Addr              string `json:"addr"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Scheduler struct {
	PoolSize       int      `json:"pool_size"`
	RepeatEverySec int      `json:"repeat_every_sec"`
	Targets        []string `json:"targets"`
}

type Storage struct {
	Path string `json:"path"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

const (
	ModeBatch    = "batch"
	ModeSnapshot = "snapshot"
)

// BatchFeed configures a quote API exposed as a batching feed. Mode "batch"
// posts the requested symbols; mode "snapshot" downloads a full price map per
// market and filters it.
type BatchFeed struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Enabled               bool              `json:"enabled"`
	Mode                  string            `json:"mode"`
	Endpoint              string            `json:"endpoint"`
	Markets               []string          `json:"markets"`
	SnapshotTTLSeconds    int               `json:"snapshot_ttl_sec"`
	APIKey                string            `json:"api_key"`
	Currency              string            `json:"currency"`
	SymbolMap             map[string]string `json:"symbol_map"`
	MaxRequestsPerMinute  int               `json:"max_requests_per_minute"`
	MinRequestIntervalSec int               `json:"min_request_interval_sec"`
	Burst                 int               `json:"burst"`
	MaxItemsPerRequest    int               `json:"max_items_per_request"`
	MaxConcurrency        int               `json:"max_concurrency"`
	CacheTTLSeconds       int               `json:"cache_ttl_sec"`
	CacheMaxItems         int               `json:"cache_max_items"`
}

// TableFeed configures the per-URL CSV table feed.
type TableFeed struct {
	Enabled         bool   `json:"enabled"`
	Name            string `json:"name"`
	UserAgent       string `json:"user_agent"`
	CacheSize       int    `json:"cache_size"`
	CacheTTLSeconds int    `json:"cache_ttl_sec"`
}

type Config struct {
	Server          Server      `json:"server"`
	Scheduler       Scheduler   `json:"scheduler"`
	Storage         Storage     `json:"storage"`
	Log             Log         `json:"log"`
	InstrumentsFile string      `json:"instruments_file"`
	BatchFeeds      []BatchFeed `json:"batch_feeds"`
	TableFeed       TableFeed   `json:"table_feed"`
}

func Default() Config {
	return Config{
		Server:          Server{Addr: ":8080", RequestTimeoutSec: 10},
		Scheduler:       Scheduler{PoolSize: 10, RepeatEverySec: 900, Targets: []string{"latest", "historic"}},
		Storage:         Storage{Path: "quotes.db"},
		Log:             Log{Level: "info", Format: "text"},
		InstrumentsFile: "instruments.json",
		TableFeed: TableFeed{
			Enabled:         true,
			Name:            "Price table",
			CacheSize:       256,
			CacheTTLSeconds: 300,
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.BatchFeeds))
	for i, f := range c.BatchFeeds {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("batch_feeds[%d]: missing id", i))
			continue
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("batch_feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		switch f.Mode {
		case "", ModeBatch, ModeSnapshot:
		default:
			errs = append(errs, fmt.Errorf("batch_feeds[%d] %s: unknown mode %q", i, f.ID, f.Mode))
		}
		if f.Enabled && f.Endpoint == "" {
			errs = append(errs, fmt.Errorf("batch_feeds[%d] %s: missing endpoint", i, f.ID))
		}
	}
	for _, t := range c.Scheduler.Targets {
		switch strings.ToLower(t) {
		case "latest", "historic":
		default:
			errs = append(errs, fmt.Errorf("scheduler.targets: unknown target %q", t))
		}
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUOTES_ADDR"); v != "" {
		cfg.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)
	envInt("QUOTES_POOL_SIZE", 1, &cfg.Scheduler.PoolSize)
	envInt("QUOTES_REPEAT_EVERY_SEC", 0, &cfg.Scheduler.RepeatEverySec)
	if v := os.Getenv("QUOTES_TARGETS"); v != "" {
		cfg.Scheduler.Targets = splitCSV(v)
	}
	if v := os.Getenv("QUOTES_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("QUOTES_INSTRUMENTS"); v != "" {
		cfg.InstrumentsFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	envBool("TABLE_FEED_ENABLED", &cfg.TableFeed.Enabled)
	envInt("TABLE_FEED_CACHE_TTL_SEC", 0, &cfg.TableFeed.CacheTTLSeconds)

	// Secrets per batch feed, e.g. BATCH_XETRA_API_KEY
	for i := range cfg.BatchFeeds {
		f := &cfg.BatchFeeds[i]
		prefix := "BATCH_" + envName(f.ID) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			f.APIKey = v
		}
		if v := os.Getenv(prefix + "ENDPOINT"); v != "" {
			f.Endpoint = v
		}
		envBool(prefix+"ENABLED", &f.Enabled)
		envInt(prefix+"MAX_RPM", 0, &f.MaxRequestsPerMinute)
		envInt(prefix+"CACHE_TTL_SEC", 0, &f.CacheTTLSeconds)
	}
}

func envInt(key string, minValue int, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= minValue {
		*dst = x
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func envName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
