package feed

import (
	"context"
	"sort"
	"sync"

	"quoteupdater/internal/instrument"
)

// Kind tells the scheduler how a feed wants to be invoked.
type Kind int

const (
	// Batch feeds accept many instruments in one latest-quote call.
	Batch Kind = iota
	// PerURL feeds make one request per instrument URL and are serialized per host.
	PerURL
)

func (k Kind) String() string {
	switch k {
	case Batch:
		return "batch"
	case PerURL:
		return "per-url"
	default:
		return "unknown"
	}
}

// Feed fetches quotes and writes them into instruments. Errors are collected
// per instrument and returned alongside the changed flag, so a batch can
// partially succeed.
type Feed interface {
	ID() string
	Name() string
	Kind() Kind
	UpdateLatestQuotes(ctx context.Context, instruments []*instrument.Instrument) (changed bool, errs []error)
	UpdateHistoricalQuotes(ctx context.Context, inst *instrument.Instrument) (changed bool, errs []error)
}

// Registry maps feed ids to feeds. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

func NewRegistry(feeds ...Feed) *Registry {
	r := &Registry{feeds: make(map[string]Feed, len(feeds))}
	for _, f := range feeds {
		r.Register(f)
	}
	return r
}

// Register adds f, replacing any feed with the same id.
func (r *Registry) Register(f Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[f.ID()] = f
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, id)
}

// Lookup returns the feed registered for id.
func (r *Registry) Lookup(id string) (Feed, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[id]
	return f, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.feeds))
	for id := range r.feeds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
