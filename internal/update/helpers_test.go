package update

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
)

type fakeFeed struct {
	id   string
	kind feed.Kind

	latest   func(ctx context.Context, insts []*instrument.Instrument) (bool, []error)
	historic func(ctx context.Context, inst *instrument.Instrument) (bool, []error)

	latestCalls   atomic.Int64
	historicCalls atomic.Int64
}

func (f *fakeFeed) ID() string      { return f.id }
func (f *fakeFeed) Name() string    { return f.id + " feed" }
func (f *fakeFeed) Kind() feed.Kind { return f.kind }

func (f *fakeFeed) UpdateLatestQuotes(ctx context.Context, insts []*instrument.Instrument) (bool, []error) {
	f.latestCalls.Add(1)
	if f.latest == nil {
		return false, nil
	}
	return f.latest(ctx, insts)
}

func (f *fakeFeed) UpdateHistoricalQuotes(ctx context.Context, inst *instrument.Instrument) (bool, []error) {
	f.historicCalls.Add(1)
	if f.historic == nil {
		return false, nil
	}
	return f.historic(ctx, inst)
}

type report struct {
	label  string
	causes []error
}

type recordingSink struct {
	mu      sync.Mutex
	reports []report
	errs    []error
}

func (s *recordingSink) ReportErrors(label string, causes []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report{label: label, causes: causes})
}

func (s *recordingSink) ReportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) Reports() []report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report(nil), s.reports...)
}

type countingNotifier struct {
	n atomic.Int64
}

func (c *countingNotifier) MarkDirty() { c.n.Add(1) }

// concurrencyTracker records the maximum number of overlapping calls per key.
type concurrencyTracker struct {
	mu     sync.Mutex
	active map[string]int
	max    map[string]int
}

func newConcurrencyTracker() *concurrencyTracker {
	return &concurrencyTracker{active: map[string]int{}, max: map[string]int{}}
}

func (c *concurrencyTracker) enter(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[key]++
	if c.active[key] > c.max[key] {
		c.max[key] = c.active[key]
	}
}

func (c *concurrencyTracker) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[key]--
}

func (c *concurrencyTracker) Max(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max[key]
}

type recordingProgress struct {
	mu      sync.Mutex
	begins  int
	active  int
	overlap bool
	worked  int
	done    []time.Time
}

func (p *recordingProgress) Begin(string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begins++
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
}

func (p *recordingProgress) Worked(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.worked += n
}

func (p *recordingProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	p.done = append(p.done, time.Now())
}

func (p *recordingProgress) snapshot() (begins, worked int, overlap bool, done []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.begins, p.worked, p.overlap, append([]time.Time(nil), p.done...)
}

func identityShuffle(int, func(i, j int)) {}

func reverseShuffle(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}

func instruments(feedID string, urls ...string) []*instrument.Instrument {
	out := make([]*instrument.Instrument, 0, len(urls))
	for i, u := range urls {
		out = append(out, &instrument.Instrument{
			ID:      feedID + "-" + string(rune('a'+i)),
			Name:    feedID + " " + string(rune('A'+i)),
			Feed:    feedID,
			FeedURL: u,
		})
	}
	return out
}
