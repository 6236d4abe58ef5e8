package update

import (
	"context"
	"fmt"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
)

// Task is one call into a feed for one or more instruments.
type Task struct {
	Label       string
	Feed        feed.Feed
	Target      Target
	Instruments []*instrument.Instrument

	// Token serializes the task against other tasks on the same host.
	// The zero token leaves the task unconstrained.
	Token HostToken
}

// HasToken reports whether the task is bound to a host.
func (t *Task) HasToken() bool { return t.Token.host != "" }

// Run calls the feed, signals c when data changed and sends collected errors
// to sink as one report. It never returns an error: a failing instrument must
// not stop its siblings.
func (t *Task) Run(ctx context.Context, c *Coalescer, sink Sink) {
	defer func() {
		if rec := recover(); rec != nil {
			sink.ReportError(fmt.Errorf("%s: feed %s panicked: %v", t.Label, t.Feed.ID(), rec))
		}
	}()

	var (
		changed bool
		errs    []error
	)
	switch t.Target {
	case Latest:
		changed, errs = t.Feed.UpdateLatestQuotes(ctx, t.Instruments)
	case Historic:
		for _, inst := range t.Instruments {
			ch, es := t.Feed.UpdateHistoricalQuotes(ctx, inst)
			changed = changed || ch
			errs = append(errs, es...)
		}
	}

	if changed {
		c.MarkChanged()
	}
	if len(errs) > 0 {
		sink.ReportErrors(t.Label, errs)
	}
}
