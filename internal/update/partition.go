package update

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
)

// Target selects which quotes a run refreshes.
type Target uint8

const (
	Latest Target = 1 << iota
	Historic

	AllTargets = Latest | Historic
)

// Has reports whether t includes o.
func (t Target) Has(o Target) bool { return t&o != 0 }

func (t Target) String() string {
	switch t {
	case Latest:
		return "latest"
	case Historic:
		return "historic"
	case AllTargets:
		return "latest,historic"
	default:
		return "none"
	}
}

// ParseTargets parses names like "latest" and "historic". An empty list
// selects all targets.
func ParseTargets(names []string) (Target, error) {
	if len(names) == 0 {
		return AllTargets, nil
	}
	var t Target
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "latest":
			t |= Latest
		case "historic", "historical":
			t |= Historic
		case "all":
			t |= AllTargets
		default:
			return 0, fmt.Errorf("unknown update target %q", n)
		}
	}
	return t, nil
}

// Resolver looks up feeds by id. *feed.Registry satisfies it.
type Resolver interface {
	Lookup(id string) (feed.Feed, bool)
}

// ShuffleFunc permutes n elements through swap, like rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

// Partition builds the task list for one run. It does not execute anything.
// Instruments whose feed id does not resolve are skipped.
func Partition(instruments []*instrument.Instrument, feeds Resolver, targets Target, shuffle ShuffleFunc) []*Task {
	var tasks []*Task
	if targets.Has(Latest) {
		tasks = append(tasks, latestTasks(instruments, feeds)...)
	}
	if targets.Has(Historic) {
		if shuffle == nil {
			shuffle = rand.Shuffle
		}
		tasks = append(tasks, historicTasks(instruments, feeds, shuffle)...)
	}
	return tasks
}

func latestTasks(instruments []*instrument.Instrument, feeds Resolver) []*Task {
	var tasks []*Task

	// batched groups in first-seen order
	var order []string
	groups := make(map[string]*Task)

	for _, inst := range instruments {
		f, ok := feeds.Lookup(inst.LatestFeedID())
		if !ok {
			continue
		}

		// per-URL feeds make one request per instrument: run them as separate
		// tasks and let the host token keep one request per host in flight
		if f.Kind() == feed.PerURL {
			t := &Task{Label: f.Name(), Feed: f, Target: Latest, Instruments: []*instrument.Instrument{inst}}
			if tok, ok := TokenFor(inst.LatestURL()); ok {
				t.Token = tok
			}
			tasks = append(tasks, t)
			continue
		}

		g, ok := groups[f.ID()]
		if !ok {
			g = &Task{Label: f.Name(), Feed: f, Target: Latest}
			groups[f.ID()] = g
			order = append(order, f.ID())
		}
		g.Instruments = append(g.Instruments, inst)
	}

	for _, id := range order {
		tasks = append(tasks, groups[id])
	}
	return tasks
}

func historicTasks(instruments []*instrument.Instrument, feeds Resolver, shuffle ShuffleFunc) []*Task {
	// Random order: per-URL feeds keep an LRU of recent tables, and a fixed
	// order evicts entries right before they are needed again when the cache
	// is smaller than the working set.
	shuffled := make([]*instrument.Instrument, len(instruments))
	copy(shuffled, instruments)
	shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	tasks := make([]*Task, 0, len(shuffled))
	for _, inst := range shuffled {
		f, ok := feeds.Lookup(inst.Feed)
		if !ok {
			continue
		}
		t := &Task{Label: inst.DisplayName(), Feed: f, Target: Historic, Instruments: []*instrument.Instrument{inst}}
		if f.Kind() == feed.PerURL {
			if tok, ok := TokenFor(inst.FeedURL); ok {
				t.Token = tok
			}
		}
		tasks = append(tasks, t)
	}
	return tasks
}
