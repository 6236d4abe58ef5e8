// Package watchlist owns the set of tracked instruments and their dirty state.
package watchlist

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"quoteupdater/internal/instrument"
)

// Watchlist holds the tracked instruments. MarkDirty records that quote data
// changed since the last save and notifies listeners.
type Watchlist struct {
	mu          sync.RWMutex
	instruments []*instrument.Instrument
	byID        map[string]*instrument.Instrument

	dirty atomic.Bool

	listenersMu sync.Mutex
	listeners   []func()
}

func New(insts ...*instrument.Instrument) (*Watchlist, error) {
	w := &Watchlist{byID: make(map[string]*instrument.Instrument, len(insts))}
	for _, inst := range insts {
		if err := w.Add(inst); err != nil {
			return nil, err
		}
	}
	return w, nil
}

type file struct {
	Instruments []*instrument.Instrument `json:"instruments"`
}

// Load reads a {"instruments": [...]} JSON document.
func Load(path string) (*Watchlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	w, err := New(f.Instruments...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Add appends inst. Ids must be unique and non-empty.
func (w *Watchlist) Add(inst *instrument.Instrument) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("instrument without id")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byID[inst.ID]; ok {
		return fmt.Errorf("duplicate instrument id %q", inst.ID)
	}
	w.byID[inst.ID] = inst
	w.instruments = append(w.instruments, inst)
	return nil
}

// Instruments returns the instruments in load order.
func (w *Watchlist) Instruments() []*instrument.Instrument {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*instrument.Instrument, len(w.instruments))
	copy(out, w.instruments)
	return out
}

func (w *Watchlist) Lookup(id string) (*instrument.Instrument, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inst, ok := w.byID[id]
	return inst, ok
}

func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.instruments)
}

// OnDirty registers fn to run on every MarkDirty. fn must not block.
func (w *Watchlist) OnDirty(fn func()) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Watchlist) MarkDirty() {
	w.dirty.Store(true)

	w.listenersMu.Lock()
	listeners := append([]func(){}, w.listeners...)
	w.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (w *Watchlist) IsDirty() bool { return w.dirty.Load() }

// KeepDirty sets the flag without notifying listeners, for callers that
// cleared it and failed to persist the data.
func (w *Watchlist) KeepDirty() { w.dirty.Store(true) }

// ClearDirty resets the flag and reports whether it was set.
func (w *Watchlist) ClearDirty() bool { return w.dirty.Swap(false) }
