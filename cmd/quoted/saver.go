package main

import (
	"context"
	"log/slog"
	"time"

	"quoteupdater/internal/instrument"
	"quoteupdater/internal/watchlist"
)

type quoteStore interface {
	Save(ctx context.Context, insts []*instrument.Instrument) error
}

// saver persists the watchlist whenever it is marked dirty. Notifications
// arriving while a save is in progress collapse into one follow-up save.
type saver struct {
	store     quoteStore
	watchlist *watchlist.Watchlist
	logger    *slog.Logger
	kick      chan struct{}
}

func newSaver(store quoteStore, wl *watchlist.Watchlist, logger *slog.Logger) *saver {
	s := &saver{store: store, watchlist: wl, logger: logger, kick: make(chan struct{}, 1)}
	wl.OnDirty(s.notify)
	return s
}

func (s *saver) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run saves on every notification until ctx is done, then flushes once more.
// A failed save leaves the watchlist dirty without triggering a retry loop.
func (s *saver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.save(flushCtx)
			cancel()
			return
		case <-s.kick:
			s.save(ctx)
		}
	}
}

func (s *saver) save(ctx context.Context) {
	if !s.watchlist.ClearDirty() {
		return
	}
	start := time.Now()
	insts := s.watchlist.Instruments()
	if err := s.store.Save(ctx, insts); err != nil {
		// retried on the next notification or the final flush
		s.watchlist.KeepDirty()
		s.logger.Error("save quotes failed", "error", err)
		return
	}
	s.logger.Debug("quotes saved", "instruments", len(insts), "duration", time.Since(start))
}
