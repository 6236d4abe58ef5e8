package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
	"quoteupdater/internal/quote"
	"quoteupdater/internal/watchlist"
)

type fixedFeed struct {
	value decimal.Decimal
	day   time.Time
}

func (f fixedFeed) ID() string      { return "FIXED" }
func (f fixedFeed) Name() string    { return "Fixed" }
func (f fixedFeed) Kind() feed.Kind { return feed.Batch }

func (f fixedFeed) UpdateLatestQuotes(_ context.Context, insts []*instrument.Instrument) (bool, []error) {
	var changed bool
	for _, inst := range insts {
		if inst.SetLatest(quote.Latest{Value: f.value, Source: "Fixed", Time: f.day}) {
			changed = true
		}
	}
	return changed, nil
}

func (f fixedFeed) UpdateHistoricalQuotes(_ context.Context, inst *instrument.Instrument) (bool, []error) {
	return inst.MergePrices([]quote.Price{{Date: f.day, Close: f.value}}), nil
}

func newTestAPI(t *testing.T) (*api, *watchlist.Watchlist) {
	t.Helper()
	wl, err := watchlist.New(
		&instrument.Instrument{ID: "A", Name: "Alpha", Feed: "FIXED"},
		&instrument.Instrument{ID: "B", Feed: "GONE"},
	)
	require.NoError(t, err)
	f := fixedFeed{value: decimal.RequireFromString("12.5"), day: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	return &api{
		watchlist:      wl,
		feeds:          feed.NewRegistry(f),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		refreshTimeout: time.Second,
	}, wl
}

func TestAPI_Instruments(t *testing.T) {
	t.Parallel()

	// Arrange
	a, _ := newTestAPI(t)
	h := a.routes()

	// Act
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/instruments", nil))

	// Assert
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Instruments []instrumentView `json:"instruments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Instruments, 2)
	require.Equal(t, "A", resp.Instruments[0].ID)
	require.Nil(t, resp.Instruments[0].Latest)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/instruments/missing", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Refresh(t *testing.T) {
	t.Parallel()

	a, wl := newTestAPI(t)
	h := a.routes()

	// Act
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/instruments/A/refresh", nil))

	// Assert: both targets ran and the change reached the watchlist
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 2, resp.Completed)
	require.EqualValues(t, 2, resp.Changes)
	require.NotNil(t, resp.Instrument.Latest)
	require.Equal(t, "12.5", resp.Instrument.Latest.Value.String())
	require.Equal(t, 1, resp.Instrument.PriceCount)
	require.True(t, wl.IsDirty())

	// Act: the detail view carries the series
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/instruments/A", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var detail instrumentView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	require.Len(t, detail.Prices, 1)

	// Assert: an instrument whose feed is gone refreshes nothing
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/instruments/B/refresh", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Zero(t, resp.Tasks)
}

func TestAPI_HealthAndVars(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI(t)
	h := a.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "update_runs_total")
}

type recordingStore struct {
	mu    sync.Mutex
	saves int
}

func (s *recordingStore) Save(context.Context, []*instrument.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *recordingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestSaver_SavesOnDirty(t *testing.T) {
	t.Parallel()

	// Arrange
	wl, err := watchlist.New(&instrument.Instrument{ID: "A"})
	require.NoError(t, err)
	st := &recordingStore{}
	sv := newSaver(st, wl, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sv.run(ctx)
	}()

	// Act
	wl.MarkDirty()

	// Assert
	require.Eventually(t, func() bool { return st.Saves() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, wl.IsDirty())

	// Act: shutting down with nothing dirty saves nothing more
	cancel()
	<-done
	require.Equal(t, 1, st.Saves())
}

type failingStore struct {
	mu    sync.Mutex
	fail  bool
	saves int
}

func (s *failingStore) Save(context.Context, []*instrument.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saves++
	return nil
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *failingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestSaver_FailedSaveStaysDirty(t *testing.T) {
	t.Parallel()

	// Arrange
	wl, err := watchlist.New(&instrument.Instrument{ID: "A"})
	require.NoError(t, err)
	st := &failingStore{fail: true}
	sv := newSaver(st, wl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	wl.MarkDirty()

	// Act
	sv.save(t.Context())

	// Assert: nothing saved and the changes are still pending
	require.Zero(t, st.Saves())
	require.True(t, wl.IsDirty())

	// Act: the final flush on shutdown picks them up
	st.setFail(false)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	sv.run(ctx)

	// Assert
	require.Equal(t, 1, st.Saves())
	require.False(t, wl.IsDirty())
}
