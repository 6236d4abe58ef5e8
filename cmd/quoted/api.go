package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quoteupdater/internal/instrument"
	"quoteupdater/internal/quote"
	"quoteupdater/internal/telemetry"
	"quoteupdater/internal/update"
	"quoteupdater/internal/watchlist"
)

type api struct {
	watchlist      *watchlist.Watchlist
	feeds          update.Resolver
	hosts          *update.HostLocks
	logger         *slog.Logger
	refreshTimeout time.Duration

	// refreshes that timed out but still have tasks in flight
	pending sync.WaitGroup
}

type instrumentView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Symbol     string        `json:"symbol,omitempty"`
	Feed       string        `json:"feed"`
	LatestFeed string        `json:"latest_feed"`
	Latest     *quote.Latest `json:"latest,omitempty"`
	PriceCount int           `json:"price_count"`
	Prices     []quote.Price `json:"prices,omitempty"`
}

type refreshResponse struct {
	Status     string         `json:"status"`
	Tasks      int            `json:"tasks"`
	Completed  int            `json:"completed"`
	Changes    int64          `json:"changes"`
	Instrument instrumentView `json:"instrument"`
}

type apiError struct {
	Error string `json:"error"`
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverPanic(a.logger))
	r.Use(limitBody)
	r.Use(telemetry.RequestCounter)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/debug/vars", telemetry.Handler())
	r.Route("/api/instruments", func(r chi.Router) {
		r.Get("/", a.handleListInstruments)
		r.Get("/{id}", a.handleGetInstrument)
		r.Post("/{id}/refresh", a.handleRefresh)
	})
	return r
}

func (a *api) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	insts := a.watchlist.Instruments()
	out := make([]instrumentView, 0, len(insts))
	for _, inst := range insts {
		out = append(out, view(inst, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func (a *api) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.watchlist.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	}
	writeJSON(w, http.StatusOK, view(inst, true))
}

// handleRefresh runs a one-off job over all targets of one instrument and
// answers once it finished. It shares host slots with the background loop.
func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.watchlist.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.refreshTimeout)
	defer cancel()
	job := update.NewSingleJob(a.feeds, a.watchlist, inst,
		update.WithHostLocks(a.hosts),
		update.WithLogger(a.logger.With("instrument", inst.ID)),
	)
	res, err := job.Run(ctx, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if res.Status == update.StatusCancelled {
		status = http.StatusGatewayTimeout
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			job.Wait()
		}()
	}
	writeJSON(w, status, refreshResponse{
		Status:     res.Status.String(),
		Tasks:      res.Tasks,
		Completed:  res.Completed,
		Changes:    res.Changes,
		Instrument: view(inst, false),
	})
}

// wait blocks until timed-out refreshes finished their in-flight tasks.
func (a *api) wait() { a.pending.Wait() }

func view(inst *instrument.Instrument, withPrices bool) instrumentView {
	v := instrumentView{
		ID:         inst.ID,
		Name:       inst.Name,
		Symbol:     inst.Symbol,
		Feed:       inst.Feed,
		LatestFeed: inst.LatestFeedID(),
	}
	if q, ok := inst.Latest(); ok {
		v.Latest = &q
	}
	prices := inst.Prices()
	v.PriceCount = len(prices)
	if withPrices {
		v.Prices = prices
	}
	return v
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, apiError{Error: message})
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "panic", rec, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
