package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quoteupdater/internal/app"
	"quoteupdater/internal/config"
	"quoteupdater/internal/httpx"
	"quoteupdater/internal/logging"
	"quoteupdater/internal/store"
	"quoteupdater/internal/update"
	"quoteupdater/internal/watchlist"
)

func main() {
	// Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)

	targets, err := update.ParseTargets(cfg.Scheduler.Targets)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	wl, err := watchlist.Load(cfg.InstrumentsFile)
	if err != nil {
		log.Fatalf("instruments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	if err := st.Restore(ctx, wl.Instruments()); err != nil {
		log.Fatalf("restore: %v", err)
	}

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	httpClient := httpx.New(timeout)
	feeds := app.Feeds(cfg, httpClient, logger)

	// the saver outlives ctx so it can persist what in-flight tasks still write
	saverCtx, stopSaver := context.WithCancel(context.Background())
	defer stopSaver()
	sv := newSaver(st, wl, logger)
	saverDone := make(chan struct{})
	go func() {
		defer close(saverDone)
		sv.run(saverCtx)
	}()

	hosts := update.NewHostLocks()
	job := update.NewJob(feeds, wl, wl.Instruments(), targets,
		update.WithPoolSize(cfg.Scheduler.PoolSize),
		update.WithHostLocks(hosts),
		update.WithLogger(logger),
	).RepeatEvery(time.Duration(cfg.Scheduler.RepeatEverySec) * time.Second)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		err := job.Loop(ctx, &update.LogProgress{Logger: logger})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("update loop stopped", "error", err)
		}
	}()

	a := &api{watchlist: wl, feeds: feeds, hosts: hosts, logger: logger, refreshTimeout: 4 * timeout}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      4*timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr, "instruments", wl.Len())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// let cancelled runs finish their in-flight fetches, then save once more
	<-loopDone
	job.Wait()
	a.wait()
	stopSaver()
	<-saverDone
}
