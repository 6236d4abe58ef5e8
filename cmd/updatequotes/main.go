package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"quoteupdater/internal/app"
	"quoteupdater/internal/config"
	"quoteupdater/internal/httpx"
	"quoteupdater/internal/instrument"
	"quoteupdater/internal/logging"
	"quoteupdater/internal/store"
	"quoteupdater/internal/update"
	"quoteupdater/internal/watchlist"
)

type summary struct {
	Status      string        `json:"status"`
	Targets     string        `json:"targets"`
	Instruments int           `json:"instruments"`
	Tasks       int           `json:"tasks"`
	Completed   int           `json:"completed"`
	Changes     int64         `json:"changes"`
	Saved       bool          `json:"saved"`
	PrevSave    *time.Time    `json:"previous_save,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

func main() {
	var configPath, instrumentsPath, targetsCSV, instrumentID string
	var timeout time.Duration

	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.StringVar(&instrumentsPath, "instruments", "", "instruments file (defaults to config instruments_file)")
	flag.StringVar(&targetsCSV, "targets", "", "comma-separated targets: latest,historic (defaults to config)")
	flag.StringVar(&instrumentID, "instrument", "", "update only this instrument id")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if instrumentsPath != "" {
		cfg.InstrumentsFile = instrumentsPath
	}
	if targetsCSV != "" {
		cfg.Scheduler.Targets = strings.Split(targetsCSV, ",")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	targets, err := update.ParseTargets(cfg.Scheduler.Targets)
	if err != nil {
		log.Fatalf("targets: %v", err)
	}
	wl, err := watchlist.Load(cfg.InstrumentsFile)
	if err != nil {
		log.Fatalf("instruments: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	if err := st.Restore(ctx, wl.Instruments()); err != nil {
		log.Fatalf("restore: %v", err)
	}
	prevSave, hasPrev, err := st.SavedAt(ctx)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	insts := wl.Instruments()
	if instrumentID != "" {
		inst, ok := wl.Lookup(instrumentID)
		if !ok {
			log.Fatalf("unknown instrument %q", instrumentID)
		}
		insts = []*instrument.Instrument{inst}
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	feeds := app.Feeds(cfg, httpClient, logger)
	job := update.NewJob(feeds, wl, insts, targets,
		update.WithPoolSize(cfg.Scheduler.PoolSize),
		update.WithLogger(logger),
	)

	start := time.Now()
	res, err := job.Run(ctx, &update.LogProgress{Logger: logger})
	if err != nil {
		log.Fatalf("update: %v", err)
	}
	// a timed-out run leaves fetches in flight; persist what they write too
	job.Wait()

	out := summary{
		Status:      res.Status.String(),
		Targets:     targets.String(),
		Instruments: len(insts),
		Tasks:       res.Tasks,
		Completed:   res.Completed,
		Changes:     res.Changes,
		Duration:    time.Since(start),
	}
	if hasPrev {
		out.PrevSave = &prevSave
	}
	// a cancelled run skips its trailing notification, so look at the count too
	if wl.ClearDirty() || res.Changes > 0 {
		saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := st.Save(saveCtx, wl.Instruments())
		cancelSave()
		if err != nil {
			log.Fatalf("save: %v", err)
		}
		out.Saved = true
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
