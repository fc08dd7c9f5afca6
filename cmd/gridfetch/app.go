package main

import (
	"context"
	"errors"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/scheduler"
	"github.com/ligustah/gridfetch/internal/state"
)

var log = logging.Logger("gridfetch")

// app holds the long-lived collaborators of a fetch or serve run.
type app struct {
	cfg       config.Config
	catalog   *catalog.BoltStore
	cache     *catalog.Cache
	transfers *scheduler.Scheduler
	downloads *download.Registry
	store     *state.Store
	autosaver *state.Autosaver
}

// openApp opens the catalog, restores persisted state and starts
// autosaving it.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	cat, err := catalog.OpenBolt(cfg.CatalogPath)
	if err != nil {
		return nil, &exitError{code: ExitStorageError, err: err}
	}

	a := &app{
		cfg:       cfg,
		catalog:   cat,
		cache:     catalog.NewCache(cat),
		transfers: scheduler.New(cfg.SchedulerOptions()),
	}
	a.downloads = download.NewRegistry(cfg.Services(a.cache, a.transfers))

	if cfg.StateURL != "" {
		if err := a.openState(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openState(ctx context.Context) error {
	store, err := state.Open(ctx, a.cfg.StateURL)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	a.store = store

	snap, ok, err := store.Load(ctx)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	if ok {
		if err := a.downloads.Restore(ctx, snap); err != nil {
			return &exitError{code: ExitStorageError, err: err}
		}
		log.Infow("state restored", "datasets", len(snap.Datasets), "saved_at", snap.SavedAt)
	}

	a.autosaver = state.NewAutosaver(store, a.downloads.Snapshot, a.cfg.StateInterval)
	a.autosaver.Start(context.WithoutCancel(ctx))
	return nil
}

// close pauses running transfers, waits for them to wind down, saves the
// final state and releases every resource.
func (a *app) close(ctx context.Context) error {
	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var errs []error
	if dropped, err := a.transfers.Shutdown(shutdown); err != nil {
		errs = append(errs, err)
	} else if dropped > 0 {
		log.Infow("queued transfers dropped", "count", dropped)
	}
	if a.autosaver != nil {
		errs = append(errs, a.autosaver.Stop())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.catalog.Close())
	return errors.Join(errs...)
}
