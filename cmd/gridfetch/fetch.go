package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/observer"
	"github.com/ligustah/gridfetch/internal/progress"
)

func newFetchCmd(cfg func() config.Config) *cobra.Command {
	var (
		files        []string
		showProgress bool
		retry        bool
		interval     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <dataset-id>...",
		Short: "Download datasets and wait for them to finish",
		Long: `Fetch enqueues the given datasets from the catalog, downloads them and exits
once every selected file has settled.

With --files only the named files are downloaded; the rest are skipped.
Interrupted runs resume from the persisted state on the next invocation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), cfg(), args, fetchOptions{files: files, progress: showProgress, retry: retry, interval: interval})
		},
	}
	cmd.Flags().StringSliceVar(&files, "files", nil, "file instance ids to select (default: all files)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show progress output")
	cmd.Flags().BoolVar(&retry, "retry", false, "restart files that failed in an earlier run")
	cmd.Flags().DurationVar(&interval, "progress-interval", 5*time.Second, "progress update interval")
	return cmd
}

type fetchOptions struct {
	files    []string
	progress bool
	retry    bool
	interval time.Duration
}

func runFetch(ctx context.Context, cfg config.Config, ids []string, opts fetchOptions) (err error) {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx); cerr != nil && err == nil {
			err = &exitError{code: ExitStorageError, err: cerr}
		}
	}()

	events := observer.NewChannel[*download.Dataset](256)
	defer events.Close()
	a.downloads.Observe(events)

	if opts.progress {
		reporter := progress.NewReporter(a.downloads, progress.Options{Output: os.Stderr, UpdateInterval: opts.interval})
		a.downloads.Observe(reporter)
		reporter.Start()
		defer reporter.Stop()
	}

	sel := newSelection(opts.files)
	var datasets []*download.Dataset
	for _, id := range ids {
		d, err := a.downloads.Enqueue(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return exitf(ExitInvalidArgs, "dataset %s is not in the catalog; run 'gridfetch catalog import' first", id)
			}
			return &exitError{code: ExitStorageError, err: err}
		}
		if opts.retry {
			if err := resetFailed(d, sel); err != nil {
				return &exitError{code: ExitStorageError, err: err}
			}
		}
		if opts.files != nil {
			err = d.Select(ctx, opts.files)
		} else {
			err = d.StartAll(ctx)
		}
		if errors.Is(err, download.ErrInvalidArgument) {
			return &exitError{code: ExitInvalidArgs, err: err}
		}
		if err != nil {
			return &exitError{code: ExitGeneralError, err: err}
		}
		datasets = append(datasets, d)
	}

	if err := wait(ctx, events, datasets, sel); err != nil {
		for _, d := range datasets {
			d.PauseAll()
		}
		fmt.Fprintln(os.Stderr, "[gridfetch] Interrupted, progress saved for resume")
		return &exitError{code: ExitGeneralError, err: err}
	}
	return outcome(datasets, sel)
}

// wait blocks until every dataset has settled or ctx ends. Events only
// trigger a re-check; the ticker covers notifications dropped by a full
// buffer.
func wait(ctx context.Context, events *observer.Channel[*download.Dataset], datasets []*download.Dataset, sel selection) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !allSettled(datasets, sel) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events.Events():
		case <-ticker.C:
		}
	}
	return nil
}

// resetFailed returns failed files of d to CREATED so they are started
// again.
func resetFailed(d *download.Dataset, sel selection) error {
	for _, f := range d.Files() {
		switch f.Status() {
		case download.StatusFailed, download.StatusChecksumFailed:
			if !sel.has(f) {
				continue
			}
			if err := f.Reset(); err != nil {
				return err
			}
		}
	}
	return nil
}

// selection is the set of file ids given with --files. A nil selection
// holds every file.
type selection map[string]bool

func newSelection(ids []string) selection {
	if ids == nil {
		return nil
	}
	s := make(selection, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s selection) has(f *download.File) bool {
	return s == nil || s[f.ID()]
}

// settled reports whether no selected file of d is waiting for or in a
// transfer.
func settled(d *download.Dataset, sel selection) bool {
	for _, f := range d.Files() {
		if !sel.has(f) {
			continue
		}
		switch f.Status() {
		case download.StatusCreated, download.StatusReady, download.StatusDownloading, download.StatusPaused:
			return false
		}
	}
	return true
}

func allSettled(datasets []*download.Dataset, sel selection) bool {
	for _, d := range datasets {
		if !settled(d, sel) {
			return false
		}
	}
	return true
}

// outcome maps the final file states to an exit code. Checksum failures
// take precedence over authorization failures, which take precedence over
// transfer failures.
func outcome(datasets []*download.Dataset, sel selection) error {
	var checksum, unauthorized, failed []string
	for _, d := range datasets {
		for _, f := range d.Files() {
			if !sel.has(f) {
				continue
			}
			name := d.ID() + "/" + f.ID()
			switch f.Status() {
			case download.StatusChecksumFailed:
				checksum = append(checksum, name)
			case download.StatusUnauthorized:
				unauthorized = append(unauthorized, name)
			case download.StatusFailed:
				failed = append(failed, name)
				if err := f.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "[gridfetch] %s: %v\n", name, err)
				}
			}
		}
	}
	switch {
	case len(checksum) > 0:
		return exitf(ExitValidationFailed, "checksum mismatch: %v", checksum)
	case len(unauthorized) > 0:
		return exitf(ExitUnauthorized, "not authorized, log in with --token or --username: %v", unauthorized)
	case len(failed) > 0:
		return exitf(ExitSourceNotAccess, "%d file(s) failed to download", len(failed))
	}
	for _, d := range datasets {
		fmt.Fprintf(os.Stderr, "[gridfetch] %s: %s in %s\n", d.ID(), progress.FormatBytes(d.CurrentSize()), d.Path())
	}
	return nil
}
