package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/gridfetch/internal/api"
	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/progress"
	"github.com/ligustah/gridfetch/internal/scheduler"
	"github.com/ligustah/gridfetch/internal/search"
)

func newServeCmd(cfg func() config.Config) *cobra.Command {
	var (
		listen         string
		harvestWorkers int
		showProgress   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download daemon with its HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if listen != "" {
				c.Listen = listen
			}
			return runServe(cmd.Context(), c, harvestWorkers, showProgress)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address of the control API (default from config)")
	cmd.Flags().IntVar(&harvestWorkers, "harvest-workers", 2, "number of concurrent harvesting jobs")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print aggregate progress to stderr")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, harvestWorkers int, showProgress bool) (err error) {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx); cerr != nil && err == nil {
			err = &exitError{code: ExitStorageError, err: cerr}
		}
	}()

	harvests := scheduler.New(scheduler.Options{Workers: harvestWorkers})
	defer harvests.Shutdown(context.WithoutCancel(ctx))

	if showProgress {
		reporter := progress.NewReporter(a.downloads, progress.Options{Output: os.Stderr, UpdateInterval: 10 * time.Second})
		a.downloads.Observe(reporter)
		reporter.Start()
		defer reporter.Stop()
	}

	srv := &http.Server{
		Handler: (&api.Server{
			Downloads: a.downloads,
			Searches:  search.NewRegistry(),
			Harvests:  harvests,
			Harvester: search.CatalogHarvester{Catalog: a.cache},
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return exitf(ExitGeneralError, "listen on %s: %w", cfg.Listen, err)
	}
	fmt.Fprintf(os.Stderr, "[gridfetch] Serving control API on http://%s\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return exitf(ExitGeneralError, "serve: %w", err)
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "[gridfetch] Received interrupt, shutting down...")
	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("api shutdown", "error", err)
	}
	return nil
}
