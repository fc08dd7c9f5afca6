package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/progress"
)

func newCatalogCmd(cfg func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local dataset catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>...",
		Short: "Import harvested dataset records (use - for stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogImport(cfg(), cmd.InOrStdin(), args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalogued datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogList(cmd.Context(), cfg(), cmd.OutOrStdout())
		},
	})
	return cmd
}

func runCatalogImport(cfg config.Config, stdin io.Reader, paths []string) error {
	store, err := catalog.OpenBolt(cfg.CatalogPath)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	defer store.Close()

	total := 0
	for _, p := range paths {
		r := stdin
		if p != "-" {
			f, err := os.Open(p)
			if err != nil {
				return exitf(ExitInvalidArgs, "open %s: %w", p, err)
			}
			defer f.Close()
			r = f
		}
		datasets, err := catalog.Decode(r)
		if err != nil {
			return exitf(ExitInvalidArgs, "%s: %w", p, err)
		}
		for _, d := range datasets {
			if err := store.Put(d); err != nil {
				return &exitError{code: ExitStorageError, err: err}
			}
		}
		total += len(datasets)
	}
	fmt.Fprintf(os.Stderr, "[gridfetch] Imported %d dataset(s) into %s\n", total, cfg.CatalogPath)
	return nil
}

func runCatalogList(ctx context.Context, cfg config.Config, out io.Writer) error {
	store, err := catalog.OpenBolt(cfg.CatalogPath)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	defer store.Close()

	ids, err := store.List()
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tFILES\tSIZE")
	for _, id := range ids {
		d, err := store.GetDataset(ctx, id)
		if err != nil {
			return &exitError{code: ExitStorageError, err: err}
		}
		var size int64
		for _, f := range d.Files {
			size += f.Size
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", id, len(d.Files), progress.FormatBytes(size))
	}
	return tw.Flush()
}
