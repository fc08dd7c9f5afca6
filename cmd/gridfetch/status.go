package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/progress"
	"github.com/ligustah/gridfetch/internal/state"
)

func newStatusCmd(cfg func() config.Config) *cobra.Command {
	var showFiles bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted download state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cfg(), cmd.OutOrStdout(), showFiles)
		},
	}
	cmd.Flags().BoolVar(&showFiles, "files", false, "list every file")
	return cmd
}

func runStatus(ctx context.Context, cfg config.Config, out io.Writer, showFiles bool) error {
	if cfg.StateURL == "" {
		return exitf(ExitInvalidArgs, "no state location configured; set --state or state_url")
	}
	store, err := state.Open(ctx, cfg.StateURL)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	defer store.Close()

	snap, ok, err := store.Load(ctx)
	if err != nil {
		return &exitError{code: ExitStorageError, err: err}
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "[gridfetch] No saved state")
		return nil
	}
	printSnapshot(out, snap, showFiles)
	return nil
}

func printSnapshot(out io.Writer, snap download.RegistrySnapshot, showFiles bool) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSTATUS\tPROGRESS\tPATH")
	for _, d := range snap.Datasets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.InstanceID, d.Status, ratio(d.CurrentSize, d.TotalSize), d.Path)
		if !showFiles {
			continue
		}
		for _, f := range d.Files {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.InstanceID, f.Status, ratio(f.CurrentSize, f.TotalSize), f.Error)
		}
	}
	tw.Flush()
	if !snap.SavedAt.IsZero() {
		fmt.Fprintf(out, "saved %s\n", snap.SavedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func ratio(cur, tot int64) string {
	if tot <= 0 {
		return progress.FormatBytes(cur)
	}
	return fmt.Sprintf("%s / %s (%.1f%%)", progress.FormatBytes(cur), progress.FormatBytes(tot), float64(cur)/float64(tot)*100)
}
