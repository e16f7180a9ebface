package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/runtime"
	"github.com/joshsymonds/labelsweep/internal/state"
)

func newStateCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the processed-mail state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show processed count and last run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if cmdState(cmd.Context(), doStateShow, stdout, stderr) != 0 {
					return errExit
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget which mail has been processed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if cmdState(cmd.Context(), doStateClear, stdout, stderr) != 0 {
					return errExit
				}
				return nil
			},
		},
	)
	return cmd
}

func cmdState(ctx context.Context, do func(context.Context, state.Store, io.Writer, io.Writer) int, stdout, stderr io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail(stderr, "state", err)
	}
	store, closeStore, err := runtime.OpenStore(cfg)
	if err != nil {
		return fail(stderr, "state", err)
	}
	defer closeStore() //nolint:errcheck // read-mostly
	fmt.Fprintf(stdout, "state: %s\n", cfg.State.Path) //nolint:errcheck // best-effort stdout
	return do(ctx, store, stdout, stderr)
}

func doStateShow(ctx context.Context, store state.Store, stdout, stderr io.Writer) int {
	var stats state.Stats
	if in, ok := store.(state.Inspector); ok {
		s, err := in.Stats(ctx)
		if err != nil {
			return fail(stderr, "state show", err)
		}
		stats = s
	} else {
		last, err := store.LastRun(ctx)
		if err != nil {
			return fail(stderr, "state show", err)
		}
		stats.LastRun = last
		stats.Processed = -1
	}
	if stats.Processed >= 0 {
		fmt.Fprintf(stdout, "processed: %d\n", stats.Processed) //nolint:errcheck // best-effort stdout
	}
	last := "never"
	if !stats.LastRun.IsZero() {
		last = stats.LastRun.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(stdout, "last run:  %s\n", last) //nolint:errcheck // best-effort stdout
	return 0
}

func doStateClear(ctx context.Context, store state.Store, stdout, stderr io.Writer) int {
	if err := store.ClearProcessed(ctx); err != nil {
		return fail(stderr, "state clear", err)
	}
	fmt.Fprintln(stdout, "processed ids cleared") //nolint:errcheck // best-effort stdout
	return 0
}
