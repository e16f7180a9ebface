package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/labeller"
)

const subjectWidth = 50

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Label new mail",
		Long: `Fetches recent inbox mail that has not been processed and does not
already carry a catalog label, classifies it and applies the labels.
Auto-trash rules run after labelling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdRun(cmd.Context(), maxResults, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", labeller.DefaultNewMaxResults, "maximum emails to fetch")
	return cmd
}

func newBackfillCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts labeller.BackfillOptions
	cmd := &cobra.Command{
		Use:   "backfill [query]",
		Short: "Label existing mail matching a query",
		Long: `Classifies mail matching query (default "` + labeller.DefaultBackfillQuery + `").
Messages that already carry a catalog label are skipped unless --force
is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Query = args[0]
			}
			if cmdBackfill(cmd.Context(), opts, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxResults, "max", labeller.DefaultBackfillMaxResults, "maximum emails to fetch")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "reclassify mail that is already labeled")
	return cmd
}

func newCleanupCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Trash labeled mail past its retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdCleanup(cmd.Context(), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdRun(ctx context.Context, maxResults int, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "run", err)
	}
	defer s.Close()
	e, err := s.openEngine(ctx, true)
	if err != nil {
		return fail(stderr, "run", err)
	}
	return doRun(ctx, e, maxResults, stdout, stderr)
}

func cmdBackfill(ctx context.Context, opts labeller.BackfillOptions, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "backfill", err)
	}
	defer s.Close()
	e, err := s.openEngine(ctx, true)
	if err != nil {
		return fail(stderr, "backfill", err)
	}
	return doBackfill(ctx, e, opts, stdout, stderr)
}

func cmdCleanup(ctx context.Context, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "cleanup", err)
	}
	defer s.Close()
	e, err := s.openEngine(ctx, false)
	if err != nil {
		return fail(stderr, "cleanup", err)
	}
	return doCleanup(ctx, e, stdout, stderr)
}

// doRun ensures the catalog exists and labels new mail.
func doRun(ctx context.Context, e *labeller.Engine, maxResults int, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "labelsweep run %s\n", e.Clock().UTC().Format(time.RFC3339)) //nolint:errcheck // best-effort stdout
	labels, err := e.EnsureLabels(ctx)
	if err != nil {
		return fail(stderr, "run", err)
	}
	fmt.Fprintf(stdout, "%d labels ready\n", len(labels)) //nolint:errcheck // best-effort stdout

	printer := newProgressPrinter(stdout)
	e.Observer = printer
	res, err := e.ProcessNewEmails(ctx, maxResults)
	printer.summary(res)
	if err != nil {
		return fail(stderr, "run", err)
	}
	return 0
}

// doBackfill labels existing mail and reports labeled and skipped counts.
func doBackfill(ctx context.Context, e *labeller.Engine, opts labeller.BackfillOptions, stdout, stderr io.Writer) int {
	query := opts.Query
	if query == "" {
		query = labeller.DefaultBackfillQuery
	}
	fmt.Fprintf(stdout, "labelsweep backfill\n  query: %s\n  max:   %d\n  force: %t\n", //nolint:errcheck // best-effort stdout
		query, opts.MaxResults, opts.Force)
	labels, err := e.EnsureLabels(ctx)
	if err != nil {
		return fail(stderr, "backfill", err)
	}
	fmt.Fprintf(stdout, "%d labels ready\n", len(labels)) //nolint:errcheck // best-effort stdout

	printer := newProgressPrinter(stdout)
	e.Observer = printer
	res, err := e.Backfill(ctx, opts)
	printer.summary(res)
	if err != nil {
		return fail(stderr, "backfill", err)
	}
	return 0
}

// doCleanup applies the retention rules and prints per-label counts.
func doCleanup(ctx context.Context, e *labeller.Engine, stdout, stderr io.Writer) int {
	res, err := e.Cleanup(ctx)
	labels := make([]string, 0, len(res.ByLabel))
	for name := range res.ByLabel {
		labels = append(labels, name)
	}
	sort.Strings(labels)
	for _, name := range labels {
		fmt.Fprintf(stdout, "  %-30s %s\n", name, color.MagentaString("%d trashed", res.ByLabel[name])) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintf(stdout, "cleanup done: %d trashed", res.Deleted) //nolint:errcheck // best-effort stdout
	if res.Failed > 0 {
		fmt.Fprint(stdout, ", "+color.RedString("%d failed", res.Failed)) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintln(stdout) //nolint:errcheck // best-effort stdout
	if err != nil {
		return fail(stderr, "cleanup", err)
	}
	return 0
}

// progressPrinter renders engine progress as one coloured line per event
// and counts outcomes.
type progressPrinter struct {
	w      io.Writer
	counts map[labeller.Status]int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, counts: map[labeller.Status]int{}}
}

func (p *progressPrinter) Observe(pr labeller.Progress) {
	p.counts[pr.Status]++
	prefix := fmt.Sprintf("[%d/%d]", pr.Current, pr.Total)
	subject := truncate(pr.Email.Subject, subjectWidth)
	var line string
	switch pr.Status {
	case labeller.StatusLabeled:
		line = fmt.Sprintf("%s %s [%s] %s", prefix, color.GreenString("labeled"), strings.Join(pr.Labels, ", "), subject)
	case labeller.StatusSkipped:
		line = fmt.Sprintf("%s %s %s", prefix, color.YellowString("skipped"), subject)
	case labeller.StatusTrashed:
		line = fmt.Sprintf("%s %s %s", prefix, color.MagentaString("trashed"), subject)
	case labeller.StatusError:
		line = fmt.Sprintf("%s %s %s: %v", prefix, color.RedString("error"), subject, pr.Err)
	default:
		return
	}
	fmt.Fprintln(p.w, line) //nolint:errcheck // best-effort stdout
}

func (p *progressPrinter) summary(res labeller.ProcessResult) {
	fmt.Fprintf(p.w, "done: %d labeled, %d skipped, %d trashed, %d errors\n", //nolint:errcheck // best-effort stdout
		res.Processed, p.counts[labeller.StatusSkipped], p.counts[labeller.StatusTrashed], p.counts[labeller.StatusError])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
