package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/sweep"
)

const fromWidth = 30

func newRemoveCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts sweep.RemoveOptions
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Trash mail matching a filter",
		Example: `  labelsweep remove --older-than 30 --label "Low Priority"
  labelsweep remove --larger-than 10mb --dry-run
  labelsweep remove --from newsletter@ --older-than 7
  labelsweep remove --label Security --older-than 14 --read`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdRemove(cmd.Context(), opts, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Filter.OlderThan, "older-than", 0, "only mail older than this many days")
	f.StringArrayVar(&opts.Filter.Labels, "label", nil, "only mail with this label (repeatable)")
	f.StringVar(&opts.Filter.LargerThan, "larger-than", "", "only mail larger than a size such as 10mb or 500kb")
	f.StringVar(&opts.Filter.From, "from", "", "only mail from this address or domain")
	f.StringVar(&opts.Filter.Subject, "subject", "", "only mail whose subject contains this text")
	f.BoolVar(&opts.Filter.Unread, "unread", false, "only unread mail")
	f.BoolVar(&opts.Filter.Read, "read", false, "only read mail")
	f.IntVar(&opts.Limit, "limit", sweep.DefaultRemoveLimit, "maximum emails to remove")
	f.BoolVar(&opts.DryRun, "dry-run", false, "list matches without trashing them")
	cmd.MarkFlagsMutuallyExclusive("unread", "read")
	return cmd
}

var errNoFilter = errors.New("no filter given; pass at least one of --older-than, --label, --larger-than, --from, --subject, --unread or --read")

func cmdRemove(ctx context.Context, opts sweep.RemoveOptions, stdout, stderr io.Writer) int {
	if !constrains(opts.Filter) {
		return fail(stderr, "remove", errNoFilter)
	}
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "remove", err)
	}
	defer s.Close()
	return doRemove(ctx, sweep.NewService(s.provider, s.logger), opts, stdout, stderr)
}

func constrains(f rules.Filter) bool {
	return f.OlderThan > 0 || len(f.Labels) > 0 || f.LargerThan != "" || f.From != "" ||
		f.Subject != "" || f.SubjectRegex != "" || f.SnippetRegex != "" || f.Unread || f.Read
}

// doRemove runs the removal and lists every matched message.
func doRemove(ctx context.Context, svc *sweep.Service, opts sweep.RemoveOptions, stdout, stderr io.Writer) int {
	res, err := svc.Remove(ctx, opts)
	mode := color.RedString("DELETE")
	if opts.DryRun {
		mode = "DRY RUN (no deletion)"
	}
	fmt.Fprintf(stdout, "labelsweep remove\n  query: %s\n  limit: %d\n  mode:  %s\n", res.Query, opts.Limit, mode) //nolint:errcheck // best-effort stdout
	if err != nil {
		return fail(stderr, "remove", err)
	}
	if len(res.Matched) == 0 {
		fmt.Fprintln(stdout, "no emails match the criteria") //nolint:errcheck // best-effort stdout
		return 0
	}
	tag := color.MagentaString("trash")
	if opts.DryRun {
		tag = "[DRY]"
	}
	for _, e := range res.Matched {
		fmt.Fprintf(stdout, "  %s %s | %s\n", tag, truncate(e.From, fromWidth), truncate(e.Subject, subjectWidth-10)) //nolint:errcheck // best-effort stdout
	}
	if opts.DryRun {
		fmt.Fprintf(stdout, "would delete: %d emails\n", len(res.Matched)) //nolint:errcheck // best-effort stdout
		return 0
	}
	fmt.Fprintf(stdout, "deleted: %d emails", res.Trashed) //nolint:errcheck // best-effort stdout
	if res.Failed > 0 {
		fmt.Fprint(stdout, ", "+color.RedString("%d failed", res.Failed)) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintln(stdout) //nolint:errcheck // best-effort stdout
	return 0
}
