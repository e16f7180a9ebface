package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/audit"
)

const hoursPerDay = 24

type auditFlags struct {
	days       int
	topN       int
	maxResults int
}

func (f auditFlags) options() audit.Options {
	return audit.Options{
		Window:     time.Duration(f.days) * hoursPerDay * time.Hour,
		TopN:       f.topN,
		MaxResults: f.maxResults,
	}
}

func (f *auditFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.days, "days", 60, "lookback window in days")
	cmd.Flags().IntVar(&f.maxResults, "max", 500, "maximum emails to replay rules against")
}

func newAuditCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		flags   auditFlags
		jsonOut string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Replay label and auto-trash rules against recent mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdAudit(cmd.Context(), flags.options(), jsonOut, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.topN, "top", 30, "number of top sender domains to display")
	cmd.Flags().StringVar(&jsonOut, "json", "", "also write the JSON report to this relative path")
	return cmd
}

func newLintCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		flags  auditFlags
		failOn string
	)
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check rules for problems, exiting non-zero on selected findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdLint(cmd.Context(), flags.options(), audit.ParseFailOn(failOn), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&failOn, "fail-on", "dead,missing-label,conflict",
		"comma separated findings that fail the run (dead, missing-label, cleanup-label, conflict)")
	return cmd
}

func (s *session) ruleSet(ctx context.Context) audit.RuleSet {
	conv := s.imported(ctx)
	return audit.RuleSet{
		Catalog:      s.cfg.Labels,
		LabelRules:   append(slices.Clone(s.cfg.LabelRules), conv.LabelRules...),
		TrashRules:   append(slices.Clone(s.cfg.AutoTrashRules), conv.TrashRules...),
		CleanupRules: s.cfg.CleanupRules,
	}
}

func cmdAudit(ctx context.Context, opts audit.Options, jsonOut string, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "audit", err)
	}
	defer s.Close()
	return doAudit(ctx, audit.NewService(s.provider, s.logger), s.ruleSet(ctx), opts, jsonOut, stdout, stderr)
}

func cmdLint(ctx context.Context, opts audit.Options, failOn []string, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "lint", err)
	}
	defer s.Close()
	return doLint(ctx, audit.NewService(s.provider, s.logger), s.ruleSet(ctx), opts, failOn, stdout, stderr)
}

func doAudit(ctx context.Context, svc *audit.Service, set audit.RuleSet, opts audit.Options, jsonOut string, stdout, stderr io.Writer) int {
	rep, err := svc.Run(ctx, set, opts)
	if err != nil {
		return fail(stderr, "audit", err)
	}
	if err := audit.PrintHuman(rep, stdout); err != nil {
		return fail(stderr, "audit", err)
	}
	if jsonOut == "" {
		return 0
	}
	if err := audit.WriteJSON(rep, jsonOut); err != nil {
		return fail(stderr, "audit", err)
	}
	return 0
}

func doLint(ctx context.Context, svc *audit.Service, set audit.RuleSet, opts audit.Options, failOn []string, stdout, stderr io.Writer) int {
	lr, err := svc.RunLint(ctx, set, opts)
	if err != nil {
		return fail(stderr, "lint", err)
	}
	fmt.Fprint(stdout, lr.HumanSummary()) //nolint:errcheck // best-effort stdout
	if lr.ShouldFail(failOn) {
		fmt.Fprintln(stderr, color.RedString("labelsweep lint: findings matched --fail-on")) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}
