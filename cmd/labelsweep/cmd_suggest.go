package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/classify"
	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/runtime"
)

func newSuggestCmd(stdout, stderr io.Writer) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Propose a label catalog from recent inbox mail",
		Long: `Samples recent inbox mail and asks the model for 5-8 labels, cleanup
rules and a classification prompt. The result is printed as TOML ready
to paste into labelsweep.toml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdSuggest(cmd.Context(), maxResults, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", 200, "number of emails to sample")
	return cmd
}

func newPreviewCmd(stdout, stderr io.Writer) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "preview [query]",
		Short: "Classify mail without applying labels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := rules.DefaultQuery
			if len(args) == 1 {
				query = args[0]
			}
			if cmdPreview(cmd.Context(), query, maxResults, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", 20, "number of emails to classify")
	return cmd
}

func cmdSuggest(ctx context.Context, maxResults int, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "suggest", err)
	}
	defer s.Close()
	_, backend, err := runtime.NewClassifier(s.cfg, nil, s.logger)
	if err != nil {
		return fail(stderr, "suggest", err)
	}
	return doSuggest(ctx, s.provider, backend, maxResults, stdout, stderr)
}

func cmdPreview(ctx context.Context, query string, maxResults int, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "preview", err)
	}
	defer s.Close()
	classifier, _, err := runtime.NewClassifier(s.cfg, s.imported(ctx).LabelRules, s.logger)
	if err != nil {
		return fail(stderr, "preview", err)
	}
	batch := classify.Batch{Classifier: classifier, Logger: s.logger}
	return doPreview(ctx, s.provider, batch, s.cfg, query, maxResults, stdout, stderr)
}

// doSuggest samples inbox mail and prints the suggestion as TOML on stdout.
// Progress goes to stderr so stdout can be redirected into a file.
func doSuggest(ctx context.Context, p mail.Provider, suggester mail.LabelSuggester, maxResults int, stdout, stderr io.Writer) int {
	fmt.Fprintf(stderr, "fetching up to %d inbox emails...\n", maxResults) //nolint:errcheck // best-effort stderr
	emails, err := p.GetEmails(ctx, mail.FetchOptions{MaxResults: maxResults, Query: rules.DefaultQuery})
	if err != nil {
		return fail(stderr, "suggest", err)
	}
	if len(emails) == 0 {
		return fail(stderr, "suggest", errors.New("no inbox mail to sample"))
	}
	fmt.Fprintf(stderr, "analyzing %d emails...\n", len(emails)) //nolint:errcheck // best-effort stderr
	suggestion, err := suggester.SuggestLabels(ctx, emails)
	if err != nil {
		return fail(stderr, "suggest", err)
	}
	if err := config.RenderSuggestion(stdout, suggestion); err != nil {
		return fail(stderr, "suggest", err)
	}
	return 0
}

// doPreview classifies matching mail and prints the labels each would get.
func doPreview(ctx context.Context, p mail.Provider, bc mail.BatchClassifier, cfg *config.Config, query string, maxResults int, stdout, stderr io.Writer) int {
	emails, err := p.GetEmails(ctx, mail.FetchOptions{MaxResults: maxResults, Query: query})
	if err != nil {
		return fail(stderr, "preview", err)
	}
	results, err := bc.ClassifyBatch(ctx, emails, cfg.Labels, cfg.ClassificationPrompt)
	if err != nil {
		return fail(stderr, "preview", err)
	}
	for _, e := range emails {
		labels := "(none)"
		if res := results[e.ID]; len(res.Labels) > 0 {
			labels = strings.Join(res.Labels, ", ")
		}
		fmt.Fprintf(stdout, "  %-30s %s\n", truncate(labels, 30), truncate(e.Subject, subjectWidth)) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintf(stdout, "previewed %d emails\n", len(emails)) //nolint:errcheck // best-effort stdout
	return 0
}
