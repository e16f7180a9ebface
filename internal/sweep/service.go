// Package sweep trashes old or unwanted mail: retention cleanup by label age
// and filter-driven removal.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/telemetry"
)

const (
	// CleanupBatch caps messages fetched per retention rule.
	CleanupBatch = 100
	// DefaultRemoveLimit caps messages fetched by Remove.
	DefaultRemoveLimit = 100
)

// Service executes cleanup and removal against a mail provider.
type Service struct {
	Provider mail.Provider
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(provider mail.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Provider: provider, Logger: logger, Clock: time.Now}
}

// CleanupResult totals one cleanup pass. ByLabel only has entries for rules
// whose label resolved.
type CleanupResult struct {
	Deleted int            `json:"deleted"`
	ByLabel map[string]int `json:"by_label"`
	Failed  int            `json:"failed"`
}

// Cleanup applies each retention rule in order. Labels are resolved from a
// fresh listing by their stored name; rules whose label does not exist are
// skipped. Individual
// trash failures are counted and do not stop the rule. Fetch failures skip
// their rule and are returned joined alongside the partial result.
func (s *Service) Cleanup(ctx context.Context, cleanupRules []rules.CleanupRule) (CleanupResult, error) {
	res := CleanupResult{ByLabel: map[string]int{}}
	if len(cleanupRules) == 0 {
		return res, nil
	}

	labels, err := s.Provider.ListLabels(ctx)
	if err != nil {
		return res, fmt.Errorf("list labels: %w", err)
	}
	ids := make(map[string]string, len(labels))
	for _, l := range labels {
		ids[l.Name] = l.ProviderID
	}

	now := s.Clock()
	var errs []error
	for _, rule := range cleanupRules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := ids[mail.StoredLabelName(s.Provider, rule.Label)]; !ok {
			s.Logger.Debug("cleanup label not found", "label", rule.Label)
			continue
		}
		query := rules.CleanupQuery(rule, now)
		emails, err := s.Provider.GetEmails(ctx, mail.FetchOptions{MaxResults: CleanupBatch, Query: query})
		if err != nil {
			s.Logger.Warn("cleanup fetch failed", "label", rule.Label, "err", err)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", rule.Label, err))
			continue
		}

		trashed, failed := s.trashAll(ctx, emails)
		res.ByLabel[rule.Label] = trashed
		res.Deleted += trashed
		res.Failed += failed
		telemetry.RecordCleanup(ctx, rule.Label, trashed, failed)
		s.Logger.Info("cleanup", "label", rule.Label, "query", query, "trashed", trashed, "failed", failed)
	}
	return res, errors.Join(errs...)
}

func (s *Service) trashAll(ctx context.Context, emails []mail.EmailSummary) (trashed, failed int) {
	for _, e := range emails {
		if ctx.Err() != nil {
			return trashed, failed
		}
		if err := s.Provider.TrashEmail(ctx, e.ID); err != nil {
			s.Logger.Warn("trash failed", "id", e.ID, "err", err)
			failed++
			continue
		}
		trashed++
	}
	return trashed, failed
}

// RemoveOptions selects messages for Remove.
type RemoveOptions struct {
	Filter rules.Filter
	Limit  int
	DryRun bool
}

// RemoveResult reports what Remove matched and did.
type RemoveResult struct {
	Query   string              `json:"query"`
	Matched []mail.EmailSummary `json:"matched"`
	Trashed int                 `json:"trashed"`
	Failed  int                 `json:"failed"`
	DryRun  bool                `json:"dry_run"`
}

// Remove fetches messages matching opts.Filter and trashes them unless
// DryRun is set. Provider-side dimensions go into the query; regex
// dimensions are re-checked locally.
func (s *Service) Remove(ctx context.Context, opts RemoveOptions) (RemoveResult, error) {
	if err := opts.Filter.Compile(); err != nil {
		return RemoveResult{}, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultRemoveLimit
	}
	query := rules.BuildQuery(opts.Filter, s.Clock())
	res := RemoveResult{Query: query, DryRun: opts.DryRun}

	emails, err := s.Provider.GetEmails(ctx, mail.FetchOptions{MaxResults: limit, Query: query})
	if err != nil {
		return res, fmt.Errorf("fetch %q: %w", query, err)
	}
	for _, e := range emails {
		if rules.Matches(e, opts.Filter) {
			res.Matched = append(res.Matched, e)
		}
	}
	if opts.DryRun || len(res.Matched) == 0 {
		s.Logger.Info("remove", "query", query, "matched", len(res.Matched), "dry_run", opts.DryRun)
		return res, nil
	}

	res.Trashed, res.Failed = s.trashAll(ctx, res.Matched)
	s.Logger.Info("remove", "query", query, "trashed", res.Trashed, "failed", res.Failed)
	return res, ctx.Err()
}
