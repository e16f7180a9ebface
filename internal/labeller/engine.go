// Package labeller orchestrates classification, labelling and retention of
// inbox mail. An Engine is meant for one caller at a time.
package labeller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/state"
	"github.com/joshsymonds/labelsweep/internal/sweep"
	"github.com/joshsymonds/labelsweep/internal/telemetry"
)

const (
	DefaultNewMaxResults      = 50
	DefaultBackfillMaxResults = 250
	DefaultBackfillQuery      = "in:inbox -label:SENT"

	throttleEvery = 10
	throttleDelay = 500 * time.Millisecond
)

// Config is the slice of configuration the engine acts on.
type Config struct {
	Labels               []mail.LabelDefinition
	CleanupRules         []rules.CleanupRule
	AutoTrashRules       []rules.Filter
	ClassificationPrompt string
}

// Result records the labels applied to one email.
type Result struct {
	EmailID string   `json:"email_id"`
	Labels  []string `json:"labels"`
}

// ProcessResult summarises one pipeline run. Processed counts only emails
// that received at least one label.
type ProcessResult struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// CleanupResult totals a retention cleanup pass.
type CleanupResult = sweep.CleanupResult

// BackfillOptions controls Backfill. Zero values take the defaults.
type BackfillOptions struct {
	MaxResults int
	Query      string
	Force      bool
}

// Engine runs the labelling pipelines.
type Engine struct {
	Provider   mail.Provider
	Classifier mail.Classifier
	Store      state.Store
	Config     Config
	Logger     *slog.Logger
	Observer   Observer
	Clock      func() time.Time
	// Sleep pauses between throttled batches; it must honour ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	labels labelCache
}

// New constructs an Engine with sane defaults.
func New(
	provider mail.Provider,
	classifier mail.Classifier,
	store state.Store,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	cfg.AutoTrashRules = slices.Clone(cfg.AutoTrashRules)
	for i := range cfg.AutoTrashRules {
		if err := cfg.AutoTrashRules[i].Compile(); err != nil {
			logger.Warn("auto-trash rule will never match", "rule", i, "err", err)
		}
	}
	return &Engine{
		Provider:   provider,
		Classifier: classifier,
		Store:      store,
		Config:     cfg,
		Logger:     logger,
		Clock:      time.Now,
		Sleep:      sleepCtx,
	}
}

// labelCache memoizes name -> provider id for the engine's lifetime.
// Names that could not be resolved are absent.
type labelCache struct {
	ids map[string]string
}

// EnsureLabels makes sure every catalog label exists on the provider and
// returns the name -> id mapping. Only the first call reaches the provider;
// any failure aborts and leaves the cache empty.
func (e *Engine) EnsureLabels(ctx context.Context) (map[string]string, error) {
	if e.labels.ids != nil {
		return maps.Clone(e.labels.ids), nil
	}
	ids, err := e.Provider.EnsureLabelsExist(ctx, e.Config.Labels)
	if err != nil {
		return nil, fmt.Errorf("ensure labels: %w", err)
	}
	e.labels.ids = make(map[string]string, len(ids))
	for name, id := range ids {
		if id != "" {
			e.labels.ids[name] = id
		}
	}
	e.Logger.Debug("label cache ready", "labels", len(e.labels.ids))
	return maps.Clone(e.labels.ids), nil
}

// ResetLabels drops the memoized label mapping; the next pipeline run
// rebuilds it.
func (e *Engine) ResetLabels() {
	e.labels.ids = nil
}

// ProcessNewEmails labels up to maxResults unprocessed emails that do not
// already carry a catalog label.
func (e *Engine) ProcessNewEmails(ctx context.Context, maxResults int) (res ProcessResult, err error) {
	if maxResults <= 0 {
		maxResults = DefaultNewMaxResults
	}
	r := e.newRun("new")
	defer func() { r.finish(ctx, res, err) }()

	labels, err := e.EnsureLabels(ctx)
	if err != nil {
		return res, err
	}
	fetched, err := e.Provider.GetEmails(ctx, mail.FetchOptions{
		MaxResults:    maxResults,
		ExcludeLabels: mail.LabelNames(e.Config.Labels),
	})
	if err != nil {
		return res, fmt.Errorf("fetch new emails: %w", err)
	}
	emails, err := e.unprocessed(ctx, fetched)
	if err != nil {
		return res, err
	}
	r.total = len(emails)
	r.log.Info("processing new emails", "fetched", len(fetched), "unprocessed", len(emails))

	for i, email := range emails {
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
		r.emit(ctx, i, email, StatusProcessing, nil, nil)
		if err := r.label(ctx, i, email, labels); err != nil {
			return r.result(), err
		}
		if err := e.throttle(ctx, i); err != nil {
			return r.result(), err
		}
	}
	return r.result(), nil
}

// Backfill labels historical mail matching opts.Query. Unless Force is set,
// already-processed emails are dropped and emails already carrying a cached
// label are marked processed and skipped without classification.
func (e *Engine) Backfill(ctx context.Context, opts BackfillOptions) (res ProcessResult, err error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultBackfillMaxResults
	}
	if opts.Query == "" {
		opts.Query = DefaultBackfillQuery
	}
	r := e.newRun("backfill")
	defer func() { r.finish(ctx, res, err) }()

	labels, err := e.EnsureLabels(ctx)
	if err != nil {
		return res, err
	}
	fetched, err := e.Provider.GetEmails(ctx, mail.FetchOptions{MaxResults: opts.MaxResults, Query: opts.Query})
	if err != nil {
		return res, fmt.Errorf("fetch backfill emails: %w", err)
	}
	emails := fetched
	if !opts.Force {
		if emails, err = e.unprocessed(ctx, fetched); err != nil {
			return res, err
		}
	}
	r.total = len(emails)
	r.log.Info("backfilling", "query", opts.Query, "force", opts.Force, "fetched", len(fetched), "candidates", len(emails))

	cachedIDs := slices.Sorted(maps.Values(labels))
	for i, email := range emails {
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
		r.emit(ctx, i, email, StatusProcessing, nil, nil)

		skipped, err := r.skipIfLabeled(ctx, i, email, cachedIDs, opts.Force)
		if err != nil {
			return r.result(), err
		}
		if !skipped {
			if err := r.label(ctx, i, email, labels); err != nil {
				return r.result(), err
			}
		}
		if err := e.throttle(ctx, i); err != nil {
			return r.result(), err
		}
	}
	return r.result(), nil
}

// Cleanup trashes mail past each retention rule's age. It resolves labels
// from a fresh provider listing, independent of the label cache.
func (e *Engine) Cleanup(ctx context.Context) (res CleanupResult, err error) {
	r := e.newRun("cleanup")
	defer func() { telemetry.RecordRun(ctx, "cleanup", err) }()

	svc := sweep.NewService(e.Provider, r.log)
	svc.Clock = e.Clock
	res, err = svc.Cleanup(ctx, e.Config.CleanupRules)
	r.log.Info("cleanup finished", "deleted", res.Deleted, "failed", res.Failed)
	return res, err
}

func (e *Engine) unprocessed(ctx context.Context, fetched []mail.EmailSummary) ([]mail.EmailSummary, error) {
	ids := make([]string, len(fetched))
	for i, em := range fetched {
		ids[i] = em.ID
	}
	keep, err := e.Store.FilterUnprocessed(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("filter unprocessed: %w", err)
	}
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	out := make([]mail.EmailSummary, 0, len(keep))
	for _, em := range fetched {
		if _, ok := set[em.ID]; ok {
			out = append(out, em)
		}
	}
	return out, nil
}

// throttle pauses after every tenth email.
func (e *Engine) throttle(ctx context.Context, i int) error {
	if (i+1)%throttleEvery != 0 {
		return nil
	}
	return e.Sleep(ctx, throttleDelay)
}

// run carries the state of one pipeline invocation.
type run struct {
	e        *Engine
	pipeline string
	log      *slog.Logger
	total    int
	results  []Result
}

func (e *Engine) newRun(pipeline string) *run {
	return &run{
		e:        e,
		pipeline: pipeline,
		log:      e.Logger.With("run_id", uuid.NewString(), "pipeline", pipeline),
	}
}

func (r *run) result() ProcessResult {
	return ProcessResult{Processed: len(r.results), Results: r.results}
}

func (r *run) finish(ctx context.Context, res ProcessResult, err error) {
	telemetry.RecordRun(ctx, r.pipeline, err)
	if err != nil {
		r.log.Warn("run aborted", "labeled", res.Processed, "err", err)
		return
	}
	r.log.Info("run finished", "labeled", res.Processed, "candidates", r.total)
}

// skipIfLabeled marks and skips an email that already carries a cached
// label. A failed membership check is reported and the email is left
// unprocessed for a later run.
func (r *run) skipIfLabeled(ctx context.Context, i int, email mail.EmailSummary, cachedIDs []string, force bool) (bool, error) {
	if force {
		return false, nil
	}
	has, err := r.e.Provider.HasLabels(ctx, email.ID, cachedIDs)
	if err != nil {
		r.log.Warn("label check failed", "id", email.ID, "err", err)
		r.emit(ctx, i, email, StatusError, nil, err)
		return true, nil
	}
	if !has {
		return false, nil
	}
	if err := r.e.Store.MarkProcessed(ctx, []string{email.ID}); err != nil {
		return true, fmt.Errorf("mark %s processed: %w", email.ID, err)
	}
	r.emit(ctx, i, email, StatusSkipped, nil, nil)
	return true, nil
}

// label is the per-email step: classify, apply what resolves, mark
// processed, then evaluate auto-trash. Classify and apply failures are
// reported and isolated; only a state store failure is returned.
func (r *run) label(ctx context.Context, i int, email mail.EmailSummary, labels map[string]string) error {
	applied, err := r.classifyAndApply(ctx, email, labels)
	if err != nil {
		r.log.Warn("email failed", "id", email.ID, "err", err)
		r.emit(ctx, i, email, StatusError, nil, err)
	} else if len(applied) > 0 {
		r.results = append(r.results, Result{EmailID: email.ID, Labels: applied})
		r.log.Debug("labeled", "id", email.ID, "labels", applied)
		r.emit(ctx, i, email, StatusLabeled, applied, nil)
	} else {
		r.log.Debug("no resolvable label", "id", email.ID)
	}

	if err := r.e.Store.MarkProcessed(ctx, []string{email.ID}); err != nil {
		return fmt.Errorf("mark %s processed: %w", email.ID, err)
	}

	if idx := rules.FindMatchingFilter(email, r.e.Config.AutoTrashRules); idx >= 0 {
		if err := r.e.Provider.TrashEmail(ctx, email.ID); err != nil {
			r.log.Warn("auto-trash failed", "id", email.ID, "rule", idx, "err", err)
			r.emit(ctx, i, email, StatusError, applied, fmt.Errorf("auto-trash: %w", err))
			return nil
		}
		r.log.Debug("auto-trashed", "id", email.ID, "rule", r.e.Config.AutoTrashRules[idx].Describe())
		r.emit(ctx, i, email, StatusTrashed, applied, nil)
	}
	return nil
}

// classifyAndApply returns the names actually applied, in result order.
// Names absent from the cache are skipped silently. On an apply failure
// the labels applied so far are returned with the error.
func (r *run) classifyAndApply(ctx context.Context, email mail.EmailSummary, labels map[string]string) ([]string, error) {
	res, err := r.e.Classifier.Classify(ctx, email, r.e.Config.Labels, r.e.Config.ClassificationPrompt)
	if err != nil {
		var ce *mail.ClassificationError
		if !errors.As(err, &ce) {
			err = &mail.ClassificationError{EmailID: email.ID, Err: err}
		}
		return nil, err
	}
	var applied []string
	for _, name := range res.Labels {
		id, ok := labels[name]
		if !ok || slices.Contains(applied, name) {
			continue
		}
		if err := r.e.Provider.ApplyLabel(ctx, email.ID, id); err != nil {
			return applied, fmt.Errorf("apply %q: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// emit notifies the observer. A panicking observer is logged and ignored.
func (r *run) emit(ctx context.Context, i int, email mail.EmailSummary, status Status, labels []string, err error) {
	telemetry.RecordEmail(ctx, r.pipeline, string(status))
	if r.e.Observer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("progress observer panicked", "status", status, "panic", rec)
		}
	}()
	r.e.Observer.Observe(Progress{
		Current: i + 1,
		Total:   r.total,
		Email:   refOf(email),
		Labels:  labels,
		Status:  status,
		Err:     err,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
