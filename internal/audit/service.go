// Package audit replays configured label and auto-trash rules against
// recent mail and reports rules that never fire, reference unknown labels,
// or fight each other.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/labelsweep/internal/classify"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
)

const (
	previewSubjectDisplayLimit = 60
	defaultMaxResults          = 500
	maxSnippets                = 10
)

// Options controls the behavior of the audit analyzer.
type Options struct {
	Window     time.Duration
	TopN       int
	MaxResults int
}

// RuleSet is the configuration under audit.
type RuleSet struct {
	Catalog      []mail.LabelDefinition
	LabelRules   []rules.LabelRule
	TrashRules   []rules.Filter
	CleanupRules []rules.CleanupRule
}

// Service executes audit analyses against a mail provider.
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

// Report summarizes recent inbox activity and suggestions.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      time.Duration  `json:"window"`
	Total       int            `json:"total"`
	TopSenders  []SenderStat   `json:"top_senders"`
	Coverage    map[string]int `json:"coverage"`
	Suggestions Suggestions    `json:"suggestions"`
	Findings    Findings       `json:"findings"`
}

// SenderStat ranks noisy sender domains.
type SenderStat struct {
	Domain         string `json:"domain"`
	Count          int    `json:"count"`
	PreviewSubject string `json:"preview_subject"`
}

// Suggestions includes proposed label rules and clean-ups.
type Suggestions struct {
	LabelRules  []string      `json:"label_rules"`
	RemoveRules []RuleFinding `json:"remove_rules"`
	Smells      []Conflict    `json:"smells"`
}

// Findings feeds the lint command.
type Findings struct {
	DeadRules            []RuleFinding `json:"dead_rules"`
	MissingLabels        []string      `json:"missing_labels"`
	UnknownCleanupLabels []string      `json:"unknown_cleanup_labels"`
	Conflicts            []Conflict    `json:"conflicts"`
}

func (f Findings) empty() bool {
	return len(f.DeadRules) == 0 && len(f.MissingLabels) == 0 &&
		len(f.UnknownCleanupLabels) == 0 && len(f.Conflicts) == 0
}

// RuleFinding identifies a problematic rule.
type RuleFinding struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict represents conflicting actions between rules for the same messages.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
}

// Run produces a full audit report.
func (s *Service) Run(ctx context.Context, set RuleSet, opts Options) (Report, error) {
	if opts.Window <= 0 {
		return Report{}, errors.New("window must be positive")
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 20
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	s.Logger.InfoContext(ctx, "running audit", slog.Duration("window", opts.Window), slog.String("provider", s.Provider.Name()))

	existing, err := s.Provider.ListLabels(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list labels: %w", err)
	}

	since := s.Clock().AddDate(0, 0, -daysFromDuration(opts.Window))
	emails, err := s.Provider.GetEmails(ctx, mail.FetchOptions{
		MaxResults: maxResults,
		Query:      "after:" + since.Format("2006/01/02"),
	})
	if err != nil {
		return Report{}, fmt.Errorf("fetch recent mail: %w", err)
	}
	s.Logger.DebugContext(ctx, "fetched audit sample", "count", len(emails))

	rep := Report{
		GeneratedAt: s.Clock(),
		Window:      opts.Window,
		Total:       len(emails),
		Coverage:    map[string]int{},
	}
	rep.Findings.MissingLabels = missingLabels(set.LabelRules, set.Catalog)
	rep.Findings.UnknownCleanupLabels = unknownCleanupLabels(s.Provider, set.CleanupRules, existing)
	if len(emails) == 0 {
		return rep, nil
	}

	rp := replayRules(emails, set.LabelRules, set.TrashRules)
	rep.Coverage = rp.coverage
	rep.Findings.DeadRules = rp.deadRules(set.LabelRules, set.TrashRules)
	rep.Findings.Conflicts = rp.conflicts(set.LabelRules, set.TrashRules)

	rep.TopSenders = rankSenders(emails, topN)
	rep.Suggestions.LabelRules = buildLabelRules(rep.TopSenders, set)
	rep.Suggestions.RemoveRules = rep.Findings.DeadRules
	rep.Suggestions.Smells = rep.Findings.Conflicts
	return rep, nil
}

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "labelsweep audit: window %s (%d messages)\n", rep.Window, rep.Total)
	if len(rep.TopSenders) > 0 {
		builder.WriteString("\nTop senders:\n")
		for _, s := range rep.TopSenders {
			fmt.Fprintf(
				&builder,
				"  %-30s %4d %s\n",
				s.Domain,
				s.Count,
				truncate(s.PreviewSubject, previewSubjectDisplayLimit),
			)
		}
	}
	if len(rep.Coverage) > 0 {
		builder.WriteString("\nRule coverage:\n")
		names := make([]string, 0, len(rep.Coverage))
		for name := range rep.Coverage {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&builder, "  %-30s %4d\n", name, rep.Coverage[name])
		}
	}
	if len(rep.Suggestions.LabelRules) > 0 {
		builder.WriteString("\nSuggested label_rules:\n")
		for _, snip := range rep.Suggestions.LabelRules {
			fmt.Fprintf(&builder, "%s\n", snip)
		}
	}
	if !rep.Findings.empty() {
		builder.WriteString("\nLint findings:\n")
		for _, fr := range rep.Findings.DeadRules {
			fmt.Fprintf(&builder, "  dead rule: %s: %s\n", fr.Name, fr.Reason)
		}
		for _, lbl := range rep.Findings.MissingLabels {
			fmt.Fprintf(&builder, "  missing label: %s\n", lbl)
		}
		for _, lbl := range rep.Findings.UnknownCleanupLabels {
			fmt.Fprintf(&builder, "  cleanup label not found: %s\n", lbl)
		}
		for _, cf := range rep.Findings.Conflicts {
			fmt.Fprintf(
				&builder,
				"  conflict: %s (%s)\n",
				strings.Join(cf.Rules, ", "),
				cf.Description,
			)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to a path relative to the working
// directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return errors.New("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}

func rankSenders(emails []mail.EmailSummary, topN int) []SenderStat {
	senders := map[string]*SenderStat{}
	for _, email := range emails {
		domain := domainOf(email.From)
		if domain == "" {
			continue
		}
		st := senders[domain]
		if st == nil {
			st = &SenderStat{Domain: domain}
			senders[domain] = st
		}
		st.Count++
		if st.PreviewSubject == "" {
			st.PreviewSubject = email.Subject
		}
	}
	slice := make([]SenderStat, 0, len(senders))
	for _, st := range senders {
		slice = append(slice, *st)
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].Count == slice[j].Count {
			return slice[i].Domain < slice[j].Domain
		}
		return slice[i].Count > slice[j].Count
	})
	if topN < len(slice) {
		slice = slice[:topN]
	}
	return slice
}

// buildLabelRules proposes a label rule for each busy sender domain that no
// existing rule already targets.
func buildLabelRules(senders []SenderStat, set RuleSet) []string {
	label := classify.FallbackLabel(set.Catalog)
	if label == "" {
		return nil
	}
	var snippets []string
	for _, sd := range senders {
		if sd.Count < 2 || coveredDomain(sd.Domain, set.LabelRules) {
			continue
		}
		snippets = append(snippets, fmt.Sprintf(`- name: %s
  labels: [%q]
  match:
    from: "*@%s"`, strings.ReplaceAll(sd.Domain, ".", "-"), label, sd.Domain))
		if len(snippets) >= maxSnippets {
			break
		}
	}
	return snippets
}
