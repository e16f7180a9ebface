package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

var errNoLabels = errors.New("response named no labels")

type rawResult struct {
	Labels     []string `json:"labels"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// ParseResult decodes a model response into a ClassificationResult. Names
// are matched to the catalog case-insensitively; unknown names are kept
// verbatim for the caller to drop. The list is de-duplicated and capped at
// MaxLabels.
func ParseResult(text string, labels []mail.LabelDefinition) (mail.ClassificationResult, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(extractJSON(text, '{', '}')), &raw); err != nil {
		return mail.ClassificationResult{}, fmt.Errorf("parse classification: %w", err)
	}
	names := raw.Labels
	if len(names) == 0 && raw.Label != "" {
		names = []string{raw.Label}
	}

	canonical := make(map[string]string, len(labels))
	for _, l := range labels {
		canonical[strings.ToLower(l.Name)] = l.Name
	}
	var out []string
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if c, ok := canonical[strings.ToLower(n)]; ok {
			n = c
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		if len(out) == MaxLabels {
			break
		}
	}
	if len(out) == 0 {
		return mail.ClassificationResult{}, errNoLabels
	}

	res := mail.ClassificationResult{Labels: out, Reasoning: raw.Reasoning}
	if c := raw.Confidence; c != nil && *c >= 0 && *c <= 1 {
		res.Confidence = c
	}
	return res, nil
}

type rawSuggestion struct {
	Labels []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Color       struct {
			Background string `json:"background"`
			Text       string `json:"text"`
		} `json:"color"`
	} `json:"labels"`
	CleanupRules []struct {
		Label         string `json:"label"`
		RetentionDays int    `json:"retention_days"`
	} `json:"cleanup_rules"`
	ClassificationPrompt string `json:"classification_prompt"`
}

// ParseSuggestion decodes a suggested configuration. Cleanup rules for
// labels outside the suggested catalog are dropped.
func ParseSuggestion(text string) (mail.Suggestion, error) {
	var raw rawSuggestion
	if err := json.Unmarshal([]byte(extractJSON(text, '{', '}')), &raw); err != nil {
		return mail.Suggestion{}, fmt.Errorf("parse suggestion: %w", err)
	}
	var s mail.Suggestion
	names := map[string]bool{}
	for _, l := range raw.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" || names[name] {
			continue
		}
		names[name] = true
		s.Labels = append(s.Labels, mail.LabelDefinition{
			Name:        name,
			Description: l.Description,
			Color:       mail.LabelColor{Background: l.Color.Background, Text: l.Color.Text},
		})
	}
	if len(s.Labels) == 0 {
		return mail.Suggestion{}, errNoLabels
	}
	for _, r := range raw.CleanupRules {
		if names[r.Label] && r.RetentionDays > 0 {
			s.CleanupRules = append(s.CleanupRules, mail.SuggestedCleanup{Label: r.Label, RetentionDays: r.RetentionDays})
		}
	}
	s.ClassificationPrompt = strings.TrimSpace(raw.ClassificationPrompt)
	return s, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost open..close span when present.
func extractJSON(text string, opening, closing byte) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, opening)
	end := strings.LastIndexByte(text, closing)
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return text
}
