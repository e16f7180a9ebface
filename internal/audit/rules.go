package audit

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
)

// replay holds the outcome of running the configured rules over a sample of
// messages with the engine's semantics: the first matching label rule wins,
// and the first matching auto-trash rule trashes after labeling.
type replay struct {
	labelMatched []int
	labelHits    [][]string
	trashMatched []int
	trashHits    [][]string
	trashedBy    map[string]int
	coverage     map[string]int
}

func replayRules(emails []mail.EmailSummary, labelRules []rules.LabelRule, trash []rules.Filter) replay {
	rp := replay{
		labelMatched: make([]int, len(labelRules)),
		labelHits:    make([][]string, len(labelRules)),
		trashMatched: make([]int, len(trash)),
		trashHits:    make([][]string, len(trash)),
		trashedBy:    map[string]int{},
		coverage:     map[string]int{},
	}
	for _, email := range emails {
		first := -1
		for i, r := range labelRules {
			if !rules.Matches(email, r.Match) {
				continue
			}
			rp.labelMatched[i]++
			if first == -1 {
				first = i
			}
		}
		if first >= 0 {
			rp.labelHits[first] = append(rp.labelHits[first], email.ID)
			for _, name := range labelRules[first].Labels {
				rp.coverage[name]++
			}
		}

		hit := -1
		for j, f := range trash {
			if !f.Local() || !rules.Matches(email, f) {
				continue
			}
			rp.trashMatched[j]++
			if hit == -1 {
				hit = j
			}
		}
		if hit >= 0 {
			rp.trashHits[hit] = append(rp.trashHits[hit], email.ID)
			rp.trashedBy[email.ID] = hit
		}
	}
	return rp
}

func labelRuleName(i int, r rules.LabelRule) string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	return fmt.Sprintf("label_rules[%d]", i)
}

func trashRuleName(j int, f rules.Filter) string {
	return fmt.Sprintf("auto_trash_rules[%d] (%s)", j, f.Describe())
}

func (rp replay) deadRules(labelRules []rules.LabelRule, trash []rules.Filter) []RuleFinding {
	var out []RuleFinding
	for i, r := range labelRules {
		if f, dead := deadFinding(labelRuleName(i, r), rp.labelMatched[i], len(rp.labelHits[i]), "label"); dead {
			out = append(out, f)
		}
	}
	for j, f := range trash {
		if finding, dead := deadFinding(trashRuleName(j, f), rp.trashMatched[j], len(rp.trashHits[j]), "auto-trash"); dead {
			out = append(out, finding)
		}
	}
	return out
}

func deadFinding(name string, matched, hits int, kind string) (RuleFinding, bool) {
	switch {
	case matched == 0:
		return RuleFinding{Name: name, Reason: "no messages matched in lookback"}, true
	case hits == 0:
		return RuleFinding{Name: name, Reason: fmt.Sprintf("every match was taken by an earlier %s rule", kind)}, true
	}
	return RuleFinding{}, false
}

// conflicts pairs label rules with the auto-trash rules that trash the
// messages they just labeled.
func (rp replay) conflicts(labelRules []rules.LabelRule, trash []rules.Filter) []Conflict {
	var out []Conflict
	for i, r := range labelRules {
		counts := make([]int, len(trash))
		for _, id := range rp.labelHits[i] {
			if j, ok := rp.trashedBy[id]; ok {
				counts[j]++
			}
		}
		for j, n := range counts {
			if n == 0 {
				continue
			}
			out = append(out, Conflict{
				Rules:       []string{labelRuleName(i, r), trashRuleName(j, trash[j])},
				Description: fmt.Sprintf("%d message(s) labeled and then trashed", n),
			})
		}
	}
	return out
}

// missingLabels lists label names that rules apply but the catalog does not
// define. The engine skips those names silently.
func missingLabels(labelRules []rules.LabelRule, catalog []mail.LabelDefinition) []string {
	known := make(map[string]struct{}, len(catalog))
	for _, def := range catalog {
		known[def.Name] = struct{}{}
	}
	var out []string
	for _, r := range labelRules {
		for _, name := range r.Labels {
			if _, ok := known[name]; !ok {
				out = appendIfMissing(out, name)
			}
		}
	}
	return out
}

// unknownCleanupLabels lists cleanup labels the provider does not have.
// Cleanup skips such rules without error.
func unknownCleanupLabels(p mail.Provider, cleanup []rules.CleanupRule, existing []mail.Label) []string {
	have := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		have[l.Name] = struct{}{}
	}
	var out []string
	for _, r := range cleanup {
		if _, ok := have[mail.StoredLabelName(p, r.Label)]; !ok {
			out = appendIfMissing(out, r.Label)
		}
	}
	return out
}

func coveredDomain(domain string, labelRules []rules.LabelRule) bool {
	for _, r := range labelRules {
		if r.Match.From != "" && strings.Contains(strings.ToLower(r.Match.From), domain) {
			return true
		}
	}
	return false
}
