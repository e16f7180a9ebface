package classify

import (
	"context"
	"strconv"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
)

// Rules answers from the first matching label rule and only consults Next
// when no rule matches.
type Rules struct {
	Rules []rules.LabelRule
	Next  mail.Classifier
}

// NewRules compiles the rules' filters and wraps next.
func NewRules(labelRules []rules.LabelRule, next mail.Classifier) (*Rules, error) {
	compiled := make([]rules.LabelRule, len(labelRules))
	copy(compiled, labelRules)
	for i := range compiled {
		if err := compiled[i].Match.Compile(); err != nil {
			return nil, &mail.ConfigError{Field: "label_rules[" + ruleName(compiled[i], i) + "]", Message: err.Error()}
		}
	}
	return &Rules{Rules: compiled, Next: next}, nil
}

// Name implements mail.Classifier.
func (r *Rules) Name() string { return "rules+" + r.Next.Name() }

// Classify implements mail.Classifier.
func (r *Rules) Classify(ctx context.Context, email mail.EmailSummary, labels []mail.LabelDefinition, systemPrompt string) (mail.ClassificationResult, error) {
	if rule, ok := rules.FindMatchingRule(email, r.Rules); ok {
		out := rule.Labels
		if len(out) > MaxLabels {
			out = out[:MaxLabels]
		}
		confidence := 1.0
		return mail.ClassificationResult{
			Labels:     append([]string(nil), out...),
			Confidence: &confidence,
			Reasoning:  "matched rule " + rule.Name,
		}, nil
	}
	return r.Next.Classify(ctx, email, labels, systemPrompt)
}

func ruleName(r rules.LabelRule, i int) string {
	if r.Name != "" {
		return r.Name
	}
	return strconv.Itoa(i)
}
