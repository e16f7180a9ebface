// Package rules evaluates configured filters against fetched mail and
// builds provider queries for the dimensions only the provider can see.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// Filter selects mail. Absent keys are not constraints. OlderThan, Labels,
// LargerThan, Unread and Read are evaluated by the provider through
// BuildQuery; the rest are evaluated locally by Matches.
type Filter struct {
	OlderThan    int      `mapstructure:"older_than" json:"older_than,omitempty"`
	Labels       []string `mapstructure:"labels" json:"labels,omitempty"`
	LargerThan   string   `mapstructure:"larger_than" json:"larger_than,omitempty"`
	From         string   `mapstructure:"from" json:"from,omitempty"`
	Subject      string   `mapstructure:"subject" json:"subject,omitempty"`
	SubjectRegex string   `mapstructure:"subject_regex" json:"subject_regex,omitempty"`
	SnippetRegex string   `mapstructure:"snippet_regex" json:"snippet_regex,omitempty"`
	Unread       bool     `mapstructure:"unread" json:"unread,omitempty"`
	Read         bool     `mapstructure:"read" json:"read,omitempty"`

	subjectRe *regexp.Regexp
	snippetRe *regexp.Regexp
}

// LabelRule applies Labels to mail matching Match.
type LabelRule struct {
	Name   string   `mapstructure:"name" json:"name,omitempty"`
	Labels []string `mapstructure:"labels" json:"labels"`
	Match  Filter   `mapstructure:"match" json:"match"`
}

// CleanupRule trashes mail under Label once it is older than RetentionDays.
type CleanupRule struct {
	Label         string `mapstructure:"label" json:"label"`
	RetentionDays int    `mapstructure:"retention_days" json:"retention_days"`
}

// Compile validates and caches the filter's regular expressions.
func (f *Filter) Compile() error {
	if f.SubjectRegex != "" {
		re, err := regexp.Compile(f.SubjectRegex)
		if err != nil {
			return fmt.Errorf("subject_regex %q: %w", f.SubjectRegex, err)
		}
		f.subjectRe = re
	}
	if f.SnippetRegex != "" {
		re, err := regexp.Compile(f.SnippetRegex)
		if err != nil {
			return fmt.Errorf("snippet_regex %q: %w", f.SnippetRegex, err)
		}
		f.snippetRe = re
	}
	return nil
}

// Describe renders a short human label for a filter.
func (f Filter) Describe() string {
	var parts []string
	if f.From != "" {
		parts = append(parts, "from:"+f.From)
	}
	if f.Subject != "" {
		parts = append(parts, "subject:"+f.Subject)
	}
	if f.SubjectRegex != "" {
		parts = append(parts, "subject~/"+f.SubjectRegex+"/")
	}
	if f.SnippetRegex != "" {
		parts = append(parts, "snippet~/"+f.SnippetRegex+"/")
	}
	if f.OlderThan > 0 {
		parts = append(parts, fmt.Sprintf("older_than:%dd", f.OlderThan))
	}
	for _, l := range f.Labels {
		parts = append(parts, "label:"+l)
	}
	if f.LargerThan != "" {
		parts = append(parts, "larger:"+f.LargerThan)
	}
	if f.Unread {
		parts = append(parts, "is:unread")
	}
	if f.Read {
		parts = append(parts, "is:read")
	}
	if len(parts) == 0 {
		return "match-all"
	}
	return strings.Join(parts, " ")
}

// Local reports whether f sets any key Matches evaluates. A filter without
// one matches every email.
func (f Filter) Local() bool {
	return f.From != "" || f.Subject != "" || f.SubjectRegex != "" || f.SnippetRegex != ""
}

// Matches reports whether email satisfies every locally evaluable key of f.
func Matches(email mail.EmailSummary, f Filter) bool {
	if f.From != "" && !matchFrom(email.From, f.From) {
		return false
	}
	if f.Subject != "" &&
		!strings.Contains(strings.ToLower(email.Subject), strings.ToLower(f.Subject)) {
		return false
	}
	if f.SubjectRegex != "" && !matchRegex(f.subjectRe, f.SubjectRegex, email.Subject) {
		return false
	}
	if f.SnippetRegex != "" && !matchRegex(f.snippetRe, f.SnippetRegex, email.Snippet) {
		return false
	}
	return true
}

// FindMatchingRule returns the first rule, in declaration order, whose
// filter matches email.
func FindMatchingRule(email mail.EmailSummary, rules []LabelRule) (LabelRule, bool) {
	for _, r := range rules {
		if Matches(email, r.Match) {
			return r, true
		}
	}
	return LabelRule{}, false
}

// FindMatchingFilter returns the index of the first filter matching email,
// or -1. Filters with no local key never match here.
func FindMatchingFilter(email mail.EmailSummary, filters []Filter) int {
	for i, f := range filters {
		if f.Local() && Matches(email, f) {
			return i
		}
	}
	return -1
}

func matchFrom(from, pattern string) bool {
	from = strings.ToLower(from)
	pattern = strings.ToLower(pattern)
	// *@domain matches any sender at that domain
	if strings.HasPrefix(pattern, "*@") {
		return strings.Contains(from, pattern[1:])
	}
	return strings.Contains(from, pattern)
}

func matchRegex(re *regexp.Regexp, raw, value string) bool {
	if re == nil {
		var err error
		re, err = regexp.Compile(raw)
		if err != nil {
			return false
		}
	}
	return re.MatchString(value)
}
