package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultQuery is used when a filter constrains nothing the provider sees.
const DefaultQuery = "in:inbox"

const queryDateLayout = "2006/01/02"

var sizeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(kb|mb|gb)?$`)

// BuildQuery renders the provider-evaluated dimensions of f as a search
// query. now anchors OlderThan.
func BuildQuery(f Filter, now time.Time) string {
	var parts []string
	if f.OlderThan > 0 {
		parts = append(parts, BeforeQuery(Cutoff(now, f.OlderThan)))
	}
	for _, label := range f.Labels {
		parts = append(parts, "label:"+LabelQueryName(label))
	}
	if f.LargerThan != "" {
		if n := ParseSize(f.LargerThan); n > 0 {
			parts = append(parts, fmt.Sprintf("larger:%d", n))
		}
	}
	if f.From != "" {
		parts = append(parts, "from:"+f.From)
	}
	if f.Subject != "" {
		parts = append(parts, "subject:"+f.Subject)
	}
	if f.Unread {
		parts = append(parts, "is:unread")
	}
	if f.Read {
		parts = append(parts, "is:read")
	}
	if len(parts) == 0 {
		return DefaultQuery
	}
	return strings.Join(parts, " ")
}

// ParseSize converts "10mb", "500kb", "1.5gb" or a bare byte count into
// bytes. Unparseable input yields 0.
func ParseSize(size string) int64 {
	m := sizeRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(size)))
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n < 0 {
		return 0
	}
	mult := 1.0
	switch m[2] {
	case "kb":
		mult = 1 << 10
	case "mb":
		mult = 1 << 20
	case "gb":
		mult = 1 << 30
	}
	return int64(math.Floor(n * mult))
}

// Cutoff returns the UTC calendar day retentionDays before now.
func Cutoff(now time.Time, retentionDays int) time.Time {
	d := now.UTC().AddDate(0, 0, -retentionDays)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// BeforeQuery renders a "before:" constraint at day granularity.
func BeforeQuery(cutoff time.Time) string {
	return "before:" + cutoff.Format(queryDateLayout)
}

// ParseBeforeQuery extracts the cutoff from a "before:YYYY/MM/DD" token.
func ParseBeforeQuery(token string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(token, "before:")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(queryDateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CleanupQuery combines a label and its retention cutoff.
func CleanupQuery(rule CleanupRule, now time.Time) string {
	return "label:" + LabelQueryName(rule.Label) + " " + BeforeQuery(Cutoff(now, rule.RetentionDays))
}

// LabelQueryName is the search form of a label name: nested separators and
// spaces become dashes.
func LabelQueryName(name string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(name)
}
