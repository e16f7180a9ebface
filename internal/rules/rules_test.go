package rules

import (
	"testing"
	"time"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		email  mail.EmailSummary
		filter Filter
		want   bool
	}{
		{
			name:   "empty filter matches",
			email:  mail.EmailSummary{From: "a@b.com"},
			filter: Filter{},
			want:   true,
		},
		{
			name:   "wildcard domain",
			email:  mail.EmailSummary{From: "Promo <deals@newsletter.com>"},
			filter: Filter{From: "*@newsletter.com"},
			want:   true,
		},
		{
			name:   "wildcard domain other sender",
			email:  mail.EmailSummary{From: "person@company.com"},
			filter: Filter{From: "*@newsletter.com"},
			want:   false,
		},
		{
			name:   "from substring case-insensitive",
			email:  mail.EmailSummary{From: "Billing@Shop.example"},
			filter: Filter{From: "billing@"},
			want:   true,
		},
		{
			name:   "subject substring case-insensitive",
			email:  mail.EmailSummary{Subject: "Your INVOICE #42"},
			filter: Filter{Subject: "invoice"},
			want:   true,
		},
		{
			name:   "subject regex is case-sensitive",
			email:  mail.EmailSummary{Subject: "Your INVOICE #42"},
			filter: Filter{SubjectRegex: `invoice #\d+`},
			want:   false,
		},
		{
			name:   "subject regex with flag",
			email:  mail.EmailSummary{Subject: "Your INVOICE #42"},
			filter: Filter{SubjectRegex: `(?i)invoice #\d+`},
			want:   true,
		},
		{
			name:   "snippet regex",
			email:  mail.EmailSummary{Snippet: "Your code is 123456"},
			filter: Filter{SnippetRegex: `code is \d{6}`},
			want:   true,
		},
		{
			name:   "and semantics",
			email:  mail.EmailSummary{From: "alerts@bank.com", Subject: "Weekly digest"},
			filter: Filter{From: "bank.com", Subject: "login"},
			want:   false,
		},
		{
			name:   "invalid regex never matches",
			email:  mail.EmailSummary{Subject: "anything"},
			filter: Filter{SubjectRegex: `(`},
			want:   false,
		},
		{
			name:   "provider dimensions ignored locally",
			email:  mail.EmailSummary{Subject: "x"},
			filter: Filter{OlderThan: 30, Labels: []string{"Work"}, Unread: true, LargerThan: "1mb"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.email, tt.filter); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileRejectsBadRegex(t *testing.T) {
	f := Filter{SubjectRegex: "[a-"}
	if err := f.Compile(); err == nil {
		t.Fatalf("expected compile error")
	}
	ok := Filter{SubjectRegex: `^Re:`, SnippetRegex: `unsubscribe`}
	if err := ok.Compile(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Matches(mail.EmailSummary{Subject: "Re: hi", Snippet: "click unsubscribe"}, ok) {
		t.Fatalf("compiled filter should match")
	}
}

func TestFindMatchingRuleFirstMatchWins(t *testing.T) {
	rules := []LabelRule{
		{Name: "receipts", Labels: []string{"Receipts"}, Match: Filter{Subject: "invoice"}},
		{Name: "finance", Labels: []string{"Finance"}, Match: Filter{From: "billing@"}},
	}
	email := mail.EmailSummary{From: "billing@shop.com", Subject: "Invoice for March"}

	got, ok := FindMatchingRule(email, rules)
	if !ok {
		t.Fatalf("expected a match")
	}
	if len(got.Labels) != 1 || got.Labels[0] != "Receipts" {
		t.Fatalf("expected first rule labels, got %v", got.Labels)
	}

	if _, ok := FindMatchingRule(mail.EmailSummary{From: "x@y.z"}, rules); ok {
		t.Fatalf("expected no match")
	}
	if _, ok := FindMatchingRule(email, nil); ok {
		t.Fatalf("expected no match on empty rules")
	}
}

func TestFindMatchingFilter(t *testing.T) {
	filters := []Filter{{From: "nobody@"}, {Subject: "sale"}, {Subject: "sale"}}
	if got := FindMatchingFilter(mail.EmailSummary{Subject: "Big SALE"}, filters); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}
	if got := FindMatchingFilter(mail.EmailSummary{Subject: "hello"}, filters); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}

	providerOnly := []Filter{{}, {OlderThan: 30}, {Labels: []string{"Work"}, Unread: true}}
	if got := FindMatchingFilter(mail.EmailSummary{Subject: "anything"}, providerOnly); got != -1 {
		t.Fatalf("filters without local keys matched at %d", got)
	}
}

func TestFilterLocal(t *testing.T) {
	tests := []struct {
		filter Filter
		want   bool
	}{
		{Filter{}, false},
		{Filter{OlderThan: 30, Labels: []string{"Work"}, LargerThan: "1mb", Unread: true, Read: true}, false},
		{Filter{From: "a@b"}, true},
		{Filter{Subject: "x"}, true},
		{Filter{SubjectRegex: "x"}, true},
		{Filter{SnippetRegex: "x"}, true},
	}
	for _, tt := range tests {
		if got := tt.filter.Local(); got != tt.want {
			t.Errorf("%s: Local() = %v, want %v", tt.filter.Describe(), got, tt.want)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{name: "empty", filter: Filter{}, want: "in:inbox"},
		{
			name:   "older than and label",
			filter: Filter{OlderThan: 30, Labels: []string{"Low Priority", "GitHub/Nuxt"}},
			want:   "before:2024/02/14 label:Low-Priority label:GitHub-Nuxt",
		},
		{
			name:   "size and flags",
			filter: Filter{LargerThan: "10mb", From: "news@", Unread: true},
			want:   "larger:10485760 from:news@ is:unread",
		},
		{
			name:   "bad size dropped",
			filter: Filter{LargerThan: "huge", Read: true},
			want:   "is:read",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.filter, now); got != tt.want {
				t.Fatalf("BuildQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"":       0,
		"500":    500,
		"1kb":    1024,
		"1.5 mb": 1572864,
		"2GB":    2147483648,
		"-3mb":   0,
		"lots":   0,
	}
	for in, want := range tests {
		if got := ParseSize(in); got != want {
			t.Fatalf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCleanupQuery(t *testing.T) {
	now := time.Date(2024, time.March, 15, 23, 30, 0, 0, time.UTC)
	got := CleanupQuery(CleanupRule{Label: "Low Priority", RetentionDays: 7}, now)
	if got != "label:Low-Priority before:2024/03/08" {
		t.Fatalf("unexpected query %q", got)
	}
	cutoff, ok := ParseBeforeQuery("before:2024/03/08")
	if !ok || !cutoff.Equal(Cutoff(now, 7)) {
		t.Fatalf("round trip cutoff mismatch: %v %v", cutoff, ok)
	}
	if _, ok := ParseBeforeQuery("after:2024/03/08"); ok {
		t.Fatalf("expected non-before token to be rejected")
	}
}

func TestCutoffBoundary(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	cutoff := Cutoff(now, 7)
	if want := time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC); !cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", cutoff, want)
	}
	tests := []struct {
		name    string
		sent    time.Time
		trashed bool
	}{
		{"six days old", now.AddDate(0, 0, -6), false},
		{"seven days old", now.AddDate(0, 0, -7), false},
		{"start of cutoff day", cutoff, false},
		{"just before cutoff day", cutoff.Add(-time.Second), true},
		{"eight days old", now.AddDate(0, 0, -8), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sent.Before(cutoff); got != tt.trashed {
				t.Fatalf("%v before %v = %v, want %v", tt.sent, cutoff, got, tt.trashed)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := (Filter{}).Describe(); got != "match-all" {
		t.Fatalf("unexpected %q", got)
	}
	got := Filter{From: "*@x.com", OlderThan: 3}.Describe()
	if got != "from:*@x.com older_than:3d" {
		t.Fatalf("unexpected %q", got)
	}
}
