package imapmail

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/joshsymonds/labelsweep/internal/rules"
)

func TestKeyword(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Work", "Work"},
		{"Bills/Tax Returns", "Bills-Tax-Returns"},
		{"50% off (promo)", "50_-off-_promo_"},
		{"Café", "Caf_"},
	}
	for _, tt := range tests {
		if got := Keyword(tt.in); got != tt.want {
			t.Errorf("Keyword(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoredNameMatchesCleanupQuery(t *testing.T) {
	p := &Provider{}
	for _, name := range []string{"Low Priority", "Bills/Tax", "Work"} {
		stored := p.StoredName(name)
		if stored != Keyword(name) {
			t.Fatalf("StoredName(%q) = %q", name, stored)
		}
		c := Criteria(rules.CleanupQuery(rules.CleanupRule{Label: name, RetentionDays: 7}, time.Now()), nil)
		if !slices.Contains(c.Flag, imap.Flag(stored)) {
			t.Fatalf("query for %q searches %v, listing holds %q", name, c.Flag, stored)
		}
	}
}

func TestCriteria(t *testing.T) {
	c := Criteria("in:inbox -label:SENT label:Newsletters -label:Work before:2024/03/08 from:news@ is:unread larger:1kb invoice", []string{"Receipts"})

	if !slices.Contains(c.Flag, imap.Flag("Newsletters")) {
		t.Errorf("Flag = %v, want Newsletters", c.Flag)
	}
	for _, f := range []imap.Flag{"Work", "Receipts", imap.FlagSeen} {
		if !slices.Contains(c.NotFlag, f) {
			t.Errorf("NotFlag = %v, missing %s", c.NotFlag, f)
		}
	}
	if want := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC); !c.Before.Equal(want) {
		t.Errorf("Before = %v, want %v", c.Before, want)
	}
	if len(c.Header) != 1 || c.Header[0].Key != "From" || c.Header[0].Value != "news@" {
		t.Errorf("Header = %+v", c.Header)
	}
	if c.Larger != 1024 {
		t.Errorf("Larger = %d, want 1024", c.Larger)
	}
	if len(c.Text) != 1 || c.Text[0] != "invoice" {
		t.Errorf("Text = %v", c.Text)
	}
}

func TestCriteriaNegations(t *testing.T) {
	c := Criteria("-from:boss@ -is:read -urgent is:starred", nil)
	if len(c.Not) != 2 {
		t.Fatalf("Not = %+v, want 2 entries", c.Not)
	}
	if c.Not[0].Header[0].Key != "From" || c.Not[1].Text[0] != "urgent" {
		t.Errorf("Not = %+v", c.Not)
	}
	if !slices.Contains(c.NotFlag, imap.FlagSeen) {
		t.Errorf("NotFlag = %v, want \\Seen", c.NotFlag)
	}
	if !slices.Contains(c.Flag, imap.FlagFlagged) {
		t.Errorf("Flag = %v, want \\Flagged", c.Flag)
	}
}

func TestCriteriaEmptyQuery(t *testing.T) {
	c := Criteria("", nil)
	if len(c.Flag)+len(c.NotFlag)+len(c.Header)+len(c.Text)+len(c.Not) != 0 || !c.Before.IsZero() {
		t.Fatalf("expected empty criteria, got %+v", c)
	}
}

const multipartMessage = "From: Alice <alice@example.com>\r\n" +
	"Subject: Hi\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Plain   body\r\n  with\twhitespace\r\n" +
	"--XYZ--\r\n"

func TestSnippetOf(t *testing.T) {
	if got := snippetOf([]byte(multipartMessage)); got != "Plain body with whitespace" {
		t.Fatalf("snippet = %q", got)
	}

	single := "Subject: x\r\n\r\n" + strings.Repeat("word ", 100)
	got := snippetOf([]byte(single))
	if len([]rune(got)) != snippetLen {
		t.Fatalf("snippet length = %d, want %d", len([]rune(got)), snippetLen)
	}

	if snippetOf(nil) != "" {
		t.Fatal("empty input should give empty snippet")
	}
}

func TestSummaryOf(t *testing.T) {
	env := &imap.Envelope{
		Date:      time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		MessageID: "abc@example.com",
		From:      []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
	}
	s := summaryOf(42, env, []byte(multipartMessage))
	if s.ID != "42" || s.ThreadID != "abc@example.com" {
		t.Fatalf("summary ids = %+v", s)
	}
	if s.From != "Alice <alice@example.com>" {
		t.Fatalf("from = %q", s.From)
	}
	if s.Subject != "(no subject)" {
		t.Fatalf("subject = %q", s.Subject)
	}
	if s.Date != "Mon, 04 Mar 2024 10:00:00 +0000" {
		t.Fatalf("date = %q", s.Date)
	}
}

func TestParseUID(t *testing.T) {
	if uid, err := parseUID("17"); err != nil || uid != 17 {
		t.Fatalf("parseUID = %v, %v", uid, err)
	}
	if _, err := parseUID("abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{Host: "mail.example.com"}.withDefaults()
	if o.Port != "993" || o.Mailbox != "INBOX" || o.TrashMailbox != "Trash" {
		t.Fatalf("defaults = %+v", o)
	}
}
