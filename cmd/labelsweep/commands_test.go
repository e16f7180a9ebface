package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/labelsweep/internal/audit"
	"github.com/joshsymonds/labelsweep/internal/classify"
	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/fsys"
	"github.com/joshsymonds/labelsweep/internal/labeller"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/mail/mailtest"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/state"
	"github.com/joshsymonds/labelsweep/internal/sweep"
)

func TestDoRunLabelsAndTrashes(t *testing.T) {
	e, p := newTestEngine(labeller.Config{AutoTrashRules: []rules.Filter{{Subject: "% off"}}},
		mail.EmailSummary{ID: "1", Subject: "Quarterly report"},
		mail.EmailSummary{ID: "2", Subject: "50% off everything"},
	)
	var stdout, stderr bytes.Buffer
	if code := doRun(context.Background(), e, 10, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"2 labels ready",
		"[1/2] labeled [Work] Quarterly report",
		"[2/2] trashed 50% off everything",
		"done: 2 labeled, 0 skipped, 1 trashed, 0 errors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if len(p.Trashed) != 1 || p.Trashed[0] != "2" {
		t.Fatalf("trashed = %v", p.Trashed)
	}
}

func TestDoRunReportsBootstrapFailure(t *testing.T) {
	e, p := newTestEngine(labeller.Config{}, mail.EmailSummary{ID: "1"})
	p.Errs["EnsureLabelsExist"] = &mail.AuthError{Message: "token expired"}
	var stdout, stderr bytes.Buffer
	if code := doRun(context.Background(), e, 10, &stdout, &stderr); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "labelsweep auth") {
		t.Fatalf("stderr missing auth hint: %q", stderr.String())
	}
}

func TestDoBackfillSkipsLabeled(t *testing.T) {
	e, p := newTestEngine(labeller.Config{},
		mail.EmailSummary{ID: "1", Subject: "Already sorted"},
		mail.EmailSummary{ID: "2", Subject: "Needs a label"},
	)
	p.Labels = []mail.Label{{Name: "Work", ProviderID: "Label_1"}}
	p.Applied["1"] = []string{"Label_1"}

	var stdout, stderr bytes.Buffer
	if code := doBackfill(context.Background(), e, labeller.BackfillOptions{MaxResults: 5}, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"query: " + labeller.DefaultBackfillQuery,
		"skipped Already sorted",
		"labeled [Work] Needs a label",
		"done: 1 labeled, 1 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDoCleanup(t *testing.T) {
	e, p := newTestEngine(labeller.Config{CleanupRules: []rules.CleanupRule{
		{Label: "Low Priority", RetentionDays: 30},
		{Label: "Unknown", RetentionDays: 7},
	}},
		mail.EmailSummary{ID: "1"}, mail.EmailSummary{ID: "2"},
	)
	p.Labels = []mail.Label{{Name: "Low Priority", ProviderID: "Label_2"}}

	var stdout, stderr bytes.Buffer
	if code := doCleanup(context.Background(), e, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Low Priority") || !strings.Contains(out, "cleanup done: 2 trashed") {
		t.Fatalf("output:\n%s", out)
	}
	if strings.Contains(out, "failed") {
		t.Fatalf("unexpected failure count:\n%s", out)
	}
}

func TestDoRemove(t *testing.T) {
	p := mailtest.NewProvider(
		mail.EmailSummary{ID: "1", From: "promo@shop.io", Subject: "Deal"},
		mail.EmailSummary{ID: "2", From: "boss@work.com", Subject: "Review"},
		mail.EmailSummary{ID: "3", From: "promo@shop.io", Subject: "Another deal"},
	)
	svc := sweep.NewService(p, slogDiscard())
	svc.Clock = func() time.Time { return fixedNow }
	opts := sweep.RemoveOptions{Filter: rules.Filter{From: "promo@"}, Limit: 10, DryRun: true}

	var stdout, stderr bytes.Buffer
	if code := doRemove(context.Background(), svc, opts, &stdout, &stderr); code != 0 {
		t.Fatalf("dry run code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "[DRY] promo@shop.io | Deal") || !strings.Contains(stdout.String(), "would delete: 2 emails") {
		t.Fatalf("dry run output:\n%s", stdout.String())
	}
	if len(p.Trashed) != 0 {
		t.Fatalf("dry run trashed %v", p.Trashed)
	}

	stdout.Reset()
	opts.DryRun = false
	if code := doRemove(context.Background(), svc, opts, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "query: from:promo@") || !strings.Contains(stdout.String(), "deleted: 2 emails") {
		t.Fatalf("output:\n%s", stdout.String())
	}
	if len(p.Trashed) != 2 {
		t.Fatalf("trashed = %v", p.Trashed)
	}
}

func TestDoLabelsHidesSystemLabels(t *testing.T) {
	p := mailtest.NewProvider()
	p.Labels = []mail.Label{
		{Name: "INBOX"}, {Name: "CATEGORY_SOCIAL"}, {Name: "Work"}, {Name: "Bills"}, {Name: "YELLOW_STAR"},
	}
	var stdout, stderr bytes.Buffer
	if code := doLabels(context.Background(), p, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if got, want := stdout.String(), "  Bills\n  Work\ntotal: 2 labels\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}

	p.Errs["ListLabels"] = errors.New("boom")
	if code := doLabels(context.Background(), p, &stdout, &stderr); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

type stubSuggester struct {
	got []mail.EmailSummary
}

func (s *stubSuggester) SuggestLabels(_ context.Context, emails []mail.EmailSummary) (mail.Suggestion, error) {
	s.got = emails
	return mail.Suggestion{
		Labels:               []mail.LabelDefinition{{Name: "Receipts", Description: "Orders and invoices"}},
		CleanupRules:         []mail.SuggestedCleanup{{Label: "Receipts", RetentionDays: 90}},
		ClassificationPrompt: "Sort by purpose.",
	}, nil
}

func TestDoSuggest(t *testing.T) {
	p := mailtest.NewProvider(mail.EmailSummary{ID: "1"}, mail.EmailSummary{ID: "2"})
	s := &stubSuggester{}
	var stdout, stderr bytes.Buffer
	if code := doSuggest(context.Background(), p, s, 200, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if len(s.got) != 2 || p.FetchCalls[0].Query != rules.DefaultQuery || p.FetchCalls[0].MaxResults != 200 {
		t.Fatalf("sampled %d emails with %+v", len(s.got), p.FetchCalls)
	}
	out := stdout.String()
	for _, want := range []string{"# Suggested configuration", `name = "Receipts"`, "retention_days = 90"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "analyzing") {
		t.Fatal("progress leaked into stdout")
	}

	empty := mailtest.NewProvider()
	if code := doSuggest(context.Background(), empty, s, 10, &stdout, &stderr); code != 1 {
		t.Fatalf("empty mailbox code = %d, want 1", code)
	}
}

func TestDoPreviewFallsBack(t *testing.T) {
	p := mailtest.NewProvider(
		mail.EmailSummary{ID: "1", Subject: "Planning"},
		mail.EmailSummary{ID: "2", Subject: "Coupon inside"},
	)
	c := mailtest.NewClassifier("Work")
	c.Errs["2"] = errors.New("model unavailable")
	cfg := &config.Config{Labels: catalog, ClassificationPrompt: "be brief"}

	var stdout, stderr bytes.Buffer
	code := doPreview(context.Background(), p, classify.Batch{Classifier: c}, cfg, "in:inbox", 5, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", stdout.String())
	}
	if !strings.Contains(lines[0], "Work") || !strings.Contains(lines[0], "Planning") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Low Priority") {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if c.Prompts[0] != "be brief" {
		t.Fatalf("prompt = %q", c.Prompts[0])
	}
}

func TestDoStateShowAndClear(t *testing.T) {
	store := state.NewFileStore(fsys.NewFake(), "state.json", 100)
	store.Clock = func() time.Time { return fixedNow }
	ctx := context.Background()
	if err := store.MarkProcessed(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := doStateShow(ctx, store, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if got, want := stdout.String(), "processed: 2\nlast run:  2024-03-10T12:00:00Z\n"; got != want {
		t.Fatalf("show = %q, want %q", got, want)
	}

	stdout.Reset()
	if code := doStateClear(ctx, store, &stdout, &stderr); code != 0 {
		t.Fatalf("clear code = %d", code)
	}
	stdout.Reset()
	doStateShow(ctx, store, &stdout, &stderr)
	if !strings.HasPrefix(stdout.String(), "processed: 0\n") {
		t.Fatalf("after clear = %q", stdout.String())
	}
}

type fakeAuth struct {
	code string
	err  error
}

func (f *fakeAuth) IsAuthenticated(context.Context) bool { return f.code != "" }
func (f *fakeAuth) AuthURL(state string) string          { return "https://accounts.example/auth?state=" + state }
func (f *fakeAuth) Authenticate(_ context.Context, code string) error {
	f.code = code
	return f.err
}

func TestDoAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		resp, err := http.Get(fmt.Sprintf("http://%s/callback?state=st&code=xyz", ln.Addr()))
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	auth := &fakeAuth{}
	var stdout, stderr bytes.Buffer
	if code := doAuth(ctx, auth, ln, "/callback", "st", &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if auth.code != "xyz" {
		t.Fatalf("exchanged code = %q", auth.code)
	}
	if !strings.Contains(stdout.String(), "state=st") || !strings.Contains(stdout.String(), "Authentication successful") {
		t.Fatalf("output:\n%s", stdout.String())
	}
}

func TestDoLintFailOn(t *testing.T) {
	p := mailtest.NewProvider(mail.EmailSummary{ID: "1", From: "a@b.com", Subject: "hi"})
	svc := audit.NewService(p, slogDiscard())
	svc.Clock = func() time.Time { return fixedNow }
	set := audit.RuleSet{
		Catalog:    catalog,
		LabelRules: []rules.LabelRule{{Name: "never", Labels: []string{"Work"}, Match: rules.Filter{From: "nobody@"}}},
	}
	opts := audit.Options{Window: 24 * time.Hour}

	var stdout, stderr bytes.Buffer
	if code := doLint(context.Background(), svc, set, opts, []string{"dead"}, &stdout, &stderr); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "never: no messages matched") {
		t.Fatalf("summary:\n%s", stdout.String())
	}
	if code := doLint(context.Background(), svc, set, opts, []string{"conflict"}, &stdout, &stderr); code != 0 {
		t.Fatalf("conflict-only code = %d, want 0", code)
	}
}

func TestDoAuditPrintsReport(t *testing.T) {
	p := mailtest.NewProvider(
		mail.EmailSummary{ID: "1", From: "news@list.org", Subject: "Issue 1"},
		mail.EmailSummary{ID: "2", From: "news@list.org", Subject: "Issue 2"},
	)
	svc := audit.NewService(p, slogDiscard())
	svc.Clock = func() time.Time { return fixedNow }
	var stdout, stderr bytes.Buffer
	code := doAudit(context.Background(), svc, audit.RuleSet{Catalog: catalog}, audit.Options{Window: 24 * time.Hour}, "", &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "list.org") || !strings.Contains(stdout.String(), `from: "*@list.org"`) {
		t.Fatalf("output:\n%s", stdout.String())
	}
}
