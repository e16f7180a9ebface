package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/labelsweep/internal/imapmail"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/mail/mailtest"
	"github.com/joshsymonds/labelsweep/internal/rules"
)

var fixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newService(p *mailtest.Provider) *Service {
	svc := NewService(p, slogDiscard())
	svc.Clock = func() time.Time { return fixedNow }
	return svc
}

func TestCleanupTrashesPerRule(t *testing.T) {
	p := mailtest.NewProvider()
	p.Labels = []mail.Label{{Name: "Low Priority", ProviderID: "L1"}, {Name: "Newsletters", ProviderID: "L2"}}
	p.EmailsByQuery["label:Low-Priority before:2024/03/08"] = []mail.EmailSummary{{ID: "a"}, {ID: "b"}}
	p.EmailsByQuery["label:Newsletters before:2024/02/14"] = []mail.EmailSummary{{ID: "c"}}

	res, err := newService(p).Cleanup(context.Background(), []rules.CleanupRule{
		{Label: "Low Priority", RetentionDays: 7},
		{Label: "Missing", RetentionDays: 1},
		{Label: "Newsletters", RetentionDays: 30},
	})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", res.Deleted)
	}
	if res.ByLabel["Low Priority"] != 2 || res.ByLabel["Newsletters"] != 1 {
		t.Fatalf("unexpected by-label counts: %v", res.ByLabel)
	}
	if _, ok := res.ByLabel["Missing"]; ok {
		t.Fatalf("unresolved label should be skipped entirely")
	}
	for _, call := range p.FetchCalls {
		if call.MaxResults != CleanupBatch {
			t.Fatalf("expected max %d, got %d", CleanupBatch, call.MaxResults)
		}
	}
	if p.ListCalls != 1 {
		t.Fatalf("expected one fresh label listing, got %d", p.ListCalls)
	}
}

// keywordProvider lists labels in their IMAP keyword form.
type keywordProvider struct {
	*mailtest.Provider
}

func (keywordProvider) StoredName(label string) string { return imapmail.Keyword(label) }

func TestCleanupResolvesStoredLabelNames(t *testing.T) {
	p := mailtest.NewProvider()
	p.Labels = []mail.Label{{Name: "Low-Priority", ProviderID: "Low-Priority"}, {Name: "Bills-Tax", ProviderID: "Bills-Tax"}}
	p.EmailsByQuery["label:Low-Priority before:2024/03/08"] = []mail.EmailSummary{{ID: "a"}}
	p.EmailsByQuery["label:Bills-Tax before:2024/03/14"] = []mail.EmailSummary{{ID: "b"}}

	svc := NewService(keywordProvider{p}, slogDiscard())
	svc.Clock = func() time.Time { return fixedNow }
	res, err := svc.Cleanup(context.Background(), []rules.CleanupRule{
		{Label: "Low Priority", RetentionDays: 7},
		{Label: "Bills/Tax", RetentionDays: 1},
	})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Deleted != 2 || res.ByLabel["Low Priority"] != 1 || res.ByLabel["Bills/Tax"] != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCleanupIsolatesTrashFailures(t *testing.T) {
	p := mailtest.NewProvider()
	p.Labels = []mail.Label{{Name: "Promo", ProviderID: "L1"}}
	p.EmailsByQuery["label:Promo before:2024/03/14"] = []mail.EmailSummary{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	p.EmailErrs["b"] = errors.New("boom")

	res, err := newService(p).Cleanup(context.Background(), []rules.CleanupRule{{Label: "Promo", RetentionDays: 1}})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Deleted != 2 || res.Failed != 1 || res.ByLabel["Promo"] != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(p.Trashed) != 2 || p.Trashed[1] != "c" {
		t.Fatalf("expected trashing to continue past the failure, got %v", p.Trashed)
	}
}

func TestCleanupListLabelsFailure(t *testing.T) {
	p := mailtest.NewProvider()
	boom := errors.New("unavailable")
	p.Errs["ListLabels"] = boom
	_, err := newService(p).Cleanup(context.Background(), []rules.CleanupRule{{Label: "X", RetentionDays: 1}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestCleanupNoRules(t *testing.T) {
	p := mailtest.NewProvider()
	res, err := newService(p).Cleanup(context.Background(), nil)
	if err != nil || res.Deleted != 0 || p.ListCalls != 0 {
		t.Fatalf("expected no-op, got %+v %v (list calls %d)", res, err, p.ListCalls)
	}
}

func TestRemoveDryRun(t *testing.T) {
	p := mailtest.NewProvider(
		mail.EmailSummary{ID: "a", From: "news@shop.com", Subject: "Sale"},
		mail.EmailSummary{ID: "b", From: "news@shop.com", Subject: "Receipt"},
	)
	res, err := newService(p).Remove(context.Background(), RemoveOptions{
		Filter: rules.Filter{From: "news@", SubjectRegex: "^Sale$", OlderThan: 7},
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Query != "before:2024/03/08 from:news@" {
		t.Fatalf("unexpected query %q", res.Query)
	}
	if len(res.Matched) != 1 || res.Matched[0].ID != "a" {
		t.Fatalf("expected only a to match, got %+v", res.Matched)
	}
	if len(p.Trashed) != 0 || res.Trashed != 0 {
		t.Fatalf("dry run must not trash")
	}
	if p.FetchCalls[0].MaxResults != DefaultRemoveLimit {
		t.Fatalf("expected default limit, got %d", p.FetchCalls[0].MaxResults)
	}
}

func TestRemoveTrashes(t *testing.T) {
	p := mailtest.NewProvider(mail.EmailSummary{ID: "a"}, mail.EmailSummary{ID: "b"}, mail.EmailSummary{ID: "c"})
	res, err := newService(p).Remove(context.Background(), RemoveOptions{Filter: rules.Filter{Unread: true}, Limit: 2})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Trashed != 2 || len(p.Trashed) != 2 {
		t.Fatalf("expected 2 trashed, got %+v", res)
	}
}

func TestRemoveRejectsBadRegex(t *testing.T) {
	p := mailtest.NewProvider()
	if _, err := newService(p).Remove(context.Background(), RemoveOptions{Filter: rules.Filter{SnippetRegex: "("}}); err == nil {
		t.Fatalf("expected compile error")
	}
	if len(p.FetchCalls) != 0 {
		t.Fatalf("expected no fetch")
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
