package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// Backend classifies mail and can propose a label catalog.
type Backend interface {
	mail.Classifier
	mail.LabelSuggester
}

// Fallback routes to Secondary whenever Primary fails.
type Fallback struct {
	Primary   Backend
	Secondary Backend
	Logger    *slog.Logger
}

// Name implements mail.Classifier.
func (f *Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Classify implements mail.Classifier.
func (f *Fallback) Classify(ctx context.Context, email mail.EmailSummary, labels []mail.LabelDefinition, systemPrompt string) (mail.ClassificationResult, error) {
	res, err := f.Primary.Classify(ctx, email, labels, systemPrompt)
	if err == nil {
		return res, nil
	}
	f.Logger.Warn("classifier failed, falling back",
		"primary", f.Primary.Name(), "secondary", f.Secondary.Name(), "reason", failureKind(err), "err", err)
	res, err2 := f.Secondary.Classify(ctx, email, labels, systemPrompt)
	if err2 != nil {
		return mail.ClassificationResult{}, &mail.ClassificationError{
			EmailID: email.ID,
			Err:     errors.Join(err, err2),
		}
	}
	return res, nil
}

// SuggestLabels implements mail.LabelSuggester.
func (f *Fallback) SuggestLabels(ctx context.Context, emails []mail.EmailSummary) (mail.Suggestion, error) {
	s, err := f.Primary.SuggestLabels(ctx, emails)
	if err == nil {
		return s, nil
	}
	f.Logger.Warn("suggest failed, falling back", "primary", f.Primary.Name(), "reason", failureKind(err), "err", err)
	s, err2 := f.Secondary.SuggestLabels(ctx, emails)
	if err2 != nil {
		return mail.Suggestion{}, fmt.Errorf("suggest: %w", errors.Join(err, err2))
	}
	return s, nil
}

func failureKind(err error) string {
	var rl *mail.RateLimitError
	if errors.As(err, &rl) {
		return "quota"
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return "connection"
	}
	return "error"
}
