package classify

import (
	"context"
	"log/slog"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// Batch classifies emails one at a time with Classifier, substituting the
// fallback label for any email that fails.
type Batch struct {
	Classifier mail.Classifier
	Logger     *slog.Logger
}

// ClassifyBatch implements mail.BatchClassifier. It only returns an error
// when ctx is cancelled.
func (b Batch) ClassifyBatch(ctx context.Context, emails []mail.EmailSummary, labels []mail.LabelDefinition, systemPrompt string) (map[string]mail.ClassificationResult, error) {
	fallback := FallbackLabel(labels)
	out := make(map[string]mail.ClassificationResult, len(emails))
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := b.Classifier.Classify(ctx, e, labels, systemPrompt)
		if err != nil {
			if b.Logger != nil {
				b.Logger.Debug("batch classify fell back", "id", e.ID, "label", fallback, "err", err)
			}
			res = mail.ClassificationResult{Labels: []string{fallback}}
			if fallback == "" {
				res.Labels = nil
			}
		}
		out[e.ID] = res
	}
	return out, nil
}

var _ mail.BatchClassifier = Batch{}
