// Package classify provides mail.Classifier backends: hosted and local
// language models, a rule-based pre-classifier, a fallback router and a
// batch helper.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

const defaultTimeout = 60 * time.Second

// textModel is a language model that completes a prompt with text.
type textModel interface {
	Name() string
	generate(ctx context.Context, prompt string) (string, error)
}

// modelClassifier adapts a textModel to mail.Classifier and
// mail.LabelSuggester.
type modelClassifier struct {
	model textModel
}

func (m modelClassifier) Name() string { return m.model.Name() }

func (m modelClassifier) Classify(ctx context.Context, email mail.EmailSummary, labels []mail.LabelDefinition, systemPrompt string) (mail.ClassificationResult, error) {
	text, err := m.model.generate(ctx, BuildPrompt(email, labels, systemPrompt))
	if err != nil {
		return mail.ClassificationResult{}, &mail.ClassificationError{EmailID: email.ID, Err: err}
	}
	res, err := ParseResult(text, labels)
	if err != nil {
		return mail.ClassificationResult{}, &mail.ClassificationError{EmailID: email.ID, Err: err}
	}
	return res, nil
}

func (m modelClassifier) SuggestLabels(ctx context.Context, emails []mail.EmailSummary) (mail.Suggestion, error) {
	text, err := m.model.generate(ctx, BuildSuggestPrompt(emails))
	if err != nil {
		return mail.Suggestion{}, fmt.Errorf("%s suggest: %w", m.model.Name(), err)
	}
	return ParseSuggestion(text)
}

// postJSON sends payload and decodes a 200 response into out. 429 maps to
// mail.RateLimitError.
func postJSON(ctx context.Context, client *http.Client, backend, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", backend, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &mail.RateLimitError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s API error (%d): %s", backend, resp.StatusCode, respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error (%d): %s", backend, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}
