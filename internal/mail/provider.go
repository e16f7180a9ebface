package mail

import "context"

// Provider is the narrow mail-service surface the labelling engine needs.
type Provider interface {
	Name() string
	ListLabels(ctx context.Context) ([]Label, error)
	// EnsureLabelsExist creates any missing label (matched by exact name) and
	// returns the name -> provider id mapping for the whole catalog.
	EnsureLabelsExist(ctx context.Context, labels []LabelDefinition) (map[string]string, error)
	ApplyLabel(ctx context.Context, emailID, labelID string) error
	RemoveLabel(ctx context.Context, emailID, labelID string) error
	GetEmails(ctx context.Context, opts FetchOptions) ([]EmailSummary, error)
	// HasLabels reports whether the email carries any of labelIDs.
	HasLabels(ctx context.Context, emailID string, labelIDs []string) (bool, error)
	TrashEmail(ctx context.Context, emailID string) error
}

// LabelNamer is implemented by providers that store a label under a name
// derived from the catalog name. ListLabels reports the stored form.
type LabelNamer interface {
	StoredName(label string) string
}

// StoredLabelName returns the name p lists label under.
func StoredLabelName(p Provider, label string) string {
	if n, ok := p.(LabelNamer); ok {
		return n.StoredName(label)
	}
	return label
}

// Authenticator is implemented by providers with an interactive credential
// flow.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
	AuthURL(state string) string
	Authenticate(ctx context.Context, code string) error
}

// Classifier turns one email plus the label catalog into a decision.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, email EmailSummary, labels []LabelDefinition, systemPrompt string) (ClassificationResult, error)
}

// BatchClassifier classifies several emails in one call, keyed by email id.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, emails []EmailSummary, labels []LabelDefinition, systemPrompt string) (map[string]ClassificationResult, error)
}

// Suggestion is a proposed configuration derived from sample mail.
type Suggestion struct {
	Labels               []LabelDefinition `toml:"labels"`
	CleanupRules         []SuggestedCleanup `toml:"cleanup_rules"`
	ClassificationPrompt string             `toml:"classification_prompt"`
}

// SuggestedCleanup is a retention rule proposed alongside a Suggestion.
type SuggestedCleanup struct {
	Label         string `json:"label" toml:"label"`
	RetentionDays int    `json:"retention_days" toml:"retention_days"`
}

// LabelSuggester proposes a label catalog from sample mail.
type LabelSuggester interface {
	SuggestLabels(ctx context.Context, emails []EmailSummary) (Suggestion, error)
}
