// Package mail holds the domain types and capability interfaces shared by the
// labelling engine and its provider and classifier backends.
package mail

// EmailSummary is the immutable snapshot of a message as fetched from a
// provider. ID is the provider's stable message identifier and the join key
// for state, label application and rule matching.
type EmailSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
}

// LabelColor mirrors the provider's label colour pair.
type LabelColor struct {
	Background string `json:"background" mapstructure:"background" toml:"background"`
	Text       string `json:"text" mapstructure:"text" toml:"text"`
}

// LabelDefinition is a label declared in configuration. Name is the unique
// key across the pipeline; provider ids are assigned lazily.
type LabelDefinition struct {
	Name        string     `json:"name" mapstructure:"name" toml:"name"`
	Description string     `json:"description" mapstructure:"description" toml:"description"`
	Color       LabelColor `json:"color" mapstructure:"color" toml:"color"`
	Keywords    []string   `json:"keywords,omitempty" mapstructure:"keywords" toml:"keywords,omitempty"`
}

// Label is a provider-side label.
type Label struct {
	Name       string
	ProviderID string
}

// FetchOptions narrows a message listing.
type FetchOptions struct {
	MaxResults    int
	Query         string
	ExcludeLabels []string
	PageToken     string
}

// ClassificationResult is the classifier's decision for one email. Labels
// holds 1..3 names, most specific first.
type ClassificationResult struct {
	Labels     []string `json:"labels"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// LabelNames returns the names of the catalog in declaration order.
func LabelNames(defs []LabelDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	return out
}
