// Package mailtest provides in-memory fakes of the mail capability
// interfaces for tests.
package mailtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// Provider is an in-memory [mail.Provider]. Errors can be injected per
// method name (Errs) or per message id (EmailErrs, consulted by ApplyLabel,
// TrashEmail and HasLabels).
type Provider struct {
	mu sync.Mutex

	Emails        []mail.EmailSummary
	EmailsByQuery map[string][]mail.EmailSummary
	Labels        []mail.Label
	// Applied maps message id to provider label ids.
	Applied map[string][]string
	Trashed []string

	Errs      map[string]error
	EmailErrs map[string]error

	FetchCalls  []mail.FetchOptions
	EnsureCalls int
	ListCalls   int
	HasCalls    int

	nextID int
}

// NewProvider returns a Provider serving emails for every query.
func NewProvider(emails ...mail.EmailSummary) *Provider {
	return &Provider{
		Emails:        emails,
		EmailsByQuery: map[string][]mail.EmailSummary{},
		Applied:       map[string][]string{},
		Errs:          map[string]error{},
		EmailErrs:     map[string]error{},
	}
}

// Name implements mail.Provider.
func (p *Provider) Name() string { return "fake" }

// ListLabels implements mail.Provider.
func (p *Provider) ListLabels(context.Context) ([]mail.Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListCalls++
	if err := p.Errs["ListLabels"]; err != nil {
		return nil, err
	}
	return slices.Clone(p.Labels), nil
}

// EnsureLabelsExist creates any missing label with a generated id.
func (p *Provider) EnsureLabelsExist(_ context.Context, defs []mail.LabelDefinition) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EnsureCalls++
	if err := p.Errs["EnsureLabelsExist"]; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(defs))
	for _, def := range defs {
		if id, ok := p.labelID(def.Name); ok {
			out[def.Name] = id
			continue
		}
		p.nextID++
		id := fmt.Sprintf("Label_%d", p.nextID)
		p.Labels = append(p.Labels, mail.Label{Name: def.Name, ProviderID: id})
		out[def.Name] = id
	}
	return out, nil
}

// ApplyLabel implements mail.Provider.
func (p *Provider) ApplyLabel(_ context.Context, emailID, labelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failFor("ApplyLabel", emailID); err != nil {
		return err
	}
	if !slices.Contains(p.Applied[emailID], labelID) {
		p.Applied[emailID] = append(p.Applied[emailID], labelID)
	}
	return nil
}

// RemoveLabel implements mail.Provider.
func (p *Provider) RemoveLabel(_ context.Context, emailID, labelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failFor("RemoveLabel", emailID); err != nil {
		return err
	}
	p.Applied[emailID] = slices.DeleteFunc(p.Applied[emailID], func(id string) bool { return id == labelID })
	return nil
}

// GetEmails returns EmailsByQuery[opts.Query] when present, else Emails,
// minus trashed messages and messages carrying an excluded label name.
func (p *Provider) GetEmails(_ context.Context, opts mail.FetchOptions) ([]mail.EmailSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FetchCalls = append(p.FetchCalls, opts)
	if err := p.Errs["GetEmails"]; err != nil {
		return nil, err
	}
	src, ok := p.EmailsByQuery[opts.Query]
	if !ok {
		src = p.Emails
	}
	var out []mail.EmailSummary
	for _, e := range src {
		if slices.Contains(p.Trashed, e.ID) || p.carriesAny(e.ID, opts.ExcludeLabels) {
			continue
		}
		out = append(out, e)
		if opts.MaxResults > 0 && len(out) == opts.MaxResults {
			break
		}
	}
	return out, nil
}

// HasLabels implements mail.Provider.
func (p *Provider) HasLabels(_ context.Context, emailID string, labelIDs []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HasCalls++
	if err := p.failFor("HasLabels", emailID); err != nil {
		return false, err
	}
	for _, id := range labelIDs {
		if slices.Contains(p.Applied[emailID], id) {
			return true, nil
		}
	}
	return false, nil
}

// TrashEmail implements mail.Provider.
func (p *Provider) TrashEmail(_ context.Context, emailID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failFor("TrashEmail", emailID); err != nil {
		return err
	}
	p.Trashed = append(p.Trashed, emailID)
	return nil
}

// LabelNamesOf returns the names of labels applied to emailID.
func (p *Provider) LabelNamesOf(emailID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, id := range p.Applied[emailID] {
		for _, l := range p.Labels {
			if l.ProviderID == id {
				names = append(names, l.Name)
			}
		}
	}
	return names
}

func (p *Provider) failFor(method, emailID string) error {
	if err := p.Errs[method]; err != nil {
		return err
	}
	return p.EmailErrs[emailID]
}

func (p *Provider) labelID(name string) (string, bool) {
	for _, l := range p.Labels {
		if l.Name == name {
			return l.ProviderID, true
		}
	}
	return "", false
}

func (p *Provider) carriesAny(emailID string, names []string) bool {
	for _, name := range names {
		if id, ok := p.labelID(name); ok && slices.Contains(p.Applied[emailID], id) {
			return true
		}
	}
	return false
}

// Classifier is a scripted [mail.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Results by message id; Default is used when an id is absent.
	Results map[string]mail.ClassificationResult
	Default mail.ClassificationResult
	Errs    map[string]error

	Calls   []string
	Prompts []string
}

// NewClassifier returns a Classifier answering def for every message.
func NewClassifier(def ...string) *Classifier {
	return &Classifier{
		Results: map[string]mail.ClassificationResult{},
		Default: mail.ClassificationResult{Labels: def},
		Errs:    map[string]error{},
	}
}

// Name implements mail.Classifier.
func (c *Classifier) Name() string { return "fake" }

// Classify implements mail.Classifier.
func (c *Classifier) Classify(_ context.Context, email mail.EmailSummary, _ []mail.LabelDefinition, prompt string) (mail.ClassificationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, email.ID)
	c.Prompts = append(c.Prompts, prompt)
	if err := c.Errs[email.ID]; err != nil {
		return mail.ClassificationResult{}, err
	}
	if res, ok := c.Results[email.ID]; ok {
		return res, nil
	}
	return c.Default, nil
}

var (
	_ mail.Provider   = (*Provider)(nil)
	_ mail.Classifier = (*Classifier)(nil)
)
