// Package gmail adapts the Gmail REST API to mail.Provider.
package gmail

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/gmail/v1"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rate"
	"github.com/joshsymonds/labelsweep/internal/rules"
)

const (
	user = "me"

	// DefaultQuery is used when the caller does not narrow the listing.
	DefaultQuery = "in:inbox -label:SENT"

	listPageSize = 100
	noSubject    = "(no subject)"
)

var metadataHeaders = []string{"Subject", "From", "Date"}

// Options configures the Gmail provider and its OAuth client.
type Options struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	// GmailctlDir, when set, reuses gmailctl's credential directory instead
	// of the built-in OAuth flow.
	GmailctlDir string `mapstructure:"gmailctl_dir"`
	RPS         int    `mapstructure:"rps"`
}

// Provider implements mail.Provider over the Gmail API.
type Provider struct {
	svc     *gmail.Service
	limiter rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewProvider wraps svc. A nil limiter means calls are not throttled.
func NewProvider(svc *gmail.Service, limiter rate.Limiter, logger *slog.Logger) *Provider {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Provider{svc: svc, limiter: limiter, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && ratio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: breakerSuccess,
	})
	return p
}

// Name implements mail.Provider.
func (p *Provider) Name() string { return "gmail" }

// call waits for the limiter and runs fn through the circuit breaker.
func (p *Provider) call(ctx context.Context, op string, fn func() error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

// ListLabels implements mail.Provider.
func (p *Provider) ListLabels(ctx context.Context) ([]mail.Label, error) {
	var res *gmail.ListLabelsResponse
	err := p.call(ctx, "listLabels", func() (err error) {
		res, err = p.svc.Users.Labels.List(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]mail.Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		out = append(out, mail.Label{Name: l.Name, ProviderID: l.Id})
	}
	return out, nil
}

// EnsureLabelsExist implements mail.Provider.
func (p *Provider) EnsureLabelsExist(ctx context.Context, defs []mail.LabelDefinition) (map[string]string, error) {
	existing, err := p.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(existing))
	for _, l := range existing {
		byName[l.Name] = l.ProviderID
	}

	out := make(map[string]string, len(defs))
	for _, def := range defs {
		if id, ok := byName[def.Name]; ok {
			out[def.Name] = id
			continue
		}
		label := &gmail.Label{
			Name:                  def.Name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}
		if def.Color.Background != "" && def.Color.Text != "" {
			label.Color = &gmail.LabelColor{BackgroundColor: def.Color.Background, TextColor: def.Color.Text}
		}
		var created *gmail.Label
		err := p.call(ctx, "ensureLabelsExist", func() (err error) {
			created, err = p.svc.Users.Labels.Create(user, label).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		p.logger.Info("created label", "name", def.Name, "id", created.Id)
		byName[def.Name] = created.Id
		if created.Id != "" {
			out[def.Name] = created.Id
		}
	}
	return out, nil
}

// ApplyLabel implements mail.Provider.
func (p *Provider) ApplyLabel(ctx context.Context, emailID, labelID string) error {
	return p.modify(ctx, "applyLabel", emailID, &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

// RemoveLabel implements mail.Provider.
func (p *Provider) RemoveLabel(ctx context.Context, emailID, labelID string) error {
	return p.modify(ctx, "removeLabel", emailID, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelID}})
}

func (p *Provider) modify(ctx context.Context, op, emailID string, req *gmail.ModifyMessageRequest) error {
	return p.call(ctx, op, func() error {
		_, err := p.svc.Users.Messages.Modify(user, emailID, req).Context(ctx).Do()
		return err
	})
}

// GetEmails implements mail.Provider. Excluded labels are appended to the
// query as negated label terms.
func (p *Provider) GetEmails(ctx context.Context, opts mail.FetchOptions) ([]mail.EmailSummary, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 50
	}
	q := buildQuery(opts)

	emails := make([]mail.EmailSummary, 0, limit)
	pageToken := opts.PageToken
	for len(emails) < limit {
		var res *gmail.ListMessagesResponse
		size := min(listPageSize, limit-len(emails))
		err := p.call(ctx, "getEmails", func() (err error) {
			call := p.svc.Users.Messages.List(user).Q(q).MaxResults(int64(size))
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			res, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(res.Messages) == 0 {
			break
		}
		for _, m := range res.Messages {
			if m.Id == "" || len(emails) >= limit {
				continue
			}
			summary, err := p.summary(ctx, m.Id, m.ThreadId)
			if err != nil {
				return nil, err
			}
			emails = append(emails, summary)
		}
		pageToken = res.NextPageToken
		if pageToken == "" {
			break
		}
	}
	p.logger.Debug("listed messages", "query", q, "count", len(emails))
	return emails, nil
}

func (p *Provider) summary(ctx context.Context, id, threadID string) (mail.EmailSummary, error) {
	var msg *gmail.Message
	err := p.call(ctx, "getEmails", func() (err error) {
		msg, err = p.svc.Users.Messages.Get(user, id).
			Format("metadata").MetadataHeaders(metadataHeaders...).Context(ctx).Do()
		return err
	})
	if err != nil {
		return mail.EmailSummary{}, err
	}
	headers := map[string]string{}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if _, seen := headers[h.Name]; !seen {
				headers[h.Name] = h.Value
			}
		}
	}
	subject := headers["Subject"]
	if subject == "" {
		subject = noSubject
	}
	if msg.ThreadId != "" {
		threadID = msg.ThreadId
	}
	return mail.EmailSummary{
		ID:       id,
		ThreadID: threadID,
		Subject:  subject,
		From:     headers["From"],
		Snippet:  msg.Snippet,
		Date:     headers["Date"],
	}, nil
}

// HasLabels implements mail.Provider.
func (p *Provider) HasLabels(ctx context.Context, emailID string, labelIDs []string) (bool, error) {
	if len(labelIDs) == 0 {
		return false, nil
	}
	var msg *gmail.Message
	err := p.call(ctx, "hasLabels", func() (err error) {
		msg, err = p.svc.Users.Messages.Get(user, emailID).Format("minimal").Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, err
	}
	have := make(map[string]struct{}, len(msg.LabelIds))
	for _, id := range msg.LabelIds {
		have[id] = struct{}{}
	}
	for _, id := range labelIDs {
		if _, ok := have[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

// TrashEmail implements mail.Provider.
func (p *Provider) TrashEmail(ctx context.Context, emailID string) error {
	return p.call(ctx, "trashEmail", func() error {
		_, err := p.svc.Users.Messages.Trash(user, emailID).Context(ctx).Do()
		return err
	})
}

func buildQuery(opts mail.FetchOptions) string {
	q := opts.Query
	if q == "" {
		q = DefaultQuery
	}
	for _, name := range opts.ExcludeLabels {
		q += " -label:" + rules.LabelQueryName(name)
	}
	return q
}

var _ mail.Provider = (*Provider)(nil)
