// Package imapmail implements mail.Provider for plain IMAP servers. Labels
// are stored as message keywords and trashing moves mail to a trash mailbox.
package imapmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rate"
)

// Options configures the IMAP connection.
type Options struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// TLS selects implicit TLS; otherwise STARTTLS is negotiated.
	TLS          bool   `mapstructure:"tls"`
	Mailbox      string `mapstructure:"mailbox"`
	TrashMailbox string `mapstructure:"trash_mailbox"`
	RPS          int    `mapstructure:"rps"`
}

func (o Options) withDefaults() Options {
	if o.Port == "" {
		o.Port = "993"
	}
	if o.Mailbox == "" {
		o.Mailbox = "INBOX"
	}
	if o.TrashMailbox == "" {
		o.TrashMailbox = "Trash"
	}
	return o
}

// Provider holds one lazily dialled connection and serialises commands on
// it. Message ids are UIDs within Options.Mailbox.
type Provider struct {
	opts    Options
	limiter rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected *imap.SelectData
}

// NewProvider returns a provider that connects on first use.
func NewProvider(opts Options, limiter rate.Limiter, logger *slog.Logger) *Provider {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{opts: opts.withDefaults(), limiter: limiter, logger: logger}
}

// Name implements mail.Provider.
func (p *Provider) Name() string { return "imap" }

// Close logs out and drops the connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Logout().Wait()
	_ = p.client.Close()
	p.client, p.selected = nil, nil
	return err
}

// connect dials, logs in and selects the working mailbox. p.mu must be held.
func (p *Provider) connect() (*imapclient.Client, error) {
	if p.client != nil {
		return p.client, nil
	}
	addr := net.JoinHostPort(p.opts.Host, p.opts.Port)
	var (
		c   *imapclient.Client
		err error
	)
	if p.opts.TLS {
		c, err = imapclient.DialTLS(addr, nil)
	} else {
		c, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if err := c.Login(p.opts.Username, p.opts.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, &mail.AuthError{Message: "imap login failed for " + p.opts.Username, Err: err}
	}
	sel, err := c.Select(p.opts.Mailbox, nil).Wait()
	if err != nil {
		_ = c.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", p.opts.Mailbox, err)
	}
	p.logger.Debug("imap connected", "addr", addr, "mailbox", p.opts.Mailbox, "messages", sel.NumMessages)
	p.client, p.selected = c, sel
	return c, nil
}

// do runs fn on the shared connection. Transport failures drop the
// connection so the next call redials; server NO/BAD replies keep it.
func (p *Provider) do(ctx context.Context, op string, fn func(c *imapclient.Client) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.connect()
	if err != nil {
		var authErr *mail.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &mail.ProviderError{Provider: "imap", Op: op, Err: err}
	}
	if err := fn(c); err != nil {
		var serverErr *imap.Error
		if !errors.As(err, &serverErr) {
			_ = c.Close()
			p.client, p.selected = nil, nil
		}
		return &mail.ProviderError{Provider: "imap", Op: op, Err: err}
	}
	return nil
}

// ListLabels implements mail.Provider. Keywords the mailbox has seen are
// reported as labels; system flags are not.
func (p *Provider) ListLabels(ctx context.Context) ([]mail.Label, error) {
	var flags []imap.Flag
	err := p.do(ctx, "listLabels", func(c *imapclient.Client) error {
		sel, err := c.Select(p.opts.Mailbox, nil).Wait()
		if err != nil {
			return err
		}
		p.selected = sel
		flags = sel.Flags
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]mail.Label, 0, len(flags))
	for _, f := range flags {
		if strings.HasPrefix(string(f), `\`) {
			continue
		}
		out = append(out, mail.Label{Name: string(f), ProviderID: string(f)})
	}
	return out, nil
}

// StoredName implements mail.LabelNamer: labels live as keywords.
func (p *Provider) StoredName(label string) string { return Keyword(label) }

// EnsureLabelsExist implements mail.Provider. Keywords need no creation,
// but the mailbox must accept new ones.
func (p *Provider) EnsureLabelsExist(ctx context.Context, defs []mail.LabelDefinition) (map[string]string, error) {
	var permanent []imap.Flag
	err := p.do(ctx, "ensureLabelsExist", func(*imapclient.Client) error {
		permanent = p.selected.PermanentFlags
		return nil
	})
	if err != nil {
		return nil, err
	}
	open := slices.Contains(permanent, imap.FlagWildcard)
	out := make(map[string]string, len(defs))
	for _, def := range defs {
		kw := Keyword(def.Name)
		if !open && !slices.Contains(permanent, imap.Flag(kw)) {
			return nil, &mail.ProviderError{
				Provider: "imap",
				Op:       "ensureLabelsExist",
				Err:      fmt.Errorf("mailbox %s does not allow keyword %q", p.opts.Mailbox, kw),
			}
		}
		out[def.Name] = kw
	}
	return out, nil
}

// ApplyLabel implements mail.Provider.
func (p *Provider) ApplyLabel(ctx context.Context, emailID, labelID string) error {
	return p.store(ctx, "applyLabel", emailID, imap.StoreFlagsAdd, imap.Flag(labelID))
}

// RemoveLabel implements mail.Provider.
func (p *Provider) RemoveLabel(ctx context.Context, emailID, labelID string) error {
	return p.store(ctx, "removeLabel", emailID, imap.StoreFlagsDel, imap.Flag(labelID))
}

func (p *Provider) store(ctx context.Context, op, emailID string, mode imap.StoreFlagsOp, flag imap.Flag) error {
	uid, err := parseUID(emailID)
	if err != nil {
		return &mail.ProviderError{Provider: "imap", Op: op, Err: err}
	}
	return p.do(ctx, op, func(c *imapclient.Client) error {
		return c.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
			Op:     mode,
			Silent: true,
			Flags:  []imap.Flag{flag},
		}, nil).Close()
	})
}

// GetEmails implements mail.Provider. Results are newest first; page tokens
// are not supported.
func (p *Provider) GetEmails(ctx context.Context, opts mail.FetchOptions) ([]mail.EmailSummary, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 50
	}
	criteria := Criteria(opts.Query, opts.ExcludeLabels)
	section := &imap.FetchItemBodySection{Peek: true, Partial: &imap.SectionPartial{Offset: 0, Size: previewBytes}}

	var out []mail.EmailSummary
	err := p.do(ctx, "getEmails", func(c *imapclient.Client) error {
		data, err := c.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return err
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		if len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}
		msgs, err := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			UID:         true,
			Envelope:    true,
			BodySection: []*imap.FetchItemBodySection{section},
		}).Collect()
		if err != nil {
			return err
		}
		slices.SortFunc(msgs, func(a, b *imapclient.FetchMessageBuffer) int {
			switch {
			case a.UID > b.UID:
				return -1
			case a.UID < b.UID:
				return 1
			}
			return 0
		})
		for _, m := range msgs {
			out = append(out, summaryOf(m.UID, m.Envelope, m.FindBodySection(section)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasLabels implements mail.Provider.
func (p *Provider) HasLabels(ctx context.Context, emailID string, labelIDs []string) (bool, error) {
	if len(labelIDs) == 0 {
		return false, nil
	}
	uid, err := parseUID(emailID)
	if err != nil {
		return false, &mail.ProviderError{Provider: "imap", Op: "hasLabels", Err: err}
	}
	var flags []imap.Flag
	err = p.do(ctx, "hasLabels", func(c *imapclient.Client) error {
		msgs, err := c.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{UID: true, Flags: true}).Collect()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %s not found", emailID)
		}
		flags = msgs[0].Flags
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, f := range flags {
		for _, id := range labelIDs {
			if strings.EqualFold(string(f), id) {
				return true, nil
			}
		}
	}
	return false, nil
}

// TrashEmail implements mail.Provider.
func (p *Provider) TrashEmail(ctx context.Context, emailID string) error {
	uid, err := parseUID(emailID)
	if err != nil {
		return &mail.ProviderError{Provider: "imap", Op: "trashEmail", Err: err}
	}
	return p.do(ctx, "trashEmail", func(c *imapclient.Client) error {
		_, err := c.Move(imap.UIDSetNum(uid), p.opts.TrashMailbox).Wait()
		return err
	})
}

var (
	_ mail.Provider   = (*Provider)(nil)
	_ mail.LabelNamer = (*Provider)(nil)
)
