package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/labelsweep/internal/classify"
	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/gmail"
	"github.com/joshsymonds/labelsweep/internal/gmailctl"
	"github.com/joshsymonds/labelsweep/internal/imapmail"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rate"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/state"
)

// GmailService builds an authenticated Gmail client, either from gmailctl's
// credential directory or from the stored OAuth token.
func GmailService(ctx context.Context, opts gmail.Options, store TokenStore, logger *slog.Logger) (*gmailapi.Service, error) {
	if opts.GmailctlDir != "" {
		svc, err := (localcred.Provider{}).Service(ctx, opts.GmailctlDir)
		if err != nil {
			return nil, &mail.AuthError{Message: "load gmailctl credentials from " + opts.GmailctlDir, Err: err}
		}
		return svc, nil
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, &mail.ConfigError{Field: "provider.gmail", Message: "client_id and client_secret are required (or set gmailctl_dir)"}
	}
	ts, err := NewOAuth(opts, store, logger).TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// NewProvider builds the configured mail provider. The returned close
// function releases its limiter and connection.
func NewProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mail.Provider, func(), error) {
	switch cfg.Provider.Kind {
	case config.ProviderIMAP:
		limiter, stop := newLimiter(cfg.Provider.IMAP.RPS)
		p := imapmail.NewProvider(cfg.Provider.IMAP, limiter, logger)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Debug("imap logout failed", "err", err)
			}
			stop()
		}, nil
	case config.ProviderGmail, "":
		store := OpenTokenStore(cfg.State.TokensPath, logger)
		svc, err := GmailService(ctx, cfg.Provider.Gmail, store, logger)
		if err != nil {
			return nil, nil, err
		}
		limiter, stop := newLimiter(cfg.Provider.Gmail.RPS)
		return gmail.NewProvider(svc, limiter, logger), stop, nil
	default:
		return nil, nil, &mail.ConfigError{Field: "provider.kind", Message: "unknown provider " + cfg.Provider.Kind}
	}
}

func newLimiter(rps int) (rate.Limiter, func()) {
	if rps <= 0 {
		return rate.Unlimited{}, func() {}
	}
	tb := rate.NewTokenBucket(rps)
	return tb, tb.Stop
}

// ImportedRules runs gmailctl when enabled and converts its filters.
func ImportedRules(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gmailctl.Converted, error) {
	if !cfg.Gmailctl.ImportRules {
		return gmailctl.Converted{}, nil
	}
	export, err := gmailctl.Runner{Binary: cfg.Gmailctl.Binary, ConfigDir: cfg.Gmailctl.ConfigDir}.ExportFilters(ctx)
	if err != nil {
		return gmailctl.Converted{}, err
	}
	conv := gmailctl.Convert(export)
	logger.Info("imported gmailctl rules",
		"label_rules", len(conv.LabelRules), "trash_rules", len(conv.TrashRules), "skipped", len(conv.Skipped))
	return conv, nil
}

// NewClassifier builds the model backend and, when any label rules exist,
// wraps it so rules answer first. The bare backend is also returned for
// label suggestion.
func NewClassifier(cfg *config.Config, extra []rules.LabelRule, logger *slog.Logger) (mail.Classifier, classify.Backend, error) {
	backend, err := classify.New(cfg.Classifier, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	all := append(append([]rules.LabelRule(nil), cfg.LabelRules...), extra...)
	if len(all) == 0 {
		return backend, backend, nil
	}
	wrapped, err := classify.NewRules(all, backend)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, backend, nil
}

// OpenStore opens the configured state store. The close function is a no-op
// for file-backed state.
func OpenStore(cfg *config.Config) (state.Store, func() error, error) {
	store, err := state.Open(cfg.State.Path, cfg.State.MaxProcessedIDs)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := store.(io.Closer); ok {
		return store, c.Close, nil
	}
	return store, func() error { return nil }, nil
}

// IsAuthError reports whether err needs the user to re-authenticate.
func IsAuthError(err error) bool {
	var authErr *mail.AuthError
	return errors.As(err, &authErr) || errors.Is(err, mail.ErrNotAuthenticated)
}
