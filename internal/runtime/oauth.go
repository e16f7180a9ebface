package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/joshsymonds/labelsweep/internal/gmail"
	"github.com/joshsymonds/labelsweep/internal/mail"
)

// DefaultRedirectURL is where the local callback server listens.
const DefaultRedirectURL = "http://localhost:3000/callback"

// OAuth runs the Gmail authorization-code flow and keeps the resulting
// token in Store.
type OAuth struct {
	Config *oauth2.Config
	Store  TokenStore
	Logger *slog.Logger
}

// NewOAuth configures the flow from the Gmail provider options.
func NewOAuth(opts gmail.Options, store TokenStore, logger *slog.Logger) *OAuth {
	redirect := opts.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &OAuth{
		Config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  redirect,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailModifyScope, gmailapi.GmailLabelsScope},
		},
		Store:  store,
		Logger: logger,
	}
}

// IsAuthenticated implements mail.Authenticator.
func (o *OAuth) IsAuthenticated(context.Context) bool {
	tok, err := o.Store.Load()
	return err == nil && (tok.AccessToken != "" || tok.RefreshToken != "")
}

// AuthURL implements mail.Authenticator.
func (o *OAuth) AuthURL(state string) string {
	return o.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Authenticate implements mail.Authenticator by exchanging code and storing
// the token.
func (o *OAuth) Authenticate(ctx context.Context, code string) error {
	tok, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return &mail.AuthError{Message: "exchange authorization code", Err: err}
	}
	if err := o.Store.Save(tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// TokenSource returns a refreshing source over the stored token. Refreshed
// tokens are written back to Store.
func (o *OAuth) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := o.Store.Load()
	if err != nil {
		if errors.Is(err, mail.ErrNotAuthenticated) {
			return nil, &mail.AuthError{Message: "no stored token, run `labelsweep auth` first", Err: err}
		}
		return nil, err
	}
	return &persistingTokenSource{
		src:     o.Config.TokenSource(ctx, tok),
		current: tok,
		save:    o.Store.Save,
		logger:  o.Logger,
	}, nil
}

// persistingTokenSource saves the token whenever the wrapped source
// refreshes it.
type persistingTokenSource struct {
	mu      sync.Mutex
	src     oauth2.TokenSource
	current *oauth2.Token
	save    func(*oauth2.Token) error
	logger  *slog.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.AccessToken != tok.AccessToken {
		s.current = tok
		if err := s.save(tok); err != nil {
			s.logger.Warn("failed to persist refreshed token", "err", err)
		}
	}
	return tok, nil
}

var _ mail.Authenticator = (*OAuth)(nil)

// ServeCallback serves the OAuth redirect on ln until one request carrying
// state arrives, and returns its authorization code.
func ServeCallback(ctx context.Context, ln net.Listener, path, state string) (string, error) {
	if path == "" {
		path = "/callback"
	}
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	var once sync.Once
	deliver := func(r result) { once.Do(func() { results <- r }) }

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if msg := q.Get("error"); msg != "" {
			http.Error(w, "authorization failed: "+msg, http.StatusBadRequest)
			deliver(result{err: &mail.AuthError{Message: "authorization denied: " + msg}})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		_, _ = fmt.Fprintln(w, "Authentication successful. You can close this tab.")
		deliver(result{code: code})
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(result{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-results:
		return r.code, r.err
	}
}

// CallbackAddr returns the listen address and path for a redirect URL.
func CallbackAddr(redirectURL string) (addr, path string, err error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", "", fmt.Errorf("parse redirect url: %w", err)
	}
	if u.Host == "" {
		return "", "", &mail.ConfigError{Field: "provider.gmail.redirect_url", Message: "must include host and port"}
	}
	addr = u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return addr, path, nil
}
