package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/fsys"
	"github.com/joshsymonds/labelsweep/internal/gmail"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/state"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
	NewLogger(&buf, true).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("verbose logger dropped debug line: %q", buf.String())
	}
}

func TestTokenStores(t *testing.T) {
	stores := map[string]func() TokenStore{
		"file":    func() TokenStore { return FileTokenStore{FS: fsys.NewFake(), Path: "creds/tokens.json"} },
		"keyring": func() TokenStore { return KeyringTokenStore{Ring: keyring.NewArrayKeyring(nil)} },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open()
			if _, err := s.Load(); !errors.Is(err, mail.ErrNotAuthenticated) {
				t.Fatalf("empty load err = %v, want ErrNotAuthenticated", err)
			}
			tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
			if err := s.Save(tok); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.AccessToken != "a" || got.RefreshToken != "r" {
				t.Fatalf("token = %+v", got)
			}
			if err := s.Clear(); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if _, err := s.Load(); !errors.Is(err, mail.ErrNotAuthenticated) {
				t.Fatalf("load after clear err = %v", err)
			}
			if err := s.Clear(); err != nil {
				t.Fatalf("second clear: %v", err)
			}
		})
	}
}

func TestFileTokenStoreWritesAtomically(t *testing.T) {
	fs := fsys.NewFake()
	s := FileTokenStore{FS: fs, Path: "creds/tokens.json"}
	if err := s.Save(&oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := fs.Files["creds/tokens.json.tmp"]; ok {
		t.Fatal("temp file left behind")
	}
	if !fs.Dirs["creds"] {
		t.Fatal("parent directory not created")
	}
}

func TestOAuthAuthURLAndState(t *testing.T) {
	o := NewOAuth(gmail.Options{ClientID: "id", ClientSecret: "secret"}, FileTokenStore{FS: fsys.NewFake(), Path: "t.json"}, slogDiscard())
	u := o.AuthURL("xyz")
	for _, want := range []string{"client_id=id", "state=xyz", "access_type=offline", "gmail.modify", "localhost%3A3000%2Fcallback"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url %q missing %q", u, want)
		}
	}
	if o.IsAuthenticated(context.Background()) {
		t.Fatal("authenticated without a token")
	}
	if _, err := o.TokenSource(context.Background()); !IsAuthError(err) {
		t.Fatalf("token source err = %v, want auth error", err)
	}
}

type stubSource struct {
	tokens []string
	i      int
}

func (s *stubSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: s.tokens[s.i]}
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestPersistingTokenSourceSavesRefreshes(t *testing.T) {
	var saved []string
	ts := &persistingTokenSource{
		src:     &stubSource{tokens: []string{"a", "b", "b"}},
		current: &oauth2.Token{AccessToken: "a"},
		save:    func(tok *oauth2.Token) error { saved = append(saved, tok.AccessToken); return nil },
		logger:  slogDiscard(),
	}
	for i := 0; i < 3; i++ {
		if _, err := ts.Token(); err != nil {
			t.Fatalf("token: %v", err)
		}
	}
	if len(saved) != 1 || saved[0] != "b" {
		t.Fatalf("saved = %v, want [b]", saved)
	}
}

func TestServeCallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := fmt.Sprintf("http://%s/callback", ln.Addr())

	go func() {
		time.Sleep(20 * time.Millisecond)
		resp, err := http.Get(base + "?state=wrong&code=nope")
		if err == nil {
			resp.Body.Close()
		}
		resp, err = http.Get(base + "?state=s1&code=the-code")
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := ServeCallback(ctx, ln, "/callback", "s1")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if code != "the-code" {
		t.Fatalf("code = %q", code)
	}
}

func TestServeCallbackCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ServeCallback(ctx, ln, "/callback", "s"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCallbackAddr(t *testing.T) {
	addr, path, err := CallbackAddr("http://localhost:3000/callback")
	if err != nil || addr != "localhost:3000" || path != "/callback" {
		t.Fatalf("got %q %q %v", addr, path, err)
	}
	addr, path, err = CallbackAddr("http://localhost")
	if err != nil || addr != "localhost:80" || path != "/" {
		t.Fatalf("got %q %q %v", addr, path, err)
	}
	if _, _, err := CallbackAddr("/just/a/path"); err == nil {
		t.Fatal("expected error without host")
	}
}

func TestNewClassifierWrapsRules(t *testing.T) {
	cfg := &config.Config{
		Labels:     []mail.LabelDefinition{{Name: "Receipts"}},
		LabelRules: []rules.LabelRule{{Name: "bills", Labels: []string{"Receipts"}, Match: rules.Filter{From: "billing@"}}},
	}
	cfg.Classifier.Kind = "ollama"

	c, backend, err := NewClassifier(cfg, nil, slogDiscard())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	if !strings.HasPrefix(c.Name(), "rules+") {
		t.Fatalf("classifier name = %q", c.Name())
	}
	res, err := c.Classify(context.Background(), mail.EmailSummary{ID: "1", From: "billing@shop.com"}, cfg.Labels, "")
	if err != nil || len(res.Labels) != 1 || res.Labels[0] != "Receipts" {
		t.Fatalf("classify = %+v, %v", res, err)
	}
	if backend == nil || backend.Name() == c.Name() {
		t.Fatalf("backend = %v", backend)
	}

	cfg.LabelRules = nil
	c, _, err = NewClassifier(cfg, nil, slogDiscard())
	if err != nil || strings.HasPrefix(c.Name(), "rules+") {
		t.Fatalf("unwrapped classifier = %v, %v", c, err)
	}
}

func TestNewProviderRequiresGmailCredentials(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Kind = config.ProviderGmail
	cfg.State.TokensPath = t.TempDir() + "/tokens.json"
	_, _, err := NewProvider(context.Background(), cfg, slogDiscard())
	var cfgErr *mail.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestNewProviderIMAPIsLazy(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Kind = config.ProviderIMAP
	cfg.Provider.IMAP.Host = "imap.invalid"
	cfg.Provider.IMAP.RPS = 5
	p, closeFn, err := NewProvider(context.Background(), cfg, slogDiscard())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer closeFn()
	if p.Name() != "imap" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		path   string
		sqlite bool
	}{
		{dir + "/state.json", false},
		{dir + "/state.db", true},
	} {
		cfg := &config.Config{State: config.StateConfig{Path: tc.path, MaxProcessedIDs: 10}}
		store, closeFn, err := OpenStore(cfg)
		if err != nil {
			t.Fatalf("open %s: %v", tc.path, err)
		}
		_, isSQLite := store.(*state.SQLiteStore)
		if isSQLite != tc.sqlite {
			t.Fatalf("%s: sqlite = %v", tc.path, isSQLite)
		}
		if err := closeFn(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
