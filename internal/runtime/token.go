package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/labelsweep/internal/fsys"
	"github.com/joshsymonds/labelsweep/internal/mail"
)

const (
	keyringService = "labelsweep"
	tokenKey       = "gmail-oauth-token"
)

// TokenStore persists the OAuth token between runs. Load returns
// mail.ErrNotAuthenticated when nothing is stored.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Clear() error
}

// KeyringTokenStore keeps the token in the OS keyring.
type KeyringTokenStore struct {
	Ring keyring.Keyring
}

// Load implements TokenStore.
func (s KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := s.Ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, mail.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token from keyring: %w", err)
	}
	return decodeToken(item.Data)
}

// Save implements TokenStore.
func (s KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.Ring.Set(keyring.Item{Key: tokenKey, Data: data, Label: "labelsweep Gmail token"}); err != nil {
		return fmt.Errorf("write token to keyring: %w", err)
	}
	return nil
}

// Clear implements TokenStore.
func (s KeyringTokenStore) Clear() error {
	if err := s.Ring.Remove(tokenKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("remove token from keyring: %w", err)
	}
	return nil
}

// FileTokenStore keeps the token as JSON on disk.
type FileTokenStore struct {
	FS   fsys.FS
	Path string
}

// Load implements TokenStore.
func (s FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := s.FS.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, mail.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return decodeToken(data)
}

// Save implements TokenStore.
func (s FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := s.FS.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := s.FS.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.FS.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Clear implements TokenStore.
func (s FileTokenStore) Clear() error {
	if err := s.FS.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.Path, err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, mail.ErrNotAuthenticated
	}
	return &tok, nil
}

// OpenTokenStore prefers the OS keyring and falls back to a token file at
// fallbackPath when no keyring backend is available.
func OpenTokenStore(fallbackPath string, logger *slog.Logger) TokenStore {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		if logger != nil {
			logger.Debug("keyring unavailable, using token file", "path", fallbackPath, "err", err)
		}
		return FileTokenStore{FS: fsys.OSFS{}, Path: fallbackPath}
	}
	return KeyringTokenStore{Ring: ring}
}

var (
	_ TokenStore = KeyringTokenStore{}
	_ TokenStore = FileTokenStore{}
)
