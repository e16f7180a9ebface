package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/runtime"
)

// authTimeout bounds how long the callback server waits for the browser.
const authTimeout = 5 * time.Minute

func newAuthCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize labelsweep to manage your Gmail",
		Long: `Runs the OAuth authorization-code flow. Open the printed URL, sign in,
and the browser is redirected to a local callback server that stores the
token in the system keyring (or the configured tokens file).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdAuth(cmd.Context(), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdAuth(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail(stderr, "auth", err)
	}
	gm := cfg.Provider.Gmail
	switch {
	case cfg.Provider.Kind == config.ProviderIMAP:
		fmt.Fprintln(stdout, "imap uses the configured password; nothing to authorize") //nolint:errcheck // best-effort stdout
		return 0
	case gm.GmailctlDir != "":
		fmt.Fprintf(stdout, "using gmailctl credentials from %s; run `gmailctl init` to re-authorize\n", gm.GmailctlDir) //nolint:errcheck // best-effort stdout
		return 0
	case gm.ClientID == "" || gm.ClientSecret == "":
		return fail(stderr, "auth", &mail.ConfigError{Field: "provider.gmail", Message: "client_id and client_secret are required"})
	}

	logger := newLogger(stderr)
	o := runtime.NewOAuth(gm, runtime.OpenTokenStore(cfg.State.TokensPath, logger), logger)
	addr, path, err := runtime.CallbackAddr(o.Config.RedirectURL)
	if err != nil {
		return fail(stderr, "auth", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fail(stderr, "auth", fmt.Errorf("listen for callback on %s: %w", addr, err))
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	return doAuth(ctx, o, ln, path, uuid.NewString(), stdout, stderr)
}

// doAuth prints the consent URL, waits for the redirect on ln and exchanges
// the code. ln is closed on return.
func doAuth(ctx context.Context, auth mail.Authenticator, ln net.Listener, path, state string, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "1. Open this URL in your browser:\n\n   %s\n\n", auth.AuthURL(state)) //nolint:errcheck // best-effort stdout
	fmt.Fprintln(stdout, "2. Sign in and authorize labelsweep")                          //nolint:errcheck // best-effort stdout
	fmt.Fprintln(stdout, "3. You will be redirected back here")                            //nolint:errcheck // best-effort stdout

	code, err := runtime.ServeCallback(ctx, ln, path, state)
	if err != nil {
		return fail(stderr, "auth", err)
	}
	if err := auth.Authenticate(ctx, code); err != nil {
		return fail(stderr, "auth", err)
	}
	fmt.Fprintln(stdout, color.GreenString("Authentication successful. Token saved.")) //nolint:errcheck // best-effort stdout
	return 0
}
