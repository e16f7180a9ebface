// labelsweep labels incoming mail with rules and a language model, and
// trashes what has outlived its retention.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/runtime"
	"github.com/joshsymonds/labelsweep/internal/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is returned by RunE functions that already reported their error.
var errExit = errors.New("exit")

var (
	// configFlag is the --config path. Empty searches the working directory
	// and ~/.config/labelsweep.
	configFlag  string
	verboseFlag bool
)

// run executes the CLI with args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "labelsweep: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "labelsweep",
		Short:         "labelsweep labels and cleans up a mailbox",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "labelsweep: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "",
		"path to the config file (default: ./labelsweep.yaml or ~/.config/labelsweep/)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log at debug level")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newRunCmd(stdout, stderr),
		newBackfillCmd(stdout, stderr),
		newCleanupCmd(stdout, stderr),
		newRemoveCmd(stdout, stderr),
		newAuthCmd(stdout, stderr),
		newLabelsCmd(stdout, stderr),
		newAuditCmd(stdout, stderr),
		newLintCmd(stdout, stderr),
		newSuggestCmd(stdout, stderr),
		newPreviewCmd(stdout, stderr),
		newStateCmd(stdout, stderr),
	)
	return root
}

// loadConfig reads and validates the file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(stderr io.Writer) *slog.Logger {
	return runtime.NewLogger(stderr, verboseFlag)
}

// fail reports err for the named command and returns exit code 1.
func fail(stderr io.Writer, name string, err error) int {
	fmt.Fprintf(stderr, "labelsweep %s: %v\n", name, err) //nolint:errcheck // best-effort stderr
	if runtime.IsAuthError(err) {
		fmt.Fprintln(stderr, "hint: run `labelsweep auth` to sign in") //nolint:errcheck // best-effort stderr
	}
	return 1
}

// startTelemetry installs the metric exporter when one is configured. The
// returned function flushes it.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Warn("metrics export disabled", "err", err)
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Debug("metrics flush failed", "err", err)
		}
	}
}

// closers runs cleanup functions in reverse order of registration.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}
