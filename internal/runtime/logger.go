package runtime

import (
	"io"
	"log/slog"
	"os"
)

// DefaultLogger logs text to stderr at Info.
func DefaultLogger() *slog.Logger {
	return NewLogger(os.Stderr, false)
}

// NewLogger logs text to w, at Debug when verbose is set.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
