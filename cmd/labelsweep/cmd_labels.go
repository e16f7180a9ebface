package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

var systemLabels = []string{
	"INBOX", "SENT", "DRAFT", "TRASH", "SPAM", "STARRED", "UNREAD", "IMPORTANT", "CHAT", "YELLOW_STAR",
}

func newLabelsCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List your mailbox labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmdLabels(cmd.Context(), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdLabels(ctx context.Context, stdout, stderr io.Writer) int {
	s, err := openSession(ctx, stderr)
	if err != nil {
		return fail(stderr, "labels", err)
	}
	defer s.Close()
	return doLabels(ctx, s.provider, stdout, stderr)
}

// doLabels prints user labels sorted by name. System and category labels
// are hidden.
func doLabels(ctx context.Context, p mail.Provider, stdout, stderr io.Writer) int {
	labels, err := p.ListLabels(ctx)
	if err != nil {
		return fail(stderr, "labels", err)
	}
	var names []string
	for _, l := range labels {
		if strings.HasPrefix(l.Name, "CATEGORY_") || slices.Contains(systemLabels, l.Name) {
			continue
		}
		names = append(names, l.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %s\n", name) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintf(stdout, "total: %d labels\n", len(names)) //nolint:errcheck // best-effort stdout
	return 0
}
