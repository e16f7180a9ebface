package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// RenderSuggestion writes s as a TOML fragment that can be pasted into a
// labelsweep.toml.
func RenderSuggestion(w io.Writer, s mail.Suggestion) error {
	if _, err := fmt.Fprintln(w, "# Suggested configuration. Review before use."); err != nil {
		return err
	}
	enc := toml.NewEncoder(w)
	enc.Indent = "  "
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode suggestion: %w", err)
	}
	return nil
}
