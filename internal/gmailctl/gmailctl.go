package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joshsymonds/labelsweep/internal/rules"
)

// Export mirrors the JSON payload produced by `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter represents a single Gmail filter definition.
type Filter struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Criteria FilterCriteria `json:"criteria"`
	Action   FilterAction   `json:"action"`
}

// FilterCriteria captures the subset of Gmail search predicates we replay.
type FilterCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
	List    string `json:"list,omitempty"`
}

// FilterAction describes the Gmail actions for a filter.
type FilterAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

// Label mirrors Gmail label metadata in the compile output.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Runner shells out to the gmailctl binary to obtain compiled filters.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters invokes gmailctl and parses the resulting JSON export.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary comes from the user's config
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Export{}, fmt.Errorf("run gmailctl: %w (stderr: %s)", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Export{}, fmt.Errorf("run gmailctl: %w", err)
	}
	return Decode(out)
}

// Decode parses a compile export.
func Decode(data []byte) (Export, error) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return Export{}, fmt.Errorf("decode gmailctl output: %w", err)
	}
	if len(export.Filters) == 0 && len(export.Labels) == 0 {
		return Export{}, errors.New("gmailctl returned no filters or labels")
	}
	return export, nil
}

// Converted holds the rules derived from an export.
type Converted struct {
	LabelRules []rules.LabelRule
	TrashRules []rules.Filter
	// Skipped names filters whose criteria cannot be evaluated locally.
	Skipped []string
}

// Convert turns gmailctl filters into label and auto-trash rules. Only
// from/subject criteria are locally evaluable; filters relying on to, list
// or raw queries are skipped.
func Convert(export Export) Converted {
	names := make(map[string]string, len(export.Labels))
	for _, l := range export.Labels {
		names[l.ID] = l.Name
	}

	var out Converted
	for i, f := range export.Filters {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		if name == "" {
			name = fmt.Sprintf("gmailctl-%d", i)
		}
		c := f.Criteria
		if c.Query != "" || c.To != "" || c.List != "" || (c.From == "" && c.Subject == "") {
			out.Skipped = append(out.Skipped, name)
			continue
		}
		match := rules.Filter{From: c.From, Subject: c.Subject}

		var labels []string
		trash := false
		for _, id := range f.Action.AddLabelIDs {
			switch {
			case id == "TRASH":
				trash = true
			case names[id] != "":
				labels = append(labels, names[id])
			case !strings.HasPrefix(id, "Label_") && !isSystemLabel(id):
				// Exports may reference labels by name.
				labels = append(labels, id)
			}
		}
		if trash {
			out.TrashRules = append(out.TrashRules, match)
		}
		if len(labels) > 0 {
			out.LabelRules = append(out.LabelRules, rules.LabelRule{Name: name, Labels: labels, Match: match})
		}
	}
	return out
}

func isSystemLabel(id string) bool {
	switch id {
	case "INBOX", "SPAM", "STARRED", "UNREAD", "IMPORTANT", "SENT", "DRAFT", "TRASH", "CHAT":
		return true
	}
	return strings.HasPrefix(id, "CATEGORY_")
}
