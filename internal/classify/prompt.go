package classify

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// MaxLabels caps the labels kept from one classification.
const MaxLabels = 3

const snippetPreview = 100

// BuildPrompt renders the classification request for one email.
func BuildPrompt(email mail.EmailSummary, labels []mail.LabelDefinition, systemPrompt string) string {
	var b strings.Builder
	b.WriteString("You are an email classifier. Given an email's subject, sender, and snippet, ")
	b.WriteString("classify it into ONE OR MORE of these categories:\n\n")
	for _, l := range labels {
		fmt.Fprintf(&b, "- %s: %s", l.Name, l.Description)
		if len(l.Keywords) > 0 {
			fmt.Fprintf(&b, " (keywords: %s)", strings.Join(l.Keywords, ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- Return 1-%d labels that best describe this email\n", MaxLabels)
	b.WriteString("- Use hierarchical labels when applicable (e.g., \"GitHub/Nuxt\" is more specific than \"GitHub\")\n")
	b.WriteString("- First label should be the most specific/relevant\n")
	if fb := FallbackLabel(labels); fb != "" {
		fmt.Fprintf(&b, "- If unsure, use %q\n", fb)
	}
	if systemPrompt != "" {
		b.WriteString("\nAdditional rules:\n")
		b.WriteString(systemPrompt)
		b.WriteByte('\n')
	}
	b.WriteString("\nRespond with JSON only: ")
	b.WriteString(`{"labels": ["..."], "confidence": 0.0-1.0, "reasoning": "..."}`)
	b.WriteString("\n\nEmail:\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nPreview: %s\n", email.From, email.Subject, email.Snippet)
	return b.String()
}

// BuildSuggestPrompt asks for a label catalog derived from sample mail.
func BuildSuggestPrompt(emails []mail.EmailSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these %d emails and suggest an optimal configuration for automatic email labeling.\n\n", len(emails))
	b.WriteString("Goals:\n")
	b.WriteString("- Create 5-8 distinct labels that cover all email types\n")
	b.WriteString("- Labels should be mutually exclusive (each email fits one label)\n")
	b.WriteString("- Include a \"Low Priority\" label for marketing/promotional emails\n")
	b.WriteString("- Suggest cleanup rules for transient emails (2FA codes, promotions, etc.)\n")
	b.WriteString("- Write a concise classification prompt\n\n")
	b.WriteString("Respond with JSON only: ")
	b.WriteString(`{"labels": [{"name": "...", "description": "...", "color": {"background": "#hex", "text": "#000000 or #ffffff"}}], `)
	b.WriteString(`"cleanup_rules": [{"label": "...", "retention_days": 7}], "classification_prompt": "..."}`)
	b.WriteString("\n\nEmail samples:\n")
	for i, e := range emails {
		snippet := e.Snippet
		if r := []rune(snippet); len(r) > snippetPreview {
			snippet = string(r[:snippetPreview])
		}
		fmt.Fprintf(&b, "%d. From: %s\n   Subject: %s\n   Preview: %s\n\n", i+1, e.From, e.Subject, snippet)
	}
	b.WriteString("Generate a minimal, practical configuration.")
	return b.String()
}

// FallbackLabel picks the label used when classification fails: the first
// whose name contains "low", else the first label.
func FallbackLabel(labels []mail.LabelDefinition) string {
	for _, l := range labels {
		if strings.Contains(strings.ToLower(l.Name), "low") {
			return l.Name
		}
	}
	if len(labels) > 0 {
		return labels[0].Name
	}
	return ""
}
