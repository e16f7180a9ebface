package imapmail

import (
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/joshsymonds/labelsweep/internal/rules"
)

// Keyword is the IMAP keyword a label name is stored as. It uses the same
// dash folding as label search terms so "label:Bills/Tax" and the label
// "Bills/Tax" resolve to one keyword.
func Keyword(name string) string {
	folded := rules.LabelQueryName(name)
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r <= ' ' || r >= 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`(){%*"\]`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Criteria translates the search-query dialect used throughout labelsweep
// into an IMAP SEARCH. Mailbox selectors are dropped because the provider
// works on a single mailbox; unrecognised terms become full-text searches.
func Criteria(query string, exclude []string) *imap.SearchCriteria {
	c := &imap.SearchCriteria{}
	for _, tok := range strings.Fields(query) {
		neg := false
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			neg = true
			tok = tok[1:]
		}
		key, val, ok := strings.Cut(tok, ":")
		if !ok || val == "" {
			addText(c, tok, neg)
			continue
		}
		switch strings.ToLower(key) {
		case "in":
		case "label":
			addLabel(c, val, neg)
		case "is":
			addState(c, strings.ToLower(val), neg)
		case "before":
			if t, ok := rules.ParseBeforeQuery("before:" + val); ok {
				c.Before = t
			}
		case "after":
			if t, ok := rules.ParseBeforeQuery("before:" + val); ok {
				c.Since = t
			}
		case "from", "to", "subject":
			field := imap.SearchCriteriaHeaderField{Key: headerKey(key), Value: val}
			if neg {
				c.Not = append(c.Not, imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{field}})
			} else {
				c.Header = append(c.Header, field)
			}
		case "larger":
			c.Larger = rules.ParseSize(val)
		case "smaller":
			c.Smaller = rules.ParseSize(val)
		default:
			addText(c, tok, neg)
		}
	}
	for _, name := range exclude {
		c.NotFlag = append(c.NotFlag, imap.Flag(Keyword(name)))
	}
	return c
}

func addText(c *imap.SearchCriteria, text string, neg bool) {
	if neg {
		c.Not = append(c.Not, imap.SearchCriteria{Text: []string{text}})
		return
	}
	c.Text = append(c.Text, text)
}

func addFlag(c *imap.SearchCriteria, flag imap.Flag, set bool) {
	if set {
		c.Flag = append(c.Flag, flag)
	} else {
		c.NotFlag = append(c.NotFlag, flag)
	}
}

func addLabel(c *imap.SearchCriteria, name string, neg bool) {
	switch strings.ToUpper(name) {
	case "INBOX", "SENT":
		return
	case "UNREAD":
		addFlag(c, imap.FlagSeen, neg)
	case "STARRED":
		addFlag(c, imap.FlagFlagged, !neg)
	default:
		addFlag(c, imap.Flag(Keyword(name)), !neg)
	}
}

func addState(c *imap.SearchCriteria, state string, neg bool) {
	switch state {
	case "unread":
		addFlag(c, imap.FlagSeen, neg)
	case "read":
		addFlag(c, imap.FlagSeen, !neg)
	case "starred":
		addFlag(c, imap.FlagFlagged, !neg)
	}
}

func headerKey(key string) string {
	switch strings.ToLower(key) {
	case "from":
		return "From"
	case "to":
		return "To"
	default:
		return "Subject"
	}
}
