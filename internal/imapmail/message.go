package imapmail

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

const (
	snippetLen = 200
	// previewBytes bounds how much of each body is fetched for the snippet.
	previewBytes = 16 << 10
)

// summaryOf builds an EmailSummary from a fetched envelope and the leading
// bytes of the raw message.
func summaryOf(uid imap.UID, env *imap.Envelope, raw []byte) mail.EmailSummary {
	s := mail.EmailSummary{
		ID:      strconv.FormatUint(uint64(uid), 10),
		Subject: "(no subject)",
		Snippet: snippetOf(raw),
	}
	if env == nil {
		return s
	}
	if env.Subject != "" {
		s.Subject = env.Subject
	}
	s.ThreadID = env.MessageID
	if !env.Date.IsZero() {
		s.Date = env.Date.Format(time.RFC1123Z)
	}
	if len(env.From) > 0 {
		from := env.From[0]
		if from.Name != "" {
			s.From = from.Name + " <" + from.Addr() + ">"
		} else {
			s.From = from.Addr()
		}
	}
	return s
}

// snippetOf returns the first text/plain part of raw, whitespace-collapsed
// and truncated. Truncated input yields whatever was readable.
func snippetOf(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && !strings.HasPrefix(ct, "text/plain") {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(part.Body, previewBytes))
		return truncate(strings.Join(strings.Fields(string(body)), " "), snippetLen)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, err
	}
	return imap.UID(n), nil
}
