package labeller

import "github.com/joshsymonds/labelsweep/internal/mail"

// Status is the kind of a progress event.
type Status string

// Progress statuses, emitted in pipeline order.
const (
	StatusProcessing Status = "processing"
	StatusLabeled    Status = "labeled"
	StatusSkipped    Status = "skipped"
	StatusTrashed    Status = "trashed"
	StatusError      Status = "error"
)

// EmailRef identifies the email a progress event is about.
type EmailRef struct {
	ID      string
	Subject string
}

// Progress is one observer notification. Current is 1-based.
type Progress struct {
	Current int
	Total   int
	Email   EmailRef
	Labels  []string
	Status  Status
	Err     error
}

// Observer receives progress synchronously, in iteration order.
type Observer interface {
	Observe(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

// Observe implements Observer.
func (f ObserverFunc) Observe(p Progress) { f(p) }

func refOf(e mail.EmailSummary) EmailRef {
	return EmailRef{ID: e.ID, Subject: e.Subject}
}
