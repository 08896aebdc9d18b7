package domain

import "time"

// EmailStatus is the three-state delivery lifecycle. "failed" only ever
// originates from a backend fetch; client logic moves logs between pending and
// sent.
type EmailStatus string

const (
	EmailSent    EmailStatus = "sent"
	EmailPending EmailStatus = "pending"
	EmailFailed  EmailStatus = "failed"
)

// EmailLog is one outbound message or inbound dealer reply. Duplicate ids from
// the backend are tolerated (logged, not rejected); an empty PropertyID marks
// a global/unlinked entry.
type EmailLog struct {
	ID            string      `json:"id"`
	To            string      `json:"to,omitempty"`
	From          string      `json:"from,omitempty"`
	Subject       string      `json:"subject,omitempty"`
	Body          string      `json:"body,omitempty"`
	Status        EmailStatus `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
	PropertyID    string      `json:"propertyId,omitempty"`
	PropertyTitle string      `json:"propertyTitle,omitempty"`
}
