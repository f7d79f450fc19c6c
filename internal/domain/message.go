package domain

import "time"

// MessageStatus enumerates the lifecycle of one scheduled email.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageBounced   MessageStatus = "bounced"
	MessageFailed    MessageStatus = "failed"
	MessageCancelled MessageStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal messages are
// immutable, with one exception: CANCELLED may go back to QUEUED on resume.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageSent, MessageDelivered, MessageBounced, MessageFailed, MessageCancelled:
		return true
	}
	return false
}

// IsSentTerminal reports whether the message actually left (or definitively
// failed to leave) for this contact: SENT, DELIVERED, BOUNCED or FAILED.
// These are never re-queued; CANCELLED is.
func (s MessageStatus) IsSentTerminal() bool {
	return s.IsTerminal() && s != MessageCancelled
}

// EmailMessage is one scheduled unit of work for (campaign, step, contact).
// At most one non-terminal message may exist per (step, contact) at any time.
type EmailMessage struct {
	ID         string        `json:"id" db:"id"`
	CampaignID string        `json:"campaign_id" db:"campaign_id"`
	StepID     string        `json:"step_id" db:"step_id"`
	ContactID  string        `json:"contact_id" db:"contact_id"`
	Status     MessageStatus `json:"status" db:"status"`

	// ScheduledSendAt is the send-time calculator's output: the exact UTC
	// instant this message is due.
	ScheduledSendAt time.Time  `json:"scheduled_send_at" db:"scheduled_send_at"`
	QueuedAt        time.Time  `json:"queued_at" db:"queued_at"`
	SentAt          *time.Time `json:"sent_at" db:"sent_at"`
}
