package campaign

import (
	"context"
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
)

// MessageState is the slim per-message view the scheduler works from: one
// row per (step, contact) message with its status and scheduled time.
type MessageState struct {
	ID              string
	StepID          string
	ContactID       string
	Status          domain.MessageStatus
	ScheduledSendAt time.Time
}

// Repository defines the persistence contract for campaigns, steps and
// email messages. Implementations must be safe for concurrent use and must
// back UpdateStatusIf and CompleteIfFinished with conditional updates, since
// the auto-completion path races with explicit pause/resume calls.
type Repository interface {
	// Get returns a campaign. Returns ErrNotFound if it doesn't exist or is
	// soft-deleted.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// Create inserts a new campaign in draft status.
	Create(ctx context.Context, c *domain.Campaign) error

	// SoftDelete marks the campaign deleted without removing rows.
	SoftDelete(ctx context.Context, id string) error

	// UpdateStatusIf transitions the campaign's status only if its current
	// status is one of from (compare-and-swap). Returns whether the update
	// applied.
	UpdateStatusIf(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error)

	// SetTotals records the expected step and recipient counts.
	SetTotals(ctx context.Context, id string, steps, recipients int) error

	// SaveSnapshot persists the computed quota distribution for audit/resume.
	SaveSnapshot(ctx context.Context, id string, snap *domain.QuotaSnapshot) error

	// Steps returns the campaign's steps ordered by step_order ascending.
	Steps(ctx context.Context, campaignID string) ([]domain.CampaignStep, error)

	// CreateStep appends a step to the campaign.
	CreateStep(ctx context.Context, step *domain.CampaignStep) error

	// DeleteStep removes a step that has no sent emails.
	DeleteStep(ctx context.Context, stepID string) error

	// StepHasSentMail reports whether any of the step's messages reached a
	// sent-terminal status.
	StepHasSentMail(ctx context.Context, stepID string) (bool, error)

	// MessageStates returns one row per message of the campaign.
	MessageStates(ctx context.Context, campaignID string) ([]MessageState, error)

	// InsertMessage creates a queued message. Duplicate prevention is the
	// caller's job (check MessageStates first); the implementation may also
	// enforce a partial unique index on non-terminal (step, contact) pairs.
	InsertMessage(ctx context.Context, m *domain.EmailMessage) error

	// RequeueMessage moves a CANCELLED message back to QUEUED with a fresh
	// send time. Messages in any other status are left alone.
	RequeueMessage(ctx context.Context, id string, at time.Time) error

	// CancelPending transactionally marks all QUEUED/SENDING messages of
	// the campaign CANCELLED and returns how many changed. Idempotent;
	// never touches sent-terminal messages.
	CancelPending(ctx context.Context, campaignID string) (int, error)

	// CompleteIfFinished marks the campaign COMPLETED iff it is currently
	// ACTIVE or PAUSED and every expected email reached a sent-terminal
	// status. The whole check-and-set is one conditional update.
	CompleteIfFinished(ctx context.Context, id string) (bool, error)
}
