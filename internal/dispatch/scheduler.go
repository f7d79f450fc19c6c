// Package dispatch is the delivery-scheduling collaborator: it records when
// work is due and lets the engine cancel it. The engine only produces
// instants and job payloads here; it never delivers anything itself.
package dispatch

import (
	"context"
	"time"
)

// JobKind distinguishes step-level catch-up jobs from per-message sends.
type JobKind string

const (
	// JobStep re-checks a step's contact coverage when it comes due (used
	// for future SCHEDULE steps and post-resume catch-up).
	JobStep JobKind = "step"
	// JobMessage delivers one email message when it comes due.
	JobMessage JobKind = "message"
)

// Job identifies one unit of scheduled work.
type Job struct {
	ID         string
	Kind       JobKind
	CampaignID string
	StepID     string
	MessageID  string
	RunAt      time.Time
}

// Scheduler records and cancels future work. Implementations must make
// cancellation idempotent and must never touch work whose message already
// reached a sent-terminal status.
type Scheduler interface {
	// ScheduleAt records the job to run at the given instant. Returns the
	// job ID.
	ScheduleAt(ctx context.Context, job Job, at time.Time) (string, error)

	// Cancel removes one pending job. Unknown or already-executed jobs are
	// a no-op.
	Cancel(ctx context.Context, jobID string) error

	// CancelCampaign removes every pending job for the campaign. Returns
	// how many were cancelled.
	CancelCampaign(ctx context.Context, campaignID string) (int, error)
}
