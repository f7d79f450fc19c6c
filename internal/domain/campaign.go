package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a sequence campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents a multi-step email sequence bound to one contact list.
// Scheduling state (the quota snapshot) lives on the campaign so a resume
// can be audited against the distribution that was in force when it ran.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	ListID         *string        `json:"list_id" db:"list_id"`
	Name           string         `json:"name" db:"name"`
	Status         CampaignStatus `json:"status" db:"status"`

	// CreatedBy is the sending identity whose daily quota this campaign
	// charges. All quota ledger reads and commits key on it.
	CreatedBy string `json:"created_by" db:"created_by"`

	TotalSteps      int `json:"total_steps" db:"total_steps"`
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`

	// Snapshot of the last computed quota distribution. Replaces the old
	// untyped settings blob; persisted as JSONB but always marshalled from
	// this struct.
	Snapshot *QuotaSnapshot `json:"quota_snapshot,omitempty" db:"quota_snapshot"`

	// Progress counters maintained by the dispatch worker. Auto-completion
	// fires when every expected email reaches a terminal status.
	SentCount      int `json:"sent_count" db:"sent_count"`
	FailedCount    int `json:"failed_count" db:"failed_count"`
	CancelledCount int `json:"cancelled_count" db:"cancelled_count"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	DeletedAt   *time.Time `json:"deleted_at" db:"deleted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state. COMPLETED is
// only weakly terminal: appending a new step re-opens the campaign.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}

// TriggerType controls when a step's first email may go out.
type TriggerType string

const (
	// TriggerImmediate dispatches the step as soon as the campaign activates.
	TriggerImmediate TriggerType = "immediate"
	// TriggerSchedule holds the step until its schedule time (past-due
	// schedule times are caught up immediately).
	TriggerSchedule TriggerType = "schedule"
)

// MinDelayMinutes is the floor for intra-day spacing between consecutive
// emails of one step.
const MinDelayMinutes = 0.5

// CampaignStep is one ordered stage of a sequence. StepOrder is 1-based and
// contiguous across the campaign's steps.
type CampaignStep struct {
	ID         string      `json:"id" db:"id"`
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	StepOrder  int         `json:"step_order" db:"step_order"`
	TemplateID *string     `json:"template_id" db:"template_id"`
	Trigger    TriggerType `json:"trigger_type" db:"trigger_type"`

	// ScheduleTime is required iff Trigger == TriggerSchedule. Stored UTC;
	// its wall-clock time-of-day in Timezone is projected onto later days.
	ScheduleTime *time.Time `json:"schedule_time" db:"schedule_time"`

	// DelayMinutes is the minimum spacing between consecutive emails of this
	// step on the same day. Floor is MinDelayMinutes.
	DelayMinutes float64 `json:"delay_minutes" db:"delay_minutes"`

	// Timezone is the IANA zone used for day boundaries and schedule-time
	// interpretation.
	Timezone string `json:"timezone" db:"timezone"`

	// ReplyToStepID marks this step as conditional on a prior step's
	// engagement event instead of the full contact list.
	ReplyToStepID *string `json:"reply_to_step_id" db:"reply_to_step_id"`
	ReplyType     *string `json:"reply_type" db:"reply_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Delay returns the inter-email spacing as a duration, clamped to the floor.
func (s *CampaignStep) Delay() time.Duration {
	m := s.DelayMinutes
	if m < MinDelayMinutes {
		m = MinDelayMinutes
	}
	return time.Duration(m * float64(time.Minute))
}

// Validate checks the step's intrinsic invariants.
func (s *CampaignStep) Validate() error {
	if s.StepOrder < 1 {
		return fmt.Errorf("step order must be >= 1, got %d", s.StepOrder)
	}
	if s.DelayMinutes < MinDelayMinutes {
		return fmt.Errorf("delay_minutes %.2f below floor %.1f", s.DelayMinutes, MinDelayMinutes)
	}
	switch s.Trigger {
	case TriggerImmediate:
	case TriggerSchedule:
		if s.ScheduleTime == nil {
			return fmt.Errorf("schedule step %d is missing schedule_time", s.StepOrder)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", s.Trigger)
	}
	if s.Timezone == "" {
		return fmt.Errorf("step %d has no timezone", s.StepOrder)
	}
	return nil
}

// ValidateSteps checks cross-step invariants: at least one step, 1-based
// contiguous ordering with no gaps, and each step individually valid.
func ValidateSteps(steps []CampaignStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("campaign has no steps")
	}
	for i, s := range steps {
		if s.StepOrder != i+1 {
			return fmt.Errorf("step order gap: position %d has order %d", i+1, s.StepOrder)
		}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
