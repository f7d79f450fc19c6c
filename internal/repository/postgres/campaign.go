package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/sequence-engine/internal/campaign"
	"github.com/ignite/sequence-engine/internal/domain"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var listID sql.NullString
	var snapshot []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, list_id, name, status, created_by,
		       total_steps, total_recipients, quota_snapshot,
		       sent_count, failed_count, cancelled_count,
		       started_at, completed_at
		FROM campaigns
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&c.ID, &c.OrganizationID, &listID, &c.Name, &c.Status, &c.CreatedBy,
		&c.TotalSteps, &c.TotalRecipients, &snapshot,
		&c.SentCount, &c.FailedCount, &c.CancelledCount,
		&c.StartedAt, &c.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", campaign.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if listID.Valid {
		c.ListID = &listID.String
	}
	if len(snapshot) > 0 {
		c.Snapshot = &domain.QuotaSnapshot{}
		if err := json.Unmarshal(snapshot, c.Snapshot); err != nil {
			return nil, fmt.Errorf("decode quota snapshot: %w", err)
		}
	}
	return c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, list_id, name, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, c.ID, c.OrganizationID, c.ListID, c.Name, c.Status, c.CreatedBy)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", campaign.ErrNotFound, id)
	}
	return nil
}

// UpdateStatusIf is a compare-and-set: the status changes only if the current
// value is one of from. Timestamps for started/completed are maintained here
// so callers can't forget them.
func (r *CampaignRepo) UpdateStatusIf(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error) {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = $2,
			started_at = CASE WHEN $2 = 'active' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status = ANY($3)
	`, id, to, pq.Array(fromStr))
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	return n > 0, nil
}

func (r *CampaignRepo) SetTotals(ctx context.Context, id string, steps, recipients int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET total_steps = $2, total_recipients = $3, updated_at = NOW()
		WHERE id = $1
	`, id, steps, recipients)
	if err != nil {
		return fmt.Errorf("set campaign totals: %w", err)
	}
	return nil
}

func (r *CampaignRepo) SaveSnapshot(ctx context.Context, id string, snap *domain.QuotaSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode quota snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE campaigns SET quota_snapshot = $2, updated_at = NOW()
		WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("save quota snapshot: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Steps(ctx context.Context, campaignID string) ([]domain.CampaignStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, step_order, template_id, trigger_type,
		       schedule_time, delay_minutes, COALESCE(timezone, ''),
		       reply_to_step_id, reply_type
		FROM campaign_steps
		WHERE campaign_id = $1
		ORDER BY step_order ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignStep
	for rows.Next() {
		var st domain.CampaignStep
		var templateID, replyTo, replyType sql.NullString
		var scheduleTime sql.NullTime
		if err := rows.Scan(
			&st.ID, &st.CampaignID, &st.StepOrder, &templateID, &st.Trigger,
			&scheduleTime, &st.DelayMinutes, &st.Timezone,
			&replyTo, &replyType,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if templateID.Valid {
			st.TemplateID = &templateID.String
		}
		if scheduleTime.Valid {
			t := scheduleTime.Time.UTC()
			st.ScheduleTime = &t
		}
		if replyTo.Valid {
			st.ReplyToStepID = &replyTo.String
		}
		if replyType.Valid {
			st.ReplyType = &replyType.String
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) CreateStep(ctx context.Context, st *domain.CampaignStep) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_steps
			(id, campaign_id, step_order, template_id, trigger_type,
			 schedule_time, delay_minutes, timezone, reply_to_step_id, reply_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, st.ID, st.CampaignID, st.StepOrder, st.TemplateID, st.Trigger,
		st.ScheduleTime, st.DelayMinutes, st.Timezone, st.ReplyToStepID, st.ReplyType)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

func (r *CampaignRepo) DeleteStep(ctx context.Context, stepID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaign_steps WHERE id = $1`, stepID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: step %s", campaign.ErrNotFound, stepID)
	}
	return nil
}

func (r *CampaignRepo) StepHasSentMail(ctx context.Context, stepID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_messages
			WHERE step_id = $1 AND status IN ('sent', 'delivered', 'bounced', 'failed')
		)
	`, stepID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check step sent mail: %w", err)
	}
	return exists, nil
}

func (r *CampaignRepo) MessageStates(ctx context.Context, campaignID string) ([]campaign.MessageState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, step_id, contact_id, status, scheduled_send_at
		FROM email_messages
		WHERE campaign_id = $1
		ORDER BY scheduled_send_at ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list message states: %w", err)
	}
	defer rows.Close()

	var out []campaign.MessageState
	for rows.Next() {
		var m campaign.MessageState
		if err := rows.Scan(&m.ID, &m.StepID, &m.ContactID, &m.Status, &m.ScheduledSendAt); err != nil {
			return nil, fmt.Errorf("scan message state: %w", err)
		}
		m.ScheduledSendAt = m.ScheduledSendAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) InsertMessage(ctx context.Context, m *domain.EmailMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_messages
			(id, campaign_id, step_id, contact_id, status, scheduled_send_at, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.CampaignID, m.StepID, m.ContactID, m.Status, m.ScheduledSendAt, m.QueuedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RequeueMessage flips a CANCELLED message back to QUEUED with a fresh send
// time. The status guard in the WHERE clause enforces that cancelled is the
// only terminal status a message ever leaves.
func (r *CampaignRepo) RequeueMessage(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_messages
		SET status = 'queued', scheduled_send_at = $2, queued_at = NOW()
		WHERE id = $1 AND status = 'cancelled'
	`, id, at)
	if err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: message %s is not cancelled", campaign.ErrNotFound, id)
	}
	return nil
}

// CancelPending cancels every QUEUED/SENDING message of the campaign.
// Messages already in a terminal status are untouched; calling this twice
// is a no-op the second time.
func (r *CampaignRepo) CancelPending(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_messages SET status = 'cancelled'
		WHERE campaign_id = $1 AND status IN ('queued', 'sending')
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending messages: %w", err)
	}
	return int(n), nil
}

// CompleteIfFinished flips an ACTIVE or PAUSED campaign to COMPLETED once
// every expected email reached a sent-terminal status. The whole check runs
// as one conditional UPDATE, so concurrent callers cannot double-complete.
func (r *CampaignRepo) CompleteIfFinished(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns c SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE c.id = $1
		  AND c.status IN ('active', 'paused')
		  AND c.total_steps * c.total_recipients > 0
		  AND (
			SELECT COUNT(*) FROM email_messages m
			WHERE m.campaign_id = c.id
			  AND m.status IN ('sent', 'delivered', 'bounced', 'failed')
		  ) >= c.total_steps * c.total_recipients
	`, id)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	return n > 0, nil
}
