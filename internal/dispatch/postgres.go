package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresScheduler implements Scheduler on a sequence_work_items table.
// The dispatch worker claims due items with FOR UPDATE SKIP LOCKED, so any
// number of worker instances can poll the same table safely.
type PostgresScheduler struct {
	db *sql.DB
}

// NewPostgresScheduler creates a scheduler writing to the given database.
func NewPostgresScheduler(db *sql.DB) *PostgresScheduler {
	return &PostgresScheduler{db: db}
}

// ScheduleAt inserts a pending work item due at the given instant.
func (s *PostgresScheduler) ScheduleAt(ctx context.Context, job Job, at time.Time) (string, error) {
	id := job.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_work_items (
			id, kind, campaign_id, step_id, message_id,
			status, run_at, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'pending', $6, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, string(job.Kind), job.CampaignID, job.StepID, job.MessageID, at.UTC())
	if err != nil {
		return "", fmt.Errorf("schedule %s work item for campaign %s: %w", job.Kind, job.CampaignID, err)
	}
	return id, nil
}

// Cancel marks one pending/claimed item cancelled. Idempotent.
func (s *PostgresScheduler) Cancel(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, jobID)
	if err != nil {
		return fmt.Errorf("cancel work item %s: %w", jobID, err)
	}
	return nil
}

// CancelCampaign marks every pending/claimed item of the campaign cancelled.
// Items already done or failed are untouched.
func (s *PostgresScheduler) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'cancelled', updated_at = NOW()
		WHERE campaign_id = $1 AND status IN ('pending', 'claimed')
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel work items for campaign %s: %w", campaignID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimDue atomically claims up to limit due items for this worker.
// SKIP LOCKED keeps concurrent workers from claiming the same rows.
func (s *PostgresScheduler) ClaimDue(ctx context.Context, workerID string, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'claimed', claimed_by = $1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM sequence_work_items
			WHERE status = 'pending' AND run_at <= NOW()
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, campaign_id, step_id, COALESCE(message_id, ''), run_at
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due work items: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var kind string
		if err := rows.Scan(&j.ID, &kind, &j.CampaignID, &j.StepID, &j.MessageID, &j.RunAt); err != nil {
			return nil, err
		}
		j.Kind = JobKind(kind)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkDone finalizes a claimed item.
func (s *PostgresScheduler) MarkDone(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'done', updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, jobID)
	return err
}

// MarkFailed records a claimed item's failure reason.
func (s *PostgresScheduler) MarkFailed(ctx context.Context, jobID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, jobID, reason)
	return err
}

// ReclaimStuck returns claimed items older than the given age to pending so
// another worker can pick them up after a crash.
func (s *PostgresScheduler) ReclaimStuck(ctx context.Context, age time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequence_work_items
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'claimed' AND claimed_at < NOW() - ($1 || ' seconds')::interval
	`, int(age.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck work items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
