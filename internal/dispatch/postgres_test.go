package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresScheduler_ScheduleAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sequence_work_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresScheduler(db)
	id, err := s.ScheduleAt(context.Background(), Job{
		Kind:       JobMessage,
		CampaignID: "camp-1",
		StepID:     "step-1",
		MessageID:  "msg-1",
	}, time.Now().Add(time.Hour))

	require.NoError(t, err)
	assert.NotEmpty(t, id, "a job ID is generated when none is supplied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScheduler_CancelCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sequence_work_items").
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	s := NewPostgresScheduler(db)
	n, err := s.CancelCampaign(context.Background(), "camp-1")

	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScheduler_CancelIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Second cancel matches zero rows; still no error.
	mock.ExpectExec("UPDATE sequence_work_items").
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresScheduler(db)
	assert.NoError(t, s.Cancel(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScheduler_ClaimDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runAt := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "kind", "campaign_id", "step_id", "message_id", "run_at"}).
		AddRow("job-1", "message", "camp-1", "step-1", "msg-1", runAt).
		AddRow("job-2", "step", "camp-1", "step-2", "", runAt)
	mock.ExpectQuery("UPDATE sequence_work_items").
		WithArgs("worker-a", 10).
		WillReturnRows(rows)

	s := NewPostgresScheduler(db)
	jobs, err := s.ClaimDue(context.Background(), "worker-a", 10)

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, JobMessage, jobs[0].Kind)
	assert.Equal(t, "msg-1", jobs[0].MessageID)
	assert.Equal(t, JobStep, jobs[1].Kind)
	assert.Empty(t, jobs[1].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
