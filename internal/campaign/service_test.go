package campaign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sequence-engine/internal/dispatch"
	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/schedule"
)

var svcNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	campaigns map[string]*domain.Campaign
	steps     map[string][]domain.CampaignStep
	messages  []*domain.EmailMessage
	snapshots map[string]*domain.QuotaSnapshot
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		campaigns: make(map[string]*domain.Campaign),
		steps:     make(map[string][]domain.CampaignStep),
		snapshots: make(map[string]*domain.QuotaSnapshot),
	}
}

func (r *fakeRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.campaigns[c.ID] = c
	return nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, id string) error {
	c, ok := r.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	now := svcNow
	c.DeletedAt = &now
	return nil
}

func (r *fakeRepo) UpdateStatusIf(_ context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return false, ErrNotFound
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) SetTotals(_ context.Context, id string, steps, recipients int) error {
	c, ok := r.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalSteps = steps
	c.TotalRecipients = recipients
	return nil
}

func (r *fakeRepo) SaveSnapshot(_ context.Context, id string, snap *domain.QuotaSnapshot) error {
	r.snapshots[id] = snap
	if c, ok := r.campaigns[id]; ok {
		c.Snapshot = snap
	}
	return nil
}

func (r *fakeRepo) Steps(_ context.Context, campaignID string) ([]domain.CampaignStep, error) {
	return append([]domain.CampaignStep(nil), r.steps[campaignID]...), nil
}

func (r *fakeRepo) CreateStep(_ context.Context, step *domain.CampaignStep) error {
	r.steps[step.CampaignID] = append(r.steps[step.CampaignID], *step)
	return nil
}

func (r *fakeRepo) DeleteStep(_ context.Context, stepID string) error {
	for cid, steps := range r.steps {
		for i, st := range steps {
			if st.ID == stepID {
				r.steps[cid] = append(steps[:i], steps[i+1:]...)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *fakeRepo) StepHasSentMail(_ context.Context, stepID string) (bool, error) {
	for _, m := range r.messages {
		if m.StepID == stepID && m.Status.IsSentTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) MessageStates(_ context.Context, campaignID string) ([]MessageState, error) {
	var out []MessageState
	for _, m := range r.messages {
		if m.CampaignID != campaignID {
			continue
		}
		out = append(out, MessageState{
			ID: m.ID, StepID: m.StepID, ContactID: m.ContactID,
			Status: m.Status, ScheduledSendAt: m.ScheduledSendAt,
		})
	}
	return out, nil
}

func (r *fakeRepo) InsertMessage(_ context.Context, m *domain.EmailMessage) error {
	cp := *m
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *fakeRepo) RequeueMessage(_ context.Context, id string, sendAt time.Time) error {
	for _, m := range r.messages {
		if m.ID == id {
			if m.Status != domain.MessageCancelled {
				return fmt.Errorf("message %s is %s, not cancelled", id, m.Status)
			}
			m.Status = domain.MessageQueued
			m.ScheduledSendAt = sendAt
			return nil
		}
	}
	return ErrNotFound
}

func (r *fakeRepo) CancelPending(_ context.Context, campaignID string) (int, error) {
	n := 0
	for _, m := range r.messages {
		if m.CampaignID == campaignID &&
			(m.Status == domain.MessageQueued || m.Status == domain.MessageSending) {
			m.Status = domain.MessageCancelled
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CompleteIfFinished(_ context.Context, campaignID string) (bool, error) {
	c, ok := r.campaigns[campaignID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != domain.CampaignActive && c.Status != domain.CampaignPaused {
		return false, nil
	}
	expected := c.TotalSteps * c.TotalRecipients
	done := 0
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status.IsSentTerminal() {
			done++
		}
	}
	if expected > 0 && done >= expected {
		c.Status = domain.CampaignCompleted
		return true, nil
	}
	return false, nil
}

// fakeSvcLedger is a Ledger over an in-memory usage map.
type fakeSvcLedger struct {
	limit int
	used  map[int]int
}

func newFakeSvcLedger(limit int) *fakeSvcLedger {
	return &fakeSvcLedger{limit: limit, used: make(map[int]int)}
}

func (l *fakeSvcLedger) remaining(day int) int {
	rem := l.limit - l.used[day]
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (l *fakeSvcLedger) RemainingToday(_ context.Context, _, _ string) (int, error) {
	return l.remaining(0), nil
}

func (l *fakeSvcLedger) RemainingForDays(_ context.Context, _ string, startDay, endDay int, _ string) (map[int]int, error) {
	out := make(map[int]int)
	for d := startDay; d <= endDay; d++ {
		out[d] = l.remaining(d)
	}
	return out, nil
}

func (l *fakeSvcLedger) DailyLimit(_ context.Context, _ string) (int, error) {
	return l.limit, nil
}

func (l *fakeSvcLedger) Commit(_ context.Context, _ string, day, n int, _ string) error {
	l.used[day] += n
	return nil
}

// fakeSource serves a fixed subscriber list.
type fakeSource struct{ ids []string }

func (s *fakeSource) Subscribed(_ context.Context, _ string) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *fakeSource) SubscribedCount(_ context.Context, _ string) (int, error) {
	return len(s.ids), nil
}

// fakeSched records scheduled jobs.
type fakeSched struct {
	jobs []dispatch.Job
	at   map[string]time.Time
}

func newFakeSched() *fakeSched { return &fakeSched{at: make(map[string]time.Time)} }

func (s *fakeSched) ScheduleAt(_ context.Context, job dispatch.Job, runAt time.Time) (string, error) {
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(s.jobs))
	}
	job.RunAt = runAt
	s.jobs = append(s.jobs, job)
	s.at[job.ID] = runAt
	return job.ID, nil
}

func (s *fakeSched) Cancel(_ context.Context, jobID string) error {
	delete(s.at, jobID)
	return nil
}

func (s *fakeSched) CancelCampaign(_ context.Context, campaignID string) (int, error) {
	n := 0
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			if _, live := s.at[j.ID]; live {
				delete(s.at, j.ID)
				n++
			}
		}
	}
	return n, nil
}

func contactIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("contact-%03d", i)
	}
	return ids
}

func strptr(s string) *string { return &s }

type svcFixture struct {
	svc    *Service
	repo   *fakeRepo
	ledger *fakeSvcLedger
	sched  *fakeSched
}

func newFixture(limit, contacts int) *svcFixture {
	repo := newFakeRepo()
	ledger := newFakeSvcLedger(limit)
	sched := newFakeSched()
	svc := NewService(repo, &fakeSource{ids: contactIDs(contacts)}, ledger, sched)
	svc.SetClock(func() time.Time { return svcNow })
	return &svcFixture{svc: svc, repo: repo, ledger: ledger, sched: sched}
}

func (f *svcFixture) seedCampaign(status domain.CampaignStatus, steps ...domain.CampaignStep) *domain.Campaign {
	c := &domain.Campaign{
		ID:             "camp-1",
		OrganizationID: "org-1",
		Name:           "Launch",
		Status:         status,
		ListID:         strptr("list-1"),
		CreatedBy:      "identity-1",
	}
	f.repo.campaigns[c.ID] = c
	for i := range steps {
		steps[i].CampaignID = c.ID
	}
	f.repo.steps[c.ID] = steps
	return c
}

func immediateStep(id string, order int) domain.CampaignStep {
	return domain.CampaignStep{
		ID:           id,
		StepOrder:    order,
		TemplateID:   strptr("tmpl-1"),
		Trigger:      domain.TriggerImmediate,
		DelayMinutes: 1,
		Timezone:     "UTC",
	}
}

func campaignMessages(repo *fakeRepo, status domain.MessageStatus) []*domain.EmailMessage {
	var out []*domain.EmailMessage
	for _, m := range repo.messages {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

func TestActivateSpreadsOverQuotaDays(t *testing.T) {
	f := newFixture(50, 120)
	f.ledger.used[0] = 40 // 10 left today
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	require.NoError(t, f.svc.Activate(context.Background(), "camp-1"))

	c, err := f.repo.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, c.Status)
	assert.Equal(t, 1, c.TotalSteps)
	assert.Equal(t, 120, c.TotalRecipients)

	require.Len(t, f.repo.messages, 120)
	snap := f.repo.snapshots["camp-1"]
	require.NotNil(t, snap)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, []domain.DayAllocation{
		{Day: 0, StartIndex: 0, EndIndex: 9, QuotaUsed: 10},
		{Day: 1, StartIndex: 10, EndIndex: 59, QuotaUsed: 50},
		{Day: 2, StartIndex: 60, EndIndex: 109, QuotaUsed: 50},
		{Day: 3, StartIndex: 110, EndIndex: 119, QuotaUsed: 10},
	}, snap.Steps[0].Allocations)

	// Quota consumed per day.
	assert.Equal(t, 50, f.ledger.used[0])
	assert.Equal(t, 50, f.ledger.used[1])
	assert.Equal(t, 50, f.ledger.used[2])
	assert.Equal(t, 10, f.ledger.used[3])

	// One work item per message, plus the step item.
	assert.Len(t, f.sched.jobs, 121)
}

func TestActivateSendTimesAreOrdered(t *testing.T) {
	f := newFixture(50, 20)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	require.NoError(t, f.svc.Activate(context.Background(), "camp-1"))

	require.Len(t, f.repo.messages, 20)
	for i := 1; i < len(f.repo.messages); i++ {
		prev, cur := f.repo.messages[i-1], f.repo.messages[i]
		assert.True(t, cur.ScheduledSendAt.After(prev.ScheduledSendAt),
			"message %d (%s) not after %d (%s)", i, cur.ScheduledSendAt, i-1, prev.ScheduledSendAt)
		assert.Equal(t, time.Minute, cur.ScheduledSendAt.Sub(prev.ScheduledSendAt))
	}
	assert.Equal(t, svcNow, f.repo.messages[0].ScheduledSendAt)
}

func TestActivateIsNoopWhenAlreadyActive(t *testing.T) {
	f := newFixture(50, 10)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))

	require.NoError(t, f.svc.Activate(context.Background(), "camp-1"))
	assert.Empty(t, f.repo.messages)
}

func TestActivatePreconditions(t *testing.T) {
	t.Run("no steps", func(t *testing.T) {
		f := newFixture(50, 10)
		f.seedCampaign(domain.CampaignDraft)
		err := f.svc.Activate(context.Background(), "camp-1")
		assert.Error(t, err)
	})

	t.Run("missing template", func(t *testing.T) {
		f := newFixture(50, 10)
		st := immediateStep("step-1", 1)
		st.TemplateID = nil
		f.seedCampaign(domain.CampaignDraft, st)
		err := f.svc.Activate(context.Background(), "camp-1")
		assert.True(t, errors.Is(err, ErrMissingTemplate))
	})

	t.Run("missing list", func(t *testing.T) {
		f := newFixture(50, 10)
		c := f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
		c.ListID = nil
		err := f.svc.Activate(context.Background(), "camp-1")
		assert.True(t, errors.Is(err, ErrMissingList))
	})

	t.Run("empty list", func(t *testing.T) {
		f := newFixture(50, 0)
		f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
		err := f.svc.Activate(context.Background(), "camp-1")
		assert.True(t, errors.Is(err, ErrNoContacts))
	})

	t.Run("from cancelled", func(t *testing.T) {
		f := newFixture(50, 10)
		f.seedCampaign(domain.CampaignCancelled, immediateStep("step-1", 1))
		err := f.svc.Activate(context.Background(), "camp-1")
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("nothing persisted on failure", func(t *testing.T) {
		f := newFixture(50, 0)
		c := f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
		_ = f.svc.Activate(context.Background(), "camp-1")
		assert.Equal(t, domain.CampaignDraft, c.Status)
		assert.Empty(t, f.repo.messages)
		assert.Empty(t, f.sched.jobs)
	})
}

func TestRestrictModeRejectsOversizedCampaign(t *testing.T) {
	f := newFixture(10, 50) // 3-day window holds 30
	f.svc.SetRestrictMode(true, 3)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	err := f.svc.Activate(context.Background(), "camp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, quota.ErrQuotaExceeded))

	c, _ := f.repo.Get(context.Background(), "camp-1")
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Empty(t, f.repo.messages)
}

func TestRestrictModeAllowsFittingCampaign(t *testing.T) {
	f := newFixture(10, 25)
	f.svc.SetRestrictMode(true, 3)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	require.NoError(t, f.svc.Activate(context.Background(), "camp-1"))
	assert.Len(t, f.repo.messages, 25)
}

func TestPauseCancelsPendingKeepsSent(t *testing.T) {
	f := newFixture(100, 25)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	for i := 0; i < 25; i++ {
		status := domain.MessageQueued
		if i < 5 {
			status = domain.MessageSent
		}
		f.repo.messages = append(f.repo.messages, &domain.EmailMessage{
			ID: fmt.Sprintf("msg-%d", i), CampaignID: "camp-1", StepID: "step-1",
			ContactID: fmt.Sprintf("contact-%03d", i), Status: status,
			ScheduledSendAt: svcNow.Add(time.Duration(i) * time.Minute),
		})
	}

	require.NoError(t, f.svc.Pause(context.Background(), "camp-1"))

	c, _ := f.repo.Get(context.Background(), "camp-1")
	assert.Equal(t, domain.CampaignPaused, c.Status)
	assert.Len(t, campaignMessages(f.repo, domain.MessageCancelled), 20)
	assert.Len(t, campaignMessages(f.repo, domain.MessageSent), 5)
}

func TestPauseFromDraftFails(t *testing.T) {
	f := newFixture(100, 5)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
	err := f.svc.Pause(context.Background(), "camp-1")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestResumeRequeuesCancelledWithoutDuplicates(t *testing.T) {
	f := newFixture(100, 25)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx, "camp-1"))
	require.Len(t, f.repo.messages, 25)

	// 5 go out, then the campaign is paused.
	for i := 0; i < 5; i++ {
		f.repo.messages[i].Status = domain.MessageSent
	}
	require.NoError(t, f.svc.Pause(ctx, "camp-1"))
	require.Len(t, campaignMessages(f.repo, domain.MessageCancelled), 20)

	require.NoError(t, f.svc.Resume(ctx, "camp-1"))

	// Re-queue, not re-create: still exactly one message per contact.
	assert.Len(t, f.repo.messages, 25)
	assert.Len(t, campaignMessages(f.repo, domain.MessageSent), 5)
	assert.Len(t, campaignMessages(f.repo, domain.MessageQueued), 20)

	// Every resumed message lands strictly after the last sent one.
	lastSent := f.repo.messages[4].ScheduledSendAt
	for _, m := range campaignMessages(f.repo, domain.MessageQueued) {
		assert.True(t, m.ScheduledSendAt.After(lastSent),
			"resumed message at %s not after last sent %s", m.ScheduledSendAt, lastSent)
	}
}

func TestResumeCompletedSchedulesNothingNew(t *testing.T) {
	// COMPLETED -> ACTIVE is a legal transition, so resuming a completed
	// campaign succeeds, but full contact coverage means no new messages.
	f := newFixture(100, 5)
	f.seedCampaign(domain.CampaignCompleted, immediateStep("step-1", 1))
	for i := 0; i < 5; i++ {
		f.repo.messages = append(f.repo.messages, &domain.EmailMessage{
			ID: fmt.Sprintf("msg-%d", i), CampaignID: "camp-1", StepID: "step-1",
			ContactID: fmt.Sprintf("contact-%03d", i), Status: domain.MessageSent,
			ScheduledSendAt: svcNow.Add(-time.Hour),
		})
	}
	require.NoError(t, f.svc.Resume(context.Background(), "camp-1"))
	assert.Len(t, f.repo.messages, 5)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(100, 10)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	f.repo.messages = append(f.repo.messages, &domain.EmailMessage{
		ID: "msg-1", CampaignID: "camp-1", StepID: "step-1",
		ContactID: "contact-000", Status: domain.MessageQueued,
	})

	ctx := context.Background()
	require.NoError(t, f.svc.Cancel(ctx, "camp-1"))
	c, _ := f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignCancelled, c.Status)
	assert.Len(t, campaignMessages(f.repo, domain.MessageCancelled), 1)

	// Idempotent; nothing leads out of cancelled.
	require.NoError(t, f.svc.Cancel(ctx, "camp-1"))
	assert.True(t, errors.Is(f.svc.Activate(ctx, "camp-1"), ErrInvalidTransition))
}

func TestCompleteFromActiveAndPaused(t *testing.T) {
	ctx := context.Background()

	f := newFixture(100, 5)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	require.NoError(t, f.svc.Complete(ctx, "camp-1"))
	c, _ := f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignCompleted, c.Status)

	f = newFixture(100, 5)
	f.seedCampaign(domain.CampaignPaused, immediateStep("step-1", 1))
	require.NoError(t, f.svc.Complete(ctx, "camp-1"))
	c, _ = f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignCompleted, c.Status)

	f = newFixture(100, 5)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
	assert.Error(t, f.svc.Complete(ctx, "camp-1"))
}

func TestRecalcProgressAutoCompletes(t *testing.T) {
	f := newFixture(100, 2)
	c := f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	c.TotalSteps = 1
	c.TotalRecipients = 2
	f.repo.messages = append(f.repo.messages,
		&domain.EmailMessage{ID: "m1", CampaignID: "camp-1", StepID: "step-1",
			ContactID: "contact-000", Status: domain.MessageDelivered},
		&domain.EmailMessage{ID: "m2", CampaignID: "camp-1", StepID: "step-1",
			ContactID: "contact-001", Status: domain.MessageQueued},
	)

	ctx := context.Background()
	require.NoError(t, f.svc.RecalcProgress(ctx, "camp-1"))
	got, _ := f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignActive, got.Status)

	f.repo.messages[1].Status = domain.MessageBounced
	require.NoError(t, f.svc.RecalcProgress(ctx, "camp-1"))
	got, _ = f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignCompleted, got.Status)
}

func TestDeleteOnlyDraftOrCompleted(t *testing.T) {
	ctx := context.Background()

	f := newFixture(100, 5)
	f.seedCampaign(domain.CampaignDraft)
	require.NoError(t, f.svc.Delete(ctx, "camp-1"))
	_, err := f.repo.Get(ctx, "camp-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	f = newFixture(100, 5)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	assert.True(t, errors.Is(f.svc.Delete(ctx, "camp-1"), ErrNotDeletable))
}

func TestDeleteStepBlockedBySentMail(t *testing.T) {
	f := newFixture(100, 5)
	f.seedCampaign(domain.CampaignActive, immediateStep("step-1", 1))
	f.repo.messages = append(f.repo.messages, &domain.EmailMessage{
		ID: "m1", CampaignID: "camp-1", StepID: "step-1",
		ContactID: "contact-000", Status: domain.MessageSent,
	})

	ctx := context.Background()
	assert.True(t, errors.Is(f.svc.DeleteStep(ctx, "step-1"), ErrStepHasSentMail))

	f.repo.messages[0].Status = domain.MessageCancelled
	require.NoError(t, f.svc.DeleteStep(ctx, "step-1"))
	assert.Empty(t, f.repo.steps["camp-1"])
}

func TestAddStepToActiveSchedulesImmediately(t *testing.T) {
	f := newFixture(100, 10)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx, "camp-1"))
	require.Len(t, f.repo.messages, 10)

	step2 := immediateStep("step-2", 0) // order assigned by AddStep
	require.NoError(t, f.svc.AddStep(ctx, "camp-1", &step2))

	assert.Equal(t, 2, step2.StepOrder)
	assert.Len(t, f.repo.messages, 20)

	c, _ := f.repo.Get(ctx, "camp-1")
	assert.Equal(t, 2, c.TotalSteps)

	snap := f.repo.snapshots["camp-1"]
	require.Len(t, snap.Steps, 2)
	// New step's allocation continues at recipients x priorSteps.
	assert.Equal(t, 10, snap.Steps[1].GlobalOffset)
	require.NotEmpty(t, snap.Steps[1].Allocations)
	assert.Equal(t, 10, snap.Steps[1].Allocations[0].StartIndex)

	// Step 2's mail starts after step 1's last message on the shared day.
	last1 := f.repo.messages[9].ScheduledSendAt
	first2 := f.repo.messages[10].ScheduledSendAt
	assert.Equal(t, last1.Add(time.Minute), first2)
}

func TestAddStepToDraftDoesNotSchedule(t *testing.T) {
	f := newFixture(100, 10)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	step2 := immediateStep("step-2", 0)
	require.NoError(t, f.svc.AddStep(context.Background(), "camp-1", &step2))
	assert.Empty(t, f.repo.messages)
	assert.Len(t, f.repo.steps["camp-1"], 2)
}

func TestAddStepReactivatesCompleted(t *testing.T) {
	f := newFixture(100, 10)
	c := f.seedCampaign(domain.CampaignCompleted, immediateStep("step-1", 1))
	c.TotalRecipients = 10
	for i := 0; i < 10; i++ {
		f.repo.messages = append(f.repo.messages, &domain.EmailMessage{
			ID: fmt.Sprintf("m%d", i), CampaignID: "camp-1", StepID: "step-1",
			ContactID: fmt.Sprintf("contact-%03d", i), Status: domain.MessageDelivered,
			ScheduledSendAt: svcNow.Add(-2 * time.Hour),
		})
	}

	ctx := context.Background()
	step2 := immediateStep("step-2", 0)
	require.NoError(t, f.svc.AddStep(ctx, "camp-1", &step2))

	got, _ := f.repo.Get(ctx, "camp-1")
	assert.Equal(t, domain.CampaignActive, got.Status)
	assert.Len(t, f.repo.messages, 20)
}

func TestAddStepToCancelledFails(t *testing.T) {
	f := newFixture(100, 10)
	f.seedCampaign(domain.CampaignCancelled, immediateStep("step-1", 1))
	step2 := immediateStep("step-2", 0)
	err := f.svc.AddStep(context.Background(), "camp-1", &step2)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestActivateHorizonCutEnqueuesFollowUpPass(t *testing.T) {
	f := newFixture(1, 400)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))

	require.NoError(t, f.svc.Activate(context.Background(), "camp-1"))

	// One message per day through the horizon, the tail unscheduled.
	assert.Len(t, f.repo.messages, schedule.HorizonDays+1)

	var stepJobs []dispatch.Job
	for _, j := range f.sched.jobs {
		if j.Kind == dispatch.JobStep {
			stepJobs = append(stepJobs, j)
		}
	}
	require.Len(t, stepJobs, 1)
	assert.Equal(t, schedule.DayStart(1, "UTC", svcNow), stepJobs[0].RunAt,
		"follow-up pass should run when the next day enters the horizon")
}

func TestExtendCoverageSchedulesStrandedTail(t *testing.T) {
	f := newFixture(1, 400)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx, "camp-1"))
	require.Len(t, f.repo.messages, schedule.HorizonDays+1)

	// A day passes: offsets shift down, the last horizon day frees up.
	shifted := make(map[int]int, len(f.ledger.used))
	for d, n := range f.ledger.used {
		shifted[d-1] = n
	}
	f.ledger.used = shifted
	nextDay := svcNow.Add(24 * time.Hour)
	f.svc.SetClock(func() time.Time { return nextDay })

	require.NoError(t, f.svc.ExtendCoverage(ctx, "camp-1"))
	assert.Len(t, f.repo.messages, schedule.HorizonDays+2,
		"one freed quota day should take one more message")

	// Still partial: another follow-up pass is queued for the next day.
	last := f.sched.jobs[len(f.sched.jobs)-1]
	assert.Equal(t, dispatch.JobStep, last.Kind)
	assert.Equal(t, schedule.DayStart(1, "UTC", nextDay), last.RunAt)
}

func TestExtendCoverageIsNoopWithFullCoverage(t *testing.T) {
	f := newFixture(200, 20)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx, "camp-1"))
	require.Len(t, f.repo.messages, 20)

	snapBefore := f.repo.snapshots["camp-1"]
	jobsBefore := len(f.sched.jobs)

	require.NoError(t, f.svc.ExtendCoverage(ctx, "camp-1"))
	assert.Len(t, f.repo.messages, 20)
	assert.Equal(t, jobsBefore, len(f.sched.jobs))
	assert.Same(t, snapBefore, f.repo.snapshots["camp-1"], "snapshot must not be rewritten")
}

func TestExtendCoverageIgnoresInactiveCampaigns(t *testing.T) {
	f := newFixture(1, 400)
	f.seedCampaign(domain.CampaignDraft, immediateStep("step-1", 1))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx, "camp-1"))
	require.NoError(t, f.svc.Pause(ctx, "camp-1"))
	before := len(f.repo.messages)

	require.NoError(t, f.svc.ExtendCoverage(ctx, "camp-1"))
	assert.Len(t, f.repo.messages, before)
}
