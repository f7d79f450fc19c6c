package campaign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sequence-engine/internal/dispatch"
	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/schedule"
)

// stepState summarizes the persisted messages of one step, used for
// duplicate prevention and resume bookkeeping.
type stepState struct {
	sent      map[string]bool   // contactID -> reached a sent-terminal status
	pending   map[string]bool   // contactID -> QUEUED/SENDING exists
	cancelled map[string]string // contactID -> cancelled message ID (re-queue target)
	sentToday int               // sent-terminal messages whose send time fell on day 0

	// lastOn tracks the latest scheduled time per day across all
	// non-cancelled messages. New scheduling on a day continues after it,
	// whether the earlier mail already went out or is still queued.
	lastOn map[int]time.Time
}

func newStepState() *stepState {
	return &stepState{
		sent:      make(map[string]bool),
		pending:   make(map[string]bool),
		cancelled: make(map[string]string),
		lastOn:    make(map[int]time.Time),
	}
}

// buildStepStates folds persisted message rows into per-step summaries.
// A contact with both a cancelled and a later non-cancelled message counts
// by the non-cancelled one.
func buildStepStates(states []MessageState, steps []domain.CampaignStep, now time.Time) map[string]*stepState {
	byStep := make(map[string]*stepState, len(steps))
	tzByStep := make(map[string]string, len(steps))
	for _, st := range steps {
		byStep[st.ID] = newStepState()
		tzByStep[st.ID] = st.Timezone
	}
	for _, m := range states {
		ss, ok := byStep[m.StepID]
		if !ok {
			continue // message for a deleted step
		}
		switch {
		case m.Status == domain.MessageCancelled:
			if !ss.sent[m.ContactID] && !ss.pending[m.ContactID] {
				ss.cancelled[m.ContactID] = m.ID
			}
			continue
		case m.Status.IsSentTerminal():
			ss.sent[m.ContactID] = true
			delete(ss.cancelled, m.ContactID)
			if schedule.DayOf(m.ScheduledSendAt, tzByStep[m.StepID], now) == 0 {
				ss.sentToday++
			}
		default: // queued, sending
			ss.pending[m.ContactID] = true
			delete(ss.cancelled, m.ContactID)
		}
		day := schedule.DayOf(m.ScheduledSendAt, tzByStep[m.StepID], now)
		if m.ScheduledSendAt.After(ss.lastOn[day]) {
			ss.lastOn[day] = m.ScheduledSendAt
		}
	}
	return byStep
}

// needsMail reports whether the contact still needs a message for this step,
// i.e. it neither reached a sent-terminal status nor has one in flight.
func (ss *stepState) needsMail(contactID string) bool {
	return !ss.sent[contactID] && !ss.pending[contactID]
}

// scheduleSteps runs the full scheduling pass over every step in order and
// assembles the quota snapshot. On a fresh activation all step states are
// empty and this degenerates to plain creation; on resume it re-queues
// cancelled messages and fills coverage gaps.
func (s *Service) scheduleSteps(ctx context.Context, c *domain.Campaign, steps []domain.CampaignStep, contactIDs []string, states []MessageState) (*domain.QuotaSnapshot, error) {
	now := s.now()
	stepStates := buildStepStates(states, steps, now)

	anchors := schedule.NewAnchors()
	for _, ss := range stepStates {
		for day, last := range ss.lastOn {
			anchors.SeedLast(day, last)
		}
	}

	snap := &domain.QuotaSnapshot{ComputedAt: now}
	for i := range steps {
		step := &steps[i]
		offset := len(contactIDs) * i
		sa, err := s.scheduleStep(ctx, c, step, contactIDs, stepStates[step.ID], anchors, offset, now)
		if err != nil {
			return nil, fmt.Errorf("schedule step %d: %w", step.StepOrder, err)
		}
		snap.Steps = append(snap.Steps, sa)
	}
	return snap, nil
}

// scheduleStep distributes one step's outstanding contacts over quota days,
// persists a message per contact (creating or re-queuing), commits the
// consumed quota and enqueues the dispatch work items.
//
// Dispatch enqueue failures are logged but do not roll anything back: the
// message rows are the source of truth and a sweep can re-enqueue them.
func (s *Service) scheduleStep(ctx context.Context, c *domain.Campaign, step *domain.CampaignStep, contactIDs []string, ss *stepState, anchors *schedule.Anchors, offset int, now time.Time) (domain.StepAllocation, error) {
	sa := domain.StepAllocation{StepID: step.ID, StepOrder: step.StepOrder, GlobalOffset: offset}

	var outstanding []string
	for _, id := range contactIDs {
		if ss.needsMail(id) {
			outstanding = append(outstanding, id)
		}
	}
	if len(outstanding) == 0 {
		return sa, nil
	}

	remToday, err := s.ledger.RemainingToday(ctx, c.CreatedBy, step.Timezone)
	if err != nil {
		return sa, err
	}
	limit, err := s.ledger.DailyLimit(ctx, c.CreatedBy)
	if err != nil {
		return sa, err
	}

	dist, err := s.dist.Distribute(ctx, schedule.DistributeInput{
		Identity:       c.CreatedBy,
		TotalEmails:    len(outstanding),
		RemainingToday: remToday,
		DailyLimit:     limit,
		Timezone:       step.Timezone,
		Scheduled:      step.Trigger == domain.TriggerSchedule,
	})
	if err != nil {
		return sa, err
	}
	allocs := dist.Allocations
	if !dist.WillSpread {
		allocs = []domain.DayAllocation{schedule.SingleDayAllocation(dist.StartDay, len(outstanding))}
	}
	if dist.Partial {
		log.Printf("[campaign.Service] Campaign %s step %d: horizon reached, %d of %d emails allocated",
			c.ID, step.StepOrder, dist.TotalAllocated(), len(outstanding))
	}

	anchors.BeginStep()
	perDay := make(map[int]int)
	for r, contactID := range outstanding {
		alloc, ok := allocationFor(allocs, r)
		if !ok {
			break // partial distribution: the remainder stays unscheduled
		}

		// Day-0 resume: local index r ignores already-sent mail, but the
		// send-time fold counts from the day's first slot.
		g := r
		if alloc.Day == 0 && ss.sentToday > 0 {
			g = r + ss.sentToday
		}
		sendAt := schedule.SendTime(schedule.SendTimeInput{
			Step:              step,
			GlobalIndex:       g,
			Alloc:             alloc,
			AlreadySentOnDay0: ss.sentToday,
			Now:               now,
		}, anchors)

		msgID, ok := ss.cancelled[contactID]
		if ok {
			if err := s.repo.RequeueMessage(ctx, msgID, sendAt); err != nil {
				return sa, err
			}
		} else {
			msgID = uuid.New().String()
			msg := &domain.EmailMessage{
				ID:              msgID,
				CampaignID:      c.ID,
				StepID:          step.ID,
				ContactID:       contactID,
				Status:          domain.MessageQueued,
				ScheduledSendAt: sendAt,
				QueuedAt:        now,
			}
			if err := s.repo.InsertMessage(ctx, msg); err != nil {
				return sa, err
			}
		}

		job := dispatch.Job{
			Kind:       dispatch.JobMessage,
			CampaignID: c.ID,
			StepID:     step.ID,
			MessageID:  msgID,
		}
		if _, err := s.sched.ScheduleAt(ctx, job, sendAt); err != nil {
			log.Printf("[campaign.Service] Campaign %s: enqueue message %s failed: %v", c.ID, msgID, err)
		}
		perDay[alloc.Day]++
	}

	for day, n := range perDay {
		if err := s.ledger.Commit(ctx, c.CreatedBy, day, n, step.Timezone); err != nil {
			return sa, fmt.Errorf("commit quota for day %d: %w", day, err)
		}
	}

	// Step-level work item: immediate steps and past-due schedules run now,
	// future schedules run at their schedule time. A horizon-cut pass runs
	// again at the next local day start, when one more day is allocatable.
	runAt := now
	if dist.Partial {
		runAt = schedule.DayStart(1, step.Timezone, now)
	} else if step.Trigger == domain.TriggerSchedule && step.ScheduleTime != nil && step.ScheduleTime.After(now) {
		runAt = *step.ScheduleTime
	}
	stepJob := dispatch.Job{Kind: dispatch.JobStep, CampaignID: c.ID, StepID: step.ID}
	if _, err := s.sched.ScheduleAt(ctx, stepJob, runAt); err != nil {
		log.Printf("[campaign.Service] Campaign %s: enqueue step %d failed: %v", c.ID, step.StepOrder, err)
	}

	sa.Allocations = schedule.OffsetAllocations(allocs, offset)
	return sa, nil
}

// allocationFor finds the day allocation containing the local index.
func allocationFor(allocs []domain.DayAllocation, index int) (domain.DayAllocation, bool) {
	for _, a := range allocs {
		if a.Contains(index) {
			return a, true
		}
	}
	return domain.DayAllocation{}, false
}

// checkRestrictWindow enforces restrict mode: the whole campaign must fit
// inside the configured quota window or activation is rejected. The check
// is an upper-bound estimate against live quota; the authoritative spread
// happens per step during scheduling.
func (s *Service) checkRestrictWindow(ctx context.Context, c *domain.Campaign, steps []domain.CampaignStep, contactIDs []string, states []MessageState) error {
	now := s.now()
	stepStates := buildStepStates(states, steps, now)
	total := 0
	for _, st := range steps {
		ss := stepStates[st.ID]
		for _, id := range contactIDs {
			if ss.needsMail(id) {
				total++
			}
		}
	}
	if total == 0 {
		return nil
	}

	tz := steps[0].Timezone
	byDay, err := s.ledger.RemainingForDays(ctx, c.CreatedBy, 0, s.restrictWindowDays-1, tz)
	if err != nil {
		return err
	}
	capacity := 0
	for _, n := range byDay {
		capacity += n
	}
	if total > capacity {
		return fmt.Errorf("%w: %d emails exceed the %d-day capacity of %d for identity %s",
			quota.ErrQuotaExceeded, total, s.restrictWindowDays, capacity, c.CreatedBy)
	}
	return nil
}

// AddStep appends a step to a campaign. For a draft it is a plain insert.
// For an ACTIVE campaign the step is scheduled immediately, continuing the
// existing distribution at global offset recipients x priorSteps. Adding a
// step to a COMPLETED campaign re-activates it first.
func (s *Service) AddStep(ctx context.Context, campaignID string, step *domain.CampaignStep) error {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCancelled {
		return fmt.Errorf("%w: cannot add a step to a cancelled campaign", ErrInvalidTransition)
	}

	steps, err := s.repo.Steps(ctx, campaignID)
	if err != nil {
		return err
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	step.CampaignID = campaignID
	step.StepOrder = len(steps) + 1
	if err := step.Validate(); err != nil {
		return err
	}
	schedulesNow := c.Status == domain.CampaignActive || c.Status == domain.CampaignCompleted
	if schedulesNow && (step.TemplateID == nil || *step.TemplateID == "") {
		return fmt.Errorf("%w: step %d", ErrMissingTemplate, step.StepOrder)
	}

	if err := s.repo.CreateStep(ctx, step); err != nil {
		return err
	}
	if err := s.repo.SetTotals(ctx, campaignID, len(steps)+1, c.TotalRecipients); err != nil {
		return err
	}
	if !schedulesNow {
		// Draft and paused campaigns pick the step up on (re)activation.
		return nil
	}

	if c.Status == domain.CampaignCompleted {
		ok, err := s.repo.UpdateStatusIf(ctx, campaignID, domain.CampaignActive, domain.CampaignCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, campaignID)
		}
	}

	contactIDs, err := s.source.Subscribed(ctx, *c.ListID)
	if err != nil {
		return err
	}
	if len(contactIDs) == 0 {
		return fmt.Errorf("%w: list %s", ErrNoContacts, *c.ListID)
	}

	unlock, err := s.lockIdentity(ctx, c.CreatedBy)
	if err != nil {
		return err
	}
	defer unlock()

	// Seed anchors from the whole campaign's sent history so the new
	// step's mail lands after anything already sent on a shared day.
	states, err := s.repo.MessageStates(ctx, campaignID)
	if err != nil {
		return err
	}
	now := s.now()
	all := append(append([]domain.CampaignStep(nil), steps...), *step)
	stepStates := buildStepStates(states, all, now)
	anchors := schedule.NewAnchors()
	for _, ss := range stepStates {
		for day, last := range ss.lastOn {
			anchors.SeedLast(day, last)
		}
	}

	offset := len(contactIDs) * len(steps)
	sa, err := s.scheduleStep(ctx, c, step, contactIDs, stepStates[step.ID], anchors, offset, now)
	if err != nil {
		return err
	}

	snap := c.Snapshot
	if snap == nil {
		snap = &domain.QuotaSnapshot{}
	}
	snap.Steps = append(snap.Steps, sa)
	snap.ComputedAt = now
	return s.repo.SaveSnapshot(ctx, campaignID, snap)
}
