package campaign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sequence-engine/internal/contacts"
	"github.com/ignite/sequence-engine/internal/dispatch"
	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/schedule"
)

// LockFactory builds a distributed lock for a key. Campaigns sharing one
// sending identity serialize their quota-consuming writes through it.
type LockFactory func(key string) distlock.DistLock

// Service implements campaign lifecycle business logic. It coordinates the
// repository, the quota ledger, the contact source and the dispatch
// scheduler. All public methods are safe for concurrent use if the injected
// collaborators are.
type Service struct {
	repo   Repository
	source contacts.Source
	ledger quota.Ledger
	sched  dispatch.Scheduler
	dist   *schedule.Distributor

	restrictMode       bool
	restrictWindowDays int

	lockFor LockFactory
	now     func() time.Time
}

// NewService creates a campaign service with the given collaborators.
func NewService(repo Repository, source contacts.Source, ledger quota.Ledger, sched dispatch.Scheduler) *Service {
	return &Service{
		repo:               repo,
		source:             source,
		ledger:             ledger,
		sched:              sched,
		dist:               schedule.NewDistributor(ledger),
		restrictWindowDays: 14,
		now:                time.Now,
	}
}

// SetRestrictMode switches quota policy from auto-spread to restrict:
// activations that cannot finish within windowDays are rejected.
func (s *Service) SetRestrictMode(on bool, windowDays int) {
	s.restrictMode = on
	if windowDays > 0 {
		s.restrictWindowDays = windowDays
	}
}

// SetLockFactory installs per-identity distributed locking. Without one,
// quota writes are only serialized within this process.
func (s *Service) SetLockFactory(f LockFactory) { s.lockFor = f }

// SetClock overrides the service clock (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
	ListID         string `json:"list_id"`
	CreatedBy      string `json:"created_by"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if in.CreatedBy == "" {
		return nil, fmt.Errorf("created_by (sending identity) is required")
	}

	c := &domain.Campaign{
		ID:             uuid.New().String(),
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Status:         domain.CampaignDraft,
		CreatedBy:      in.CreatedBy,
	}
	if in.ListID != "" {
		c.ListID = &in.ListID
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Activate transitions a draft campaign to ACTIVE and schedules every step.
// Preconditions: at least one step, every step templated, a contact list
// with at least one subscribed, non-bounced contact.
func (s *Service) Activate(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignActive {
		return nil
	}
	if err := CheckTransition(c.Status, domain.CampaignActive); err != nil {
		return err
	}
	return s.start(ctx, c)
}

// Resume re-activates a paused campaign: it recomputes the distribution
// from live quota, re-queues CANCELLED messages with fresh send times, and
// catches up any step whose contact coverage is still incomplete.
func (s *Service) Resume(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignActive {
		return nil
	}
	if err := CheckTransition(c.Status, domain.CampaignActive); err != nil {
		return err
	}
	return s.start(ctx, c)
}

// ExtendCoverage re-runs the scheduling pass for an ACTIVE campaign,
// filling coverage gaps left by a horizon-cut distribution. Step work
// items trigger it: a partial pass enqueues its follow-up at the next
// local day start, when another day has entered the scheduling horizon.
// Anything but an active campaign is a no-op.
func (s *Service) ExtendCoverage(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive {
		return nil
	}

	steps, err := s.repo.Steps(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(steps) == 0 || c.ListID == nil {
		return nil
	}

	contactIDs, err := s.source.Subscribed(ctx, *c.ListID)
	if err != nil {
		return err
	}
	if len(contactIDs) == 0 {
		return nil
	}

	unlock, err := s.lockIdentity(ctx, c.CreatedBy)
	if err != nil {
		return err
	}
	defer unlock()

	states, err := s.repo.MessageStates(ctx, c.ID)
	if err != nil {
		return err
	}

	// Full coverage already: keep the existing snapshot untouched.
	if !hasOutstanding(states, steps, contactIDs, s.now()) {
		return nil
	}

	snap, err := s.scheduleSteps(ctx, c, steps, contactIDs, states)
	if err != nil {
		return err
	}
	log.Printf("[campaign.Service] Campaign %s: coverage extended", c.ID)
	return s.repo.SaveSnapshot(ctx, c.ID, snap)
}

// hasOutstanding reports whether any step still lacks a non-cancelled
// message for some contact.
func hasOutstanding(states []MessageState, steps []domain.CampaignStep, contactIDs []string, now time.Time) bool {
	stepStates := buildStepStates(states, steps, now)
	for _, st := range steps {
		ss := stepStates[st.ID]
		for _, id := range contactIDs {
			if ss.needsMail(id) {
				return true
			}
		}
	}
	return false
}

// start is the shared activation/resume path. The caller has already
// checked the transition is legal from c.Status.
func (s *Service) start(ctx context.Context, c *domain.Campaign) error {
	steps, err := s.repo.Steps(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := checkActivatable(c, steps); err != nil {
		return err
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

	states, err := s.repo.MessageStates(ctx, c.ID)
	if err != nil {
		return err
	}

	if s.restrictMode {
		if err := s.checkRestrictWindow(ctx, c, steps, contactIDs, states); err != nil {
			return err
		}
	}

	ok, err := s.repo.UpdateStatusIf(ctx, c.ID, domain.CampaignActive, c.Status)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, c.ID)
	}
	if err := s.repo.SetTotals(ctx, c.ID, len(steps), len(contactIDs)); err != nil {
		return err
	}

	snap, err := s.scheduleSteps(ctx, c, steps, contactIDs, states)
	if err != nil {
		return err
	}
	if err := s.repo.SaveSnapshot(ctx, c.ID, snap); err != nil {
		return err
	}

	log.Printf("[campaign.Service] Campaign %s started: %d steps x %d contacts",
		c.ID, len(steps), len(contactIDs))
	return nil
}

// Pause cancels all scheduled work for an active campaign and marks its
// pending messages CANCELLED. Sent-terminal messages are untouched.
func (s *Service) Pause(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignPaused {
		return nil
	}
	if err := CheckTransition(c.Status, domain.CampaignPaused); err != nil {
		return err
	}

	ok, err := s.repo.UpdateStatusIf(ctx, id, domain.CampaignPaused, domain.CampaignActive)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, id)
	}

	jobs, err := s.sched.CancelCampaign(ctx, id)
	if err != nil {
		// The messages below still get cancelled; stray work items fail
		// the terminal-state check when they come due.
		log.Printf("[campaign.Service] Campaign %s: cancel scheduled work failed: %v", id, err)
	}
	msgs, err := s.repo.CancelPending(ctx, id)
	if err != nil {
		return err
	}

	log.Printf("[campaign.Service] Campaign %s paused: %d work items, %d messages cancelled", id, jobs, msgs)
	return nil
}

// Cancel terminally cancels a campaign. No transitions lead out of
// CANCELLED.
func (s *Service) Cancel(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCancelled {
		return nil
	}
	if err := CheckTransition(c.Status, domain.CampaignCancelled); err != nil {
		return err
	}

	ok, err := s.repo.UpdateStatusIf(ctx, id, domain.CampaignCancelled, c.Status)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, id)
	}

	if _, err := s.sched.CancelCampaign(ctx, id); err != nil {
		log.Printf("[campaign.Service] Campaign %s: cancel scheduled work failed: %v", id, err)
	}
	if _, err := s.repo.CancelPending(ctx, id); err != nil {
		return err
	}
	return nil
}

// Complete explicitly finishes a campaign. The source state must be ACTIVE
// or PAUSED (completion from PAUSED is allowed even though PAUSED's normal
// successors are ACTIVE and CANCELLED: finishing is not a lifecycle choice,
// it is an acknowledgment that all mail went out).
func (s *Service) Complete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCompleted {
		return nil
	}
	if c.Status != domain.CampaignActive && c.Status != domain.CampaignPaused {
		return fmt.Errorf("%w: %s -> %s (allowed from: [active paused])",
			ErrInvalidTransition, c.Status, domain.CampaignCompleted)
	}

	ok, err := s.repo.UpdateStatusIf(ctx, id, domain.CampaignCompleted,
		domain.CampaignActive, domain.CampaignPaused)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// Delete soft-deletes a campaign. Only DRAFT and COMPLETED campaigns may be
// deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignCompleted {
		return fmt.Errorf("%w: status is %s", ErrNotDeletable, c.Status)
	}
	return s.repo.SoftDelete(ctx, id)
}

// DeleteStep removes a step that has no sent emails.
func (s *Service) DeleteStep(ctx context.Context, stepID string) error {
	sent, err := s.repo.StepHasSentMail(ctx, stepID)
	if err != nil {
		return err
	}
	if sent {
		return fmt.Errorf("%w: %s", ErrStepHasSentMail, stepID)
	}
	return s.repo.DeleteStep(ctx, stepID)
}

// RecalcProgress runs the auto-completion check: if every expected email
// reached a sent-terminal status while the campaign is ACTIVE or PAUSED,
// the campaign flips to COMPLETED via a conditional update keyed on the
// current status, so concurrent recalculations cannot double-complete.
func (s *Service) RecalcProgress(ctx context.Context, id string) error {
	done, err := s.repo.CompleteIfFinished(ctx, id)
	if err != nil {
		return err
	}
	if done {
		log.Printf("[campaign.Service] Campaign %s auto-completed", id)
	}
	return nil
}

// checkActivatable verifies the activation preconditions that don't need
// the contact source.
func checkActivatable(c *domain.Campaign, steps []domain.CampaignStep) error {
	if err := domain.ValidateSteps(steps); err != nil {
		return err
	}
	for _, st := range steps {
		if st.TemplateID == nil || *st.TemplateID == "" {
			return fmt.Errorf("%w: step %d", ErrMissingTemplate, st.StepOrder)
		}
	}
	if c.ListID == nil || *c.ListID == "" {
		return ErrMissingList
	}
	return nil
}

// lockIdentity serializes quota writes for one sending identity across
// scheduler instances. Returns a release func; a nil factory yields a no-op.
func (s *Service) lockIdentity(ctx context.Context, identity string) (func(), error) {
	if s.lockFor == nil {
		return func() {}, nil
	}
	lock := s.lockFor("identity:" + identity)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock for %s: %w", identity, err)
	}
	if !acquired {
		return nil, fmt.Errorf("identity %s is being scheduled by another worker", identity)
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Printf("[campaign.Service] release identity lock %s: %v", identity, err)
		}
	}, nil
}
