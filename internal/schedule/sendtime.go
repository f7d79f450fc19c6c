package schedule

import (
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
)

// Anchors is the explicit accumulator for the per-day anchor times that the
// send-time fold threads through a scheduling pass.
//
// lastByDay survives across steps: it is how step N+1 knows where step N
// left off on a shared day, and on resume it is seeded from already-sent
// history. firstByDay is reset per step via BeginStep: each step offsets its
// same-day emails from its own first-email anchor.
//
// Because each email's anchor depends on the previous email's, callers must
// process contacts strictly in ascending contact-ID order; that ordering is
// part of the contact source contract, not an incidental detail.
type Anchors struct {
	lastByDay  map[int]time.Time
	firstByDay map[int]time.Time
}

// NewAnchors creates an empty accumulator for one scheduling pass.
func NewAnchors() *Anchors {
	return &Anchors{
		lastByDay:  make(map[int]time.Time),
		firstByDay: make(map[int]time.Time),
	}
}

// BeginStep resets the per-step first-email anchors. Call before folding
// each step's contacts.
func (a *Anchors) BeginStep() {
	a.firstByDay = make(map[int]time.Time)
}

// SeedLast records an already-scheduled (typically already-sent) time for a
// day, so a resumed pass continues after it instead of starting over.
func (a *Anchors) SeedLast(day int, t time.Time) {
	if last, ok := a.lastByDay[day]; !ok || t.After(last) {
		a.lastByDay[day] = t
	}
}

// LastOn returns the latest scheduled time recorded for a day.
func (a *Anchors) LastOn(day int) (time.Time, bool) {
	t, ok := a.lastByDay[day]
	return t, ok
}

// SendTimeInput carries one email's position in the scheduling pass.
type SendTimeInput struct {
	Step *domain.CampaignStep

	// GlobalIndex is the email's index in the batch being scheduled. On a
	// resume pass over day 0 it is the email's original position within the
	// step, so the AlreadySentOnDay0 rebase lands resumed emails right
	// after the last one actually sent.
	GlobalIndex int

	// Alloc is the day allocation containing GlobalIndex.
	Alloc domain.DayAllocation

	// AlreadySentOnDay0 is how many of this step's emails already went out
	// today. Zero on activation.
	AlreadySentOnDay0 int

	Now time.Time
}

// SendTime computes the exact UTC send instant for one email and records it
// in the accumulator. Output is monotonically non-decreasing in GlobalIndex
// for a fixed step.
//
// The final instant is always dayAnchor + indexWithinDay * step delay; the
// rules below only decide the anchor and the index.
func SendTime(in SendTimeInput, a *Anchors) time.Time {
	day := in.Alloc.Day
	delay := in.Step.Delay()

	// Index within the day. On a day-0 resume the original quota slice no
	// longer reflects reality: position continues after the sent prefix.
	idx := in.GlobalIndex - in.Alloc.StartIndex
	if day == 0 && in.AlreadySentOnDay0 > 0 {
		idx = in.GlobalIndex - in.AlreadySentOnDay0
	}
	if idx < 0 {
		idx = 0
	}

	anchor, ok := a.firstByDay[day]
	if !ok {
		anchor = a.anchorFor(in, day, delay)
		a.firstByDay[day] = anchor
	}

	t := anchor.Add(time.Duration(idx) * delay)
	if last, ok := a.lastByDay[day]; !ok || t.After(last) {
		a.lastByDay[day] = t
	}
	return t
}

// anchorFor determines the first-email anchor for a day this step has not
// touched yet in the current pass.
func (a *Anchors) anchorFor(in SendTimeInput, day int, delay time.Duration) time.Time {
	// A prior time on this day — an earlier step, or sent history on a
	// resume — means we continue one delay after it. This preserves
	// step-to-step ordering within a shared day.
	if last, ok := a.lastByDay[day]; ok {
		return last.Add(delay)
	}

	step := in.Step

	if day == 0 {
		if step.Trigger == domain.TriggerSchedule && step.ScheduleTime != nil {
			// Past-due schedule times are caught up now.
			if step.ScheduleTime.After(in.Now) {
				return step.ScheduleTime.UTC()
			}
		}
		return in.Now.UTC()
	}

	// Future day, nothing scheduled on it yet.
	loc := loadZone(step.Timezone)
	base := DayStart(day, step.Timezone, in.Now).In(loc)

	if step.Trigger == domain.TriggerSchedule && step.ScheduleTime != nil {
		// Project the schedule's wall-clock time-of-day onto the target day.
		return projectTimeOfDay(*step.ScheduleTime, base, loc)
	}

	// Immediate steps repeat day 0's start hour on every subsequent day.
	if d0, ok := a.firstByDay[0]; ok {
		return projectTimeOfDay(d0, base, loc)
	}

	// No day-0 anchor to replicate (step starts mid-spread): 00:01 local.
	return base.Add(time.Minute).UTC()
}

// projectTimeOfDay keeps src's local wall-clock time but moves it to the
// calendar day of base (a local midnight).
func projectTimeOfDay(src, base time.Time, loc *time.Location) time.Time {
	s := src.In(loc)
	return time.Date(base.Year(), base.Month(), base.Day(),
		s.Hour(), s.Minute(), s.Second(), 0, loc).UTC()
}
