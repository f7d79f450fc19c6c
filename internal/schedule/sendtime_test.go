package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sequence-engine/internal/domain"
)

func immediateStep(delayMin float64) *domain.CampaignStep {
	return &domain.CampaignStep{
		ID:           "step-1",
		StepOrder:    1,
		Trigger:      domain.TriggerImmediate,
		DelayMinutes: delayMin,
		Timezone:     "UTC",
	}
}

func scheduleStep(at time.Time, delayMin float64) *domain.CampaignStep {
	return &domain.CampaignStep{
		ID:           "step-1",
		StepOrder:    1,
		Trigger:      domain.TriggerSchedule,
		ScheduleTime: &at,
		DelayMinutes: delayMin,
		Timezone:     "UTC",
	}
}

func TestSendTime_Day0Immediate(t *testing.T) {
	step := immediateStep(1)
	anchors := NewAnchors()
	alloc := SingleDayAllocation(0, 5)

	var times []time.Time
	for i := 0; i < 5; i++ {
		times = append(times, SendTime(SendTimeInput{
			Step: step, GlobalIndex: i, Alloc: alloc, Now: testNow,
		}, anchors))
	}

	assert.Equal(t, testNow, times[0])
	for i := 1; i < 5; i++ {
		assert.Equal(t, testNow.Add(time.Duration(i)*time.Minute), times[i])
	}
}

func TestSendTime_Day0ScheduleFuture(t *testing.T) {
	at := testNow.Add(2 * time.Hour)
	step := scheduleStep(at, 1)
	anchors := NewAnchors()

	got := SendTime(SendTimeInput{
		Step: step, GlobalIndex: 0, Alloc: SingleDayAllocation(0, 10), Now: testNow,
	}, anchors)
	assert.Equal(t, at, got)
}

func TestSendTime_Day0SchedulePastDue(t *testing.T) {
	at := testNow.Add(-3 * time.Hour)
	step := scheduleStep(at, 1)
	anchors := NewAnchors()

	got := SendTime(SendTimeInput{
		Step: step, GlobalIndex: 0, Alloc: SingleDayAllocation(0, 10), Now: testNow,
	}, anchors)
	assert.Equal(t, testNow, got, "past-due schedule time is caught up to now")
}

func TestSendTime_MonotonicAcrossSpread(t *testing.T) {
	step := immediateStep(2)
	anchors := NewAnchors()
	allocs := []domain.DayAllocation{
		{Day: 0, StartIndex: 0, EndIndex: 9, QuotaUsed: 10},
		{Day: 1, StartIndex: 10, EndIndex: 59, QuotaUsed: 50},
		{Day: 2, StartIndex: 60, EndIndex: 109, QuotaUsed: 50},
	}

	var prev time.Time
	for _, alloc := range allocs {
		for g := alloc.StartIndex; g <= alloc.EndIndex; g++ {
			got := SendTime(SendTimeInput{
				Step: step, GlobalIndex: g, Alloc: alloc, Now: testNow,
			}, anchors)
			if !prev.IsZero() {
				assert.False(t, got.Before(prev), "index %d scheduled before its predecessor", g)
			}
			prev = got
		}
	}
}

func TestSendTime_FutureDayReplicatesDay0Hour(t *testing.T) {
	step := immediateStep(1)
	anchors := NewAnchors()

	d0 := SendTime(SendTimeInput{
		Step:        step,
		GlobalIndex: 0,
		Alloc:       domain.DayAllocation{Day: 0, StartIndex: 0, EndIndex: 9},
		Now:         testNow,
	}, anchors)

	d1 := SendTime(SendTimeInput{
		Step:        step,
		GlobalIndex: 10,
		Alloc:       domain.DayAllocation{Day: 1, StartIndex: 10, EndIndex: 19},
		Now:         testNow,
	}, anchors)

	// Campaign starts at the same hour every day.
	assert.Equal(t, d0.Add(24*time.Hour), d1)
}

func TestSendTime_FutureDayScheduleProjection(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	step := scheduleStep(at, 1)
	anchors := NewAnchors()

	got := SendTime(SendTimeInput{
		Step:        step,
		GlobalIndex: 20,
		Alloc:       domain.DayAllocation{Day: 2, StartIndex: 20, EndIndex: 29},
		Now:         testNow,
	}, anchors)

	// Original wall-clock time projected onto day 2.
	assert.Equal(t, time.Date(2026, 3, 12, 9, 15, 0, 0, time.UTC), got)
}

func TestSendTime_FutureDayFallbackMidnightPlusOne(t *testing.T) {
	step := immediateStep(1)
	anchors := NewAnchors()

	// No day-0 anchor exists for this step: fall back to 00:01 local.
	got := SendTime(SendTimeInput{
		Step:        step,
		GlobalIndex: 0,
		Alloc:       domain.DayAllocation{Day: 3, StartIndex: 0, EndIndex: 9},
		Now:         testNow,
	}, anchors)
	assert.Equal(t, DayStart(3, "UTC", testNow).Add(time.Minute), got)
}

func TestSendTime_SecondStepContinuesAfterFirstOnSharedDay(t *testing.T) {
	// 2 steps, 30 contacts, 1-minute delay, everything on day 0: step 2's
	// first email lands at least one delay after step 1's last.
	step1 := immediateStep(1)
	step2 := &domain.CampaignStep{
		ID: "step-2", StepOrder: 2, Trigger: domain.TriggerImmediate,
		DelayMinutes: 1, Timezone: "UTC",
	}
	anchors := NewAnchors()

	var step1Last time.Time
	anchors.BeginStep()
	for i := 0; i < 30; i++ {
		step1Last = SendTime(SendTimeInput{
			Step: step1, GlobalIndex: i, Alloc: SingleDayAllocation(0, 30), Now: testNow,
		}, anchors)
	}

	anchors.BeginStep()
	step2First := SendTime(SendTimeInput{
		Step: step2, GlobalIndex: 0, Alloc: SingleDayAllocation(0, 30), Now: testNow,
	}, anchors)

	assert.False(t, step2First.Before(step1Last.Add(time.Minute)),
		"step 2 first email %v must be >= step 1 last %v + delay", step2First, step1Last)
}

func TestSendTime_ResumeContinuesAfterSentHistory(t *testing.T) {
	step := immediateStep(1)

	// Original pass: 10 emails, the 4th (index 3) was the last one sent
	// before the pause.
	orig := NewAnchors()
	var sentTimes []time.Time
	for i := 0; i < 10; i++ {
		sentTimes = append(sentTimes, SendTime(SendTimeInput{
			Step: step, GlobalIndex: i, Alloc: SingleDayAllocation(0, 10), Now: testNow,
		}, orig))
	}
	lastSent := sentTimes[3]

	// Resume pass: 4 already sent today; indices keep their original
	// positions within the step.
	resumeNow := testNow.Add(30 * time.Minute)
	resumed := NewAnchors()
	resumed.SeedLast(0, lastSent)

	first := SendTime(SendTimeInput{
		Step:              step,
		GlobalIndex:       4,
		Alloc:             SingleDayAllocation(0, 10),
		AlreadySentOnDay0: 4,
		Now:               resumeNow,
	}, resumed)

	assert.True(t, first.After(lastSent),
		"first resumed email %v must be strictly after last sent %v", first, lastSent)
	assert.Equal(t, lastSent.Add(time.Minute), first)

	second := SendTime(SendTimeInput{
		Step:              step,
		GlobalIndex:       5,
		Alloc:             SingleDayAllocation(0, 10),
		AlreadySentOnDay0: 4,
		Now:               resumeNow,
	}, resumed)
	assert.Equal(t, first.Add(time.Minute), second)
}

func TestSendTime_DelayFloorApplied(t *testing.T) {
	step := immediateStep(0) // below floor, clamps to 0.5
	anchors := NewAnchors()
	alloc := SingleDayAllocation(0, 2)

	first := SendTime(SendTimeInput{Step: step, GlobalIndex: 0, Alloc: alloc, Now: testNow}, anchors)
	second := SendTime(SendTimeInput{Step: step, GlobalIndex: 1, Alloc: alloc, Now: testNow}, anchors)
	assert.Equal(t, 30*time.Second, second.Sub(first))
}

func TestSendTime_LocalTimezoneProjection(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, loc) // 9am New York
	step := &domain.CampaignStep{
		ID: "step-1", StepOrder: 1, Trigger: domain.TriggerSchedule,
		ScheduleTime: &at, DelayMinutes: 1, Timezone: "America/New_York",
	}
	anchors := NewAnchors()

	got := SendTime(SendTimeInput{
		Step:        step,
		GlobalIndex: 5,
		Alloc:       domain.DayAllocation{Day: 1, StartIndex: 5, EndIndex: 9},
		Now:         testNow,
	}, anchors)

	// 9am New York on day 1, regardless of what that is in UTC.
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, loc).UTC(), got)
}
