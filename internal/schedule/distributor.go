package schedule

import (
	"context"
	"fmt"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
	"github.com/ignite/sequence-engine/internal/quota"
)

// windowSlack is how many extra days beyond the theoretical minimum the
// distributor fetches in one ledger range read, to absorb zero-quota days
// without a second round trip.
const windowSlack = 10

// DistributeInput describes one batch to spread across days.
type DistributeInput struct {
	// Identity is the sending identity whose ledger is consulted.
	Identity string
	// TotalEmails is the size of the batch. Indices run [0, TotalEmails-1].
	TotalEmails int
	// RemainingToday is the identity's remaining quota on StartDay, read by
	// the caller before invoking. Used only for the no-spread fast path.
	RemainingToday int
	// DailyLimit sizes the ledger read window.
	DailyLimit int
	// Timezone is the identity's IANA zone for day accounting.
	Timezone string
	// StartDay is the nominal first day offset (0 = today).
	StartDay int
	// Scheduled marks a SCHEDULE-triggered run: if StartDay has no quota the
	// distribution rebases to the first day that does, rather than silently
	// emitting nothing for the start day.
	Scheduled bool
}

// Distribution is the result of spreading a batch across days.
type Distribution struct {
	Allocations []domain.DayAllocation

	// WillSpread is false when the whole batch fits in today's remaining
	// quota; Allocations is empty in that case and the caller schedules the
	// batch as a single run on StartDay.
	WillSpread bool

	// Partial is true when the horizon was reached before every email was
	// allocated. The unallocated tail is picked up by a later pass.
	Partial bool

	// StartDay is the effective first day after any rebase.
	StartDay int

	// RebasedFromDay is the originally requested start day when a scheduled
	// run was moved to the first day with available quota, else -1.
	RebasedFromDay int
}

// AllocationFor returns the allocation containing the batch index, or false.
func (d Distribution) AllocationFor(index int) (domain.DayAllocation, bool) {
	for _, a := range d.Allocations {
		if a.Contains(index) {
			return a, true
		}
	}
	return domain.DayAllocation{}, false
}

// TotalAllocated sums QuotaUsed across the distribution.
func (d Distribution) TotalAllocated() int {
	n := 0
	for _, a := range d.Allocations {
		n += a.QuotaUsed
	}
	return n
}

// Distributor spreads email batches across days against the quota ledger.
type Distributor struct {
	ledger quota.Ledger
}

// NewDistributor creates a distributor reading from the given ledger.
func NewDistributor(ledger quota.Ledger) *Distributor {
	return &Distributor{ledger: ledger}
}

// Distribute computes a day-by-day allocation for the batch. Allocations are
// contiguous in index space with no gaps or overlaps; days with no remaining
// quota are skipped. The ledger window is read in batches rather than per
// day. A horizon overflow yields a partial distribution, not an error.
func (dr *Distributor) Distribute(ctx context.Context, in DistributeInput) (Distribution, error) {
	dist := Distribution{StartDay: in.StartDay, RebasedFromDay: -1}

	if in.TotalEmails <= 0 {
		return dist, nil
	}
	if in.DailyLimit <= 0 {
		return dist, fmt.Errorf("daily limit must be positive, got %d", in.DailyLimit)
	}
	if in.StartDay < 0 || in.StartDay > HorizonDays {
		return dist, fmt.Errorf("start day %d outside [0, %d]", in.StartDay, HorizonDays)
	}

	// Fast path: everything fits today, no spread needed.
	if in.TotalEmails <= in.RemainingToday {
		return dist, nil
	}

	windowLen := in.TotalEmails/in.DailyLimit + 1 + windowSlack
	window, err := dr.fetchWindow(ctx, in, in.StartDay, windowLen)
	if err != nil {
		return dist, err
	}
	windowEnd := in.StartDay + windowLen - 1

	day := in.StartDay

	// A scheduled campaign never silently starts on a day it cannot send
	// on: rebase to the first day with quota.
	if in.Scheduled && window[day] <= 0 {
		for day <= HorizonDays && window[day] <= 0 {
			day++
			if day > windowEnd {
				window, err = dr.fetchWindow(ctx, in, day, windowLen)
				if err != nil {
					return dist, err
				}
				windowEnd = day + windowLen - 1
			}
		}
		if day != in.StartDay && day <= HorizonDays {
			logger.Warn("scheduled run rebased to first day with quota",
				"identity", in.Identity, "from_day", in.StartDay, "to_day", day)
			dist.RebasedFromDay = in.StartDay
			dist.StartDay = day
		}
	}

	cursor := 0
	for cursor < in.TotalEmails && day <= HorizonDays {
		if day > windowEnd {
			window, err = dr.fetchWindow(ctx, in, day, windowLen)
			if err != nil {
				return dist, err
			}
			windowEnd = day + windowLen - 1
		}

		remaining := window[day]
		if remaining <= 0 {
			day++
			continue
		}

		take := remaining
		if left := in.TotalEmails - cursor; take > left {
			take = left
		}
		dist.Allocations = append(dist.Allocations, domain.DayAllocation{
			Day:        day,
			StartIndex: cursor,
			EndIndex:   cursor + take - 1,
			QuotaUsed:  take,
		})
		cursor += take
		day++
	}

	dist.WillSpread = true
	if cursor < in.TotalEmails {
		dist.Partial = true
		logger.Warn("quota distribution hit scheduling horizon",
			"identity", in.Identity, "allocated", cursor, "total", in.TotalEmails)
	}
	return dist, nil
}

func (dr *Distributor) fetchWindow(ctx context.Context, in DistributeInput, startDay, windowLen int) (map[int]int, error) {
	endDay := startDay + windowLen - 1
	if endDay > HorizonDays {
		endDay = HorizonDays
	}
	window, err := dr.ledger.RemainingForDays(ctx, in.Identity, startDay, endDay, in.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota window [%d, %d] for %s: %w", startDay, endDay, in.Identity, err)
	}
	return window, nil
}

// OffsetAllocations shifts a distribution's index range by base, placing a
// per-step distribution into the campaign's global index space for the
// persisted snapshot.
func OffsetAllocations(allocs []domain.DayAllocation, base int) []domain.DayAllocation {
	out := make([]domain.DayAllocation, len(allocs))
	for i, a := range allocs {
		a.StartIndex += base
		a.EndIndex += base
		out[i] = a
	}
	return out
}

// SingleDayAllocation covers a whole batch on one day: the shape the
// no-spread fast path implies.
func SingleDayAllocation(day, total int) domain.DayAllocation {
	return domain.DayAllocation{Day: day, StartIndex: 0, EndIndex: total - 1, QuotaUsed: total}
}

// RestrictWindowExceeded reports whether a distribution violates a
// restrict-mode window: it either spills past startDay+windowDays or was cut
// off at the horizon.
func RestrictWindowExceeded(dist Distribution, windowDays int) bool {
	if dist.Partial {
		return true
	}
	for _, a := range dist.Allocations {
		if a.Day > dist.StartDay+windowDays {
			return true
		}
	}
	return false
}
