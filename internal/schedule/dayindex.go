// Package schedule implements the sequence engine's core scheduling math:
// mapping day offsets to instants, distributing a batch of emails across
// days under a daily quota, and computing the exact send time of each email.
//
// Everything here is pure given its inputs. The clock is always an explicit
// parameter so a scheduling pass is reproducible.
package schedule

import (
	"time"

	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// HorizonDays is the farthest day offset the engine will schedule into.
// Distribution past the horizon is cut off and reported as partial; callers
// pick up the remainder on a later scheduling pass.
const HorizonDays = 365

// loadZone resolves an IANA zone name, falling back to UTC on failure.
// A bad zone is a data problem, not a scheduling failure.
func loadZone(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Warn("unknown timezone, falling back to UTC", "timezone", tz)
		return time.UTC
	}
	return loc
}

// DayStart returns the UTC instant of local midnight dayOffset days from
// "today" in tz. DayStart(d+1) is the exclusive upper bound of day d.
func DayStart(dayOffset int, tz string, now time.Time) time.Time {
	loc := loadZone(tz)
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, dayOffset).UTC()
}

// DayOf is the inverse of DayStart: the day offset containing t. Instants
// before day 0 saturate to 0 and instants past the horizon saturate to
// HorizonDays; both are logged, neither is an error.
func DayOf(t time.Time, tz string, now time.Time) int {
	if t.Before(DayStart(0, tz, now)) {
		logger.Warn("instant predates day 0, clamping", "instant", t.Format(time.RFC3339))
		return 0
	}
	for d := 0; d < HorizonDays; d++ {
		if t.Before(DayStart(d+1, tz, now)) {
			return d
		}
	}
	logger.Warn("instant beyond scheduling horizon, clamping", "instant", t.Format(time.RFC3339))
	return HorizonDays
}
