package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func TestDayStart_UTC(t *testing.T) {
	got := DayStart(0, "UTC", testNow)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), got)

	got = DayStart(3, "UTC", testNow)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), got)
}

func TestDayStart_LocalMidnight(t *testing.T) {
	// 2026-03-10 15:30 UTC is 2026-03-10 11:30 in New York (EDT, UTC-4).
	got := DayStart(0, "America/New_York", testNow)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), got)
}

func TestDayStart_UnknownZoneFallsBackToUTC(t *testing.T) {
	got := DayStart(0, "Not/AZone", testNow)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestDayOf_Inverse(t *testing.T) {
	for _, tz := range []string{"UTC", "America/New_York", "Asia/Tokyo"} {
		for _, d := range []int{0, 1, 2, 7, 30, 100, 364, 365} {
			assert.Equal(t, d, DayOf(DayStart(d, tz, testNow), tz, testNow),
				"tz=%s d=%d", tz, d)
		}
	}
}

func TestDayOf_Saturates(t *testing.T) {
	// Before day 0 clamps to 0.
	assert.Equal(t, 0, DayOf(testNow.AddDate(0, 0, -5), "UTC", testNow))
	// Beyond the horizon clamps to HorizonDays.
	assert.Equal(t, HorizonDays, DayOf(testNow.AddDate(0, 0, 400), "UTC", testNow))
}

func TestDayOf_MidDayInstant(t *testing.T) {
	instant := time.Date(2026, 3, 12, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, 2, DayOf(instant, "UTC", testNow))
}
