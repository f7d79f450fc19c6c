package domain

import "time"

// DayAllocation assigns one contiguous slice of a scheduling batch's index
// range to a single day. Indices are inclusive on both ends.
type DayAllocation struct {
	Day        int `json:"day"`
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
	QuotaUsed  int `json:"quota_used"`
}

// Contains reports whether the batch index falls inside this allocation.
func (a DayAllocation) Contains(index int) bool {
	return index >= a.StartIndex && index <= a.EndIndex
}

// StepAllocation is one step's slice of the campaign-wide distribution, as
// persisted in the quota snapshot. GlobalOffset is the step's base in the
// campaign's global email index space (subscribedCount * stepsBefore).
type StepAllocation struct {
	StepID       string          `json:"step_id"`
	StepOrder    int             `json:"step_order"`
	GlobalOffset int             `json:"global_offset"`
	Allocations  []DayAllocation `json:"allocations"`
}

// QuotaSnapshot records the distribution a scheduling pass computed, for
// audit and resume. It is advisory: resume recomputes from live quota and
// replaces it.
type QuotaSnapshot struct {
	Steps      []StepAllocation `json:"steps"`
	ComputedAt time.Time        `json:"computed_at"`
}
