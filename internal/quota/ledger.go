// Package quota tracks per-identity daily sending capacity.
//
// The ledger is the single source of truth for how many emails a sending
// identity has committed on each calendar day (in the identity's timezone).
// The distributor reads it in batched day ranges; the campaign service
// commits against it as messages are queued. Campaigns sharing one identity
// must serialize their quota-consuming writes (the service holds a
// per-identity lock around distribute+commit).
package quota

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by restrict-mode checks when an operation
// cannot complete within its bounded window.
var ErrQuotaExceeded = errors.New("daily sending quota exceeded")

// Ledger exposes remaining-quota queries and commit-on-schedule writes.
// Day offsets are 0-based local days in the identity's timezone.
type Ledger interface {
	// RemainingToday returns how many emails the identity can still commit
	// today. Never negative.
	RemainingToday(ctx context.Context, identity, timezone string) (int, error)

	// RemainingForDays returns remaining quota for each day offset in
	// [startDay, endDay] as one batched read. Days with nothing committed
	// report the full daily limit.
	RemainingForDays(ctx context.Context, identity string, startDay, endDay int, timezone string) (map[int]int, error)

	// DailyLimit returns the identity's daily sending cap.
	DailyLimit(ctx context.Context, identity string) (int, error)

	// Commit records n emails scheduled on the given day offset. The write
	// is atomic per (identity, day).
	Commit(ctx context.Context, identity string, day, n int, timezone string) error
}
