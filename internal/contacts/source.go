// Package contacts exposes the read side of contact storage that the
// scheduler needs. Contact CRUD lives elsewhere; the engine only ever asks
// "who is sendable on this list, in what order".
package contacts

import "context"

// Source lists the sendable contacts of a list.
//
// Contract: results are ordered by ascending contact ID and the ordering is
// stable across calls. The send-time fold fills day anchors in iteration
// order, so which contact becomes "first of the day" is determined by this
// ordering; it is a scheduling invariant, not a presentation choice.
// Bounced and unsubscribed contacts are excluded.
type Source interface {
	// Subscribed returns the ordered contact IDs of the list.
	Subscribed(ctx context.Context, listID string) ([]string, error)

	// SubscribedCount returns the size of Subscribed without materializing it.
	SubscribedCount(ctx context.Context, listID string) (int, error)
}
