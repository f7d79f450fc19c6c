package campaign

import (
	"fmt"
	"sort"

	"github.com/ignite/sequence-engine/internal/domain"
)

// transitions is the authoritative map of legal status successors.
// COMPLETED→ACTIVE covers re-opening a finished campaign when a new step is
// appended. CANCELLED is fully terminal.
var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:     {domain.CampaignActive, domain.CampaignCancelled},
	domain.CampaignActive:    {domain.CampaignPaused, domain.CampaignCompleted, domain.CampaignCancelled},
	domain.CampaignPaused:    {domain.CampaignActive, domain.CampaignCancelled},
	domain.CampaignCompleted: {domain.CampaignActive},
	domain.CampaignCancelled: {},
}

// CanTransition reports whether from→to is legal. A same-state transition
// is always allowed (it is a no-op, not an error).
func CanTransition(from, to domain.CampaignStatus) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns nil for a legal transition and an error naming
// the allowed successor set otherwise.
func CheckTransition(from, to domain.CampaignStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	allowed := make([]string, 0, len(transitions[from]))
	for _, s := range transitions[from] {
		allowed = append(allowed, string(s))
	}
	sort.Strings(allowed)
	return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrInvalidTransition, from, to, allowed)
}

// AllowedSuccessors returns the legal next states for a status.
func AllowedSuccessors(from domain.CampaignStatus) []domain.CampaignStatus {
	out := make([]domain.CampaignStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}
