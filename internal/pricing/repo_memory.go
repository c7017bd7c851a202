package pricing

import (
	"context"
	"strings"
	"time"
)

// MemoryRepo resolves rates from a fixed row set.
//
// Resolution order: organization-specific rows beat wildcard rows, a longer
// destination prefix beats a shorter one (Wildcard is the shortest), and among
// equals the most recent EffectiveFrom wins.
type MemoryRepo struct {
	Minute []MinutePricing
}

func (r *MemoryRepo) FindMinutePricing(ctx context.Context, organizationID string, direction CallDirection, destination string, at time.Time) (MinutePricing, bool, error) {
	var best MinutePricing
	bestScore := -1

	for _, p := range r.Minute {
		if p.OrganizationID != organizationID && p.OrganizationID != Wildcard {
			continue
		}
		if p.Direction != direction || p.Status != PricingStatusActive {
			continue
		}
		if p.Destination != Wildcard && !strings.HasPrefix(destination, p.Destination) {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		score := 0
		if p.Destination != Wildcard {
			score = len(p.Destination)
		}
		if p.OrganizationID != Wildcard {
			score += 1000
		}
		if score > bestScore || (score == bestScore && p.EffectiveFrom.After(best.EffectiveFrom)) {
			best = p
			bestScore = score
		}
	}

	return best, bestScore >= 0, nil
}
