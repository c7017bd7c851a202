package pricing

import "time"

// Amounts are minor units (cents) in int64.

// Wildcard matches any organization or destination in a MinutePricing row.
const Wildcard = "*"

// MinutePricing is a per-minute call rate.
type MinutePricing struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Direction CallDirection `json:"direction" db:"direction"`

	// Destination is an E.164 prefix ("+1", "+44") or Wildcard.
	Destination string `json:"destination" db:"destination"`

	Currency string `json:"currency" db:"currency"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	// BillingIncrementSeconds is 60 for per-minute, 1 for per-second billing.
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`
	MinimumBillableSeconds  int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PricingStatus `json:"status" db:"status"`
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// DefaultRates is the platform-wide row set built from configuration:
// one wildcard rate per direction.
func DefaultRates(ratePerMinuteMinor int64, currency string) []MinutePricing {
	var out []MinutePricing
	for _, d := range []CallDirection{CallDirectionInbound, CallDirectionOutbound} {
		out = append(out, MinutePricing{
			ID:                      "default-" + string(d),
			OrganizationID:          Wildcard,
			Direction:               d,
			Destination:             Wildcard,
			Currency:                currency,
			RatePerMinuteMinor:      ratePerMinuteMinor,
			BillingIncrementSeconds: 60,
			Status:                  PricingStatusActive,
		})
	}
	return out
}
