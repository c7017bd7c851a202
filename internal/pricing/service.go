package pricing

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Service rates finished calls against per-minute rows matched by the remote
// party's E.164 prefix.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// RateRepository picks the single row that applies to a call. Destination is
// either a normalized E.164 number or "" when the remote number is withheld
// or not dialable, in which case only Wildcard destinations match.
type RateRepository interface {
	FindMinutePricing(ctx context.Context, organizationID string, direction CallDirection, destination string, at time.Time) (MinutePricing, bool, error)
}

type CallCostRequest struct {
	OrganizationID string
	Direction      CallDirection

	// Destination is the remote party's number. Formatting characters are
	// stripped; anything that is not E.164 afterwards rates as Wildcard.
	Destination string

	DurationSeconds int

	// At selects the effective row; zero means now.
	At time.Time
}

type CallCost struct {
	OrganizationID string
	Direction      CallDirection
	// Destination is the normalized number that was rated, "" for Wildcard.
	Destination    string
	// RateID is the MinutePricing row that matched.
	RateID         string

	Currency string

	BillableSeconds int
	BillableMinutes int

	RatePerMinuteMinor int64
	TotalMinor         int64
}

var (
	ErrPricingNotFound   = errors.New("pricing: no rate for call")
	ErrInvalidPricingReq = errors.New("pricing: invalid request")
	ErrInvalidRate       = errors.New("pricing: invalid rate row")
)

// CalculateCallCost rates a finished call. Calls with no billable duration
// are rejected with ErrInvalidPricingReq.
func (s *Service) CalculateCallCost(ctx context.Context, req CallCostRequest) (CallCost, error) {
	if strings.TrimSpace(req.OrganizationID) == "" {
		return CallCost{}, ErrInvalidPricingReq
	}
	if req.Direction != CallDirectionInbound && req.Direction != CallDirectionOutbound {
		return CallCost{}, ErrInvalidPricingReq
	}
	if req.DurationSeconds <= 0 {
		return CallCost{}, ErrInvalidPricingReq
	}

	at := req.At
	if at.IsZero() {
		at = s.clock()
	}
	dest := NormalizeDestination(req.Destination)

	mp, ok, err := s.repo.FindMinutePricing(ctx, req.OrganizationID, req.Direction, dest, at.UTC())
	if err != nil {
		return CallCost{}, err
	}
	if !ok {
		return CallCost{}, ErrPricingNotFound
	}
	if err := mp.Validate(); err != nil {
		return CallCost{}, err
	}

	billable := billableSeconds(req.DurationSeconds, mp.MinimumBillableSeconds, mp.BillingIncrementSeconds)
	return CallCost{
		OrganizationID:     req.OrganizationID,
		Direction:          req.Direction,
		Destination:        dest,
		RateID:             mp.ID,
		Currency:           mp.Currency,
		BillableSeconds:    billable,
		BillableMinutes:    ceilDiv(billable, 60),
		RatePerMinuteMinor: mp.RatePerMinuteMinor,
		// Per-second rows charge the exact share of the minute rate, rounded up.
		TotalMinor:         ceilDiv64(mp.RatePerMinuteMinor*int64(billable), 60),
	}, nil
}

// NormalizeDestination strips spaces, dashes, dots and parentheses and returns
// the result when it is E.164 ("+" and 8 to 15 digits), "" otherwise.
func NormalizeDestination(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if !isE164Prefix(s) || len(s) < 9 || len(s) > 16 {
		return ""
	}
	return s
}

// isE164Prefix reports whether s is "+" followed by at least one digit and
// nothing else. Full numbers and rate prefixes ("+1", "+4420") both qualify.
func isE164Prefix(s string) bool {
	if len(s) < 2 || s[0] != '+' || s[1] == '0' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate checks a rate row before it is used to charge a call.
func (p MinutePricing) Validate() error {
	switch {
	case p.Destination != Wildcard && !isE164Prefix(p.Destination):
		return ErrInvalidRate
	case p.RatePerMinuteMinor < 0:
		return ErrInvalidRate
	case len(p.Currency) != 3:
		return ErrInvalidRate
	case p.BillingIncrementSeconds < 0 || p.MinimumBillableSeconds < 0:
		return ErrInvalidRate
	}
	return nil
}

// billableSeconds applies the row's minimum, then rounds up to its increment.
// A zero increment means per-minute billing.
func billableSeconds(actual, minimum, increment int) int {
	if actual <= 0 {
		return 0
	}
	if increment <= 0 {
		increment = 60
	}
	if actual < minimum {
		actual = minimum
	}
	return ceilDiv(actual, increment) * increment
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func ceilDiv64(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
