package agents

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("agents: profile not found")
	ErrInvalidProfile  = errors.New("agents: invalid profile")
	ErrDuplicateNumber = errors.New("agents: phone number already has an active profile")
)

// Provider resolves agent profiles by dialed number or id.
type Provider interface {
	// Resolve returns the active profile for phoneNumber with defaults applied.
	Resolve(ctx context.Context, phoneNumber string) (Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
}

func validate(p Profile) error {
	if p.ID == "" || NormalizePhone(p.PhoneNumber) == "" {
		return ErrInvalidProfile
	}
	return nil
}
