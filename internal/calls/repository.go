package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("calls: session not found")
	ErrAlreadyExists    = errors.New("calls: session already exists")
	ErrStatusRegression = errors.New("calls: status does not move forward")
	ErrAlreadyTerminal  = errors.New("calls: session already terminal")
	ErrNotTerminal      = errors.New("calls: session not terminal")
	ErrInvalidSession   = errors.New("calls: invalid session")
)

// Repository persists CallSessions. Implementations enforce the forward-only
// status rule and the write-once rule for terminal fields.
type Repository interface {
	Create(ctx context.Context, s CallSession) (CallSession, error)
	Get(ctx context.Context, callSID string) (CallSession, error)

	// Advance moves a non-terminal session to a later non-terminal status.
	Advance(ctx context.Context, callSID string, to Status) (CallSession, error)
	MarkHangupRequested(ctx context.Context, callSID string) error

	// Finalize moves a session to a terminal status and records its duration.
	Finalize(ctx context.Context, callSID string, f Final) (CallSession, error)
	// Enrich fills post-call fields that are still unset on a terminal session.
	Enrich(ctx context.Context, callSID string, e Enrichment) (CallSession, error)

	List(ctx context.Context, f Filter) ([]CallSession, error)
}

type Final struct {
	Status          Status
	DurationSeconds int
	EndedAt         time.Time
}

type Enrichment struct {
	RecordingURL string
	Summary      string
	CostMinor    int64
	Currency     string
	// ReleaseCapacity clears CapacityHeld.
	ReleaseCapacity bool
}

type Filter struct {
	OrganizationID string
	AgentID        string
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

func (f Filter) withDefaults() Filter {
	out := f
	if out.Limit <= 0 {
		out.Limit = 20
	}
	if out.Limit > 500 {
		out.Limit = 500
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

func validateNew(s CallSession) error {
	if s.CallSID == "" || s.AgentID == "" {
		return ErrInvalidSession
	}
	if s.Status.Rank() == 0 || s.Status.IsTerminal() {
		return ErrInvalidSession
	}
	if s.Direction != DirectionInbound && s.Direction != DirectionOutbound {
		return ErrInvalidSession
	}
	return nil
}

func validateFinal(f Final) error {
	if !f.Status.IsTerminal() {
		return ErrInvalidSession
	}
	if f.DurationSeconds < 0 {
		return ErrInvalidSession
	}
	return nil
}

// applyEnrichment mutates s in place, touching only unset fields.
func applyEnrichment(s *CallSession, e Enrichment) {
	if s.RecordingURL == "" && e.RecordingURL != "" {
		s.RecordingURL = e.RecordingURL
	}
	if s.Summary == "" && e.Summary != "" {
		s.Summary = e.Summary
	}
	if s.CostMinor == 0 && e.CostMinor > 0 {
		s.CostMinor = e.CostMinor
		s.Currency = e.Currency
	}
	if e.ReleaseCapacity {
		s.CapacityHeld = false
	}
}
