package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]CallSession
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: map[string]CallSession{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if err := validateNew(s); err != nil {
		return CallSession{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.CallSID]; ok {
		return CallSession{}, ErrAlreadyExists
	}
	now := r.clock().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Transcript = nil
	r.sessions[s.CallSID] = s
	return s, nil
}

func (r *MemoryRepo) Get(ctx context.Context, callSID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Advance(ctx context.Context, callSID string, to Status) (CallSession, error) {
	if to.IsTerminal() {
		return CallSession{}, ErrInvalidSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if !s.Status.CanAdvance(to) {
		return s, ErrStatusRegression
	}
	s.Status = to
	s.UpdatedAt = r.clock().UTC()
	r.sessions[callSID] = s
	return s, nil
}

func (r *MemoryRepo) MarkHangupRequested(ctx context.Context, callSID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return ErrNotFound
	}
	s.HangupRequested = true
	s.UpdatedAt = r.clock().UTC()
	r.sessions[callSID] = s
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, callSID string, f Final) (CallSession, error) {
	if err := validateFinal(f); err != nil {
		return CallSession{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status.IsTerminal() {
		return s, ErrAlreadyTerminal
	}
	now := r.clock().UTC()
	ended := f.EndedAt
	if ended.IsZero() {
		ended = now
	}
	s.Status = f.Status
	s.DurationSeconds = f.DurationSeconds
	s.EndedAt = &ended
	s.UpdatedAt = now
	r.sessions[callSID] = s
	return s, nil
}

func (r *MemoryRepo) Enrich(ctx context.Context, callSID string, e Enrichment) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if !s.Status.IsTerminal() {
		return s, ErrNotTerminal
	}
	applyEnrichment(&s, e)
	s.UpdatedAt = r.clock().UTC()
	r.sessions[callSID] = s
	return s, nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]CallSession, error) {
	f = f.withDefaults()
	r.mu.Lock()
	out := make([]CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if f.OrganizationID != "" && s.OrganizationID != f.OrganizationID {
			continue
		}
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if !f.From.IsZero() && s.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallSID < out[j].CallSID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset >= len(out) {
		return []CallSession{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
