package agents

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo holds profiles in process. It backs local runs (seeded from YAML) and tests.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]Profile
	byNumber map[string]string
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Profile{}, byNumber: map[string]string{}, clock: time.Now}
}

// Put inserts or replaces a profile. At most one active profile may own a number.
func (r *MemoryRepo) Put(p Profile) error {
	if err := validate(p); err != nil {
		return err
	}
	num := NormalizePhone(p.PhoneNumber)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byNumber[num]; ok && owner != p.ID && p.Active {
		return ErrDuplicateNumber
	}
	if prev, ok := r.byID[p.ID]; ok {
		if n := NormalizePhone(prev.PhoneNumber); r.byNumber[n] == p.ID {
			delete(r.byNumber, n)
		}
		p.CreatedAt = prev.CreatedAt
	}
	now := r.clock().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.byID[p.ID] = p
	if p.Active {
		r.byNumber[num] = p.ID
	}
	return nil
}

func (r *MemoryRepo) Resolve(ctx context.Context, phoneNumber string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[NormalizePhone(phoneNumber)]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return r.byID[id].WithDefaults(), nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.WithDefaults(), nil
}
