package calls

import "sync"

// LockRegistry serializes work per call identifier.
// Entries are reference counted and removed once no goroutine holds or
// waits on them, so finished calls leave nothing behind.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: map[string]*callLock{}}
}

// Lock blocks until the caller holds callSID's lock and returns the release func.
func (r *LockRegistry) Lock(callSID string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[callSID]
	if !ok {
		l = &callLock{}
		r.locks[callSID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			r.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, callSID)
			}
			r.mu.Unlock()
		})
	}
}

// Len returns the number of live entries.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
