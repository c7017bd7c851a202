package transcript

import (
	"context"
	"sync"
	"time"

	"voice-agent-platform/internal/calls"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory append-only Store for tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	byCall map[string][]calls.Utterance
	clock  func() time.Time

	// FailAppend makes Append return the error, for exercising degraded paths.
	FailAppend error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCall: map[string][]calls.Utterance{}, clock: time.Now}
}

func (s *MemoryStore) Append(ctx context.Context, callSID string, speaker calls.Speaker, text string) (calls.Utterance, error) {
	if err := validate(callSID, speaker, text); err != nil {
		return calls.Utterance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return calls.Utterance{}, s.FailAppend
	}
	u := calls.Utterance{
		ID:        uuid.NewString(),
		CallSID:   callSID,
		Seq:       len(s.byCall[callSID]) + 1,
		Speaker:   speaker,
		Text:      text,
		CreatedAt: s.clock().UTC(),
	}
	s.byCall[callSID] = append(s.byCall[callSID], u)
	return u, nil
}

func (s *MemoryStore) List(ctx context.Context, callSID string) ([]calls.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.byCall[callSID]
	out := make([]calls.Utterance, len(src))
	copy(out, src)
	return out, nil
}
