package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/events"
	"voice-agent-platform/internal/pricing"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/internal/transcript"
)

const (
	agentNumber = "+15550100000"
	callerNum   = "+15557654321"
)

type fakeRecordings struct {
	url string
	err error
}

func (f fakeRecordings) LatestRecordingURL(ctx context.Context, callSID string) (string, error) {
	return f.url, f.err
}

type fakeDialer struct {
	mu     sync.Mutex
	result telephony.CallResult
	err    error
	placed []telephony.OutboundCall

	// onPlaced runs after the call is placed and before PlaceCall returns.
	onPlaced func(res telephony.CallResult)
}

func (f *fakeDialer) PlaceCall(ctx context.Context, req telephony.OutboundCall) (telephony.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.onPlaced != nil && f.err == nil {
		f.onPlaced(f.result)
	}
	return f.result, f.err
}

// failingSessions wraps a repository and fails selected operations.
type failingSessions struct {
	calls.Repository
	getErr error
}

func (f failingSessions) Get(ctx context.Context, callSID string) (calls.CallSession, error) {
	if f.getErr != nil {
		return calls.CallSession{}, f.getErr
	}
	return f.Repository.Get(ctx, callSID)
}

type harness struct {
	sessions    *calls.MemoryRepo
	transcripts *transcript.MemoryStore
	agents      *agents.MemoryRepo
	llm         *completion.Fake
	capacity    *calls.MemoryCapacity
	pub         *events.MockPublisher
	deps        Deps
	engine      *Engine
	reconciler  *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions:    calls.NewMemoryRepo(),
		transcripts: transcript.NewMemoryStore(),
		agents:      agents.NewMemoryRepo(),
		llm:         &completion.Fake{Reply: "Sure, I can help with that."},
		capacity:    calls.NewMemoryCapacity(10),
		pub:         events.NewMockPublisher(),
	}
	if err := h.agents.Put(agents.Profile{
		ID:             "agent-1",
		OrganizationID: "org-1",
		PhoneNumber:    agentNumber,
		Goodbye:        "Thanks for calling Acme. Goodbye!",
		SystemPrompt:   "You are Acme's receptionist.",
		Active:         true,
	}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	h.deps = Deps{
		Sessions:    h.sessions,
		Transcripts: h.transcripts,
		Agents:      h.agents,
		Completion:  h.llm,
		Locks:       calls.NewLockRegistry(),
		Capacity:    h.capacity,
		Recordings:  fakeRecordings{url: "https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1.mp3"},
		Pricing:     pricing.NewService(&pricing.MemoryRepo{Minute: pricing.DefaultRates(2, "USD")}),
		Events:      events.NewBus(h.pub, "voiceagent"),
		Clock:       time.Now,
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	h.engine = NewEngine(h.deps)
	h.reconciler = NewReconciler(h.deps)
}

// answer places an inbound call through the engine and fails the test if it was not accepted.
func (h *harness) answer(t *testing.T, callSID string) {
	t.Helper()
	in := h.engine.HandleInbound(context.Background(), telephony.InboundCall{CallSID: callSID, From: callerNum, To: agentNumber})
	if in.Intent != telephony.SpeakListen {
		t.Fatalf("expected call %s to be answered, got %+v", callSID, in)
	}
}

func (h *harness) transcript(t *testing.T, callSID string) []calls.Utterance {
	t.Helper()
	us, err := h.transcripts.List(context.Background(), callSID)
	if err != nil {
		t.Fatalf("list transcript: %v", err)
	}
	return us
}

func (h *harness) session(t *testing.T, callSID string) calls.CallSession {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), callSID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func (h *harness) topics() []string {
	var out []string
	for _, m := range h.pub.Messages() {
		out = append(out, m.Topic)
	}
	return out
}

var errBoom = errors.New("boom")
