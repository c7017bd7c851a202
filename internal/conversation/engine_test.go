package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/telephony"
)

func TestHandleInbound_GreetsAndStartsSession(t *testing.T) {
	h := newHarness(t)

	in := h.engine.HandleInbound(context.Background(), telephony.InboundCall{CallSID: "CA1", From: callerNum, To: "+1 (555) 010-0000"})
	if in.Intent != telephony.SpeakListen || in.Text != agents.DefaultGreeting {
		t.Fatalf("expected default greeting with listen, got %+v", in)
	}

	s := h.session(t, "CA1")
	if s.Status != calls.StatusInProgress || s.AgentID != "agent-1" || s.OrganizationID != "org-1" || !s.CapacityHeld {
		t.Fatalf("unexpected session: %+v", s)
	}
	if h.capacity.Active("agent-1") != 1 {
		t.Fatalf("expected one slot held")
	}
	if topics := h.topics(); len(topics) != 1 || topics[0] != "voiceagent/calls/CA1/call.started" {
		t.Fatalf("unexpected events: %v", topics)
	}
	if len(h.transcript(t, "CA1")) != 0 {
		t.Fatalf("expected empty transcript after greeting")
	}
}

func TestHandleInbound_SpeaksWithAgentVoice(t *testing.T) {
	h := newHarness(t)
	if err := h.agents.Put(agents.Profile{
		ID:             "agent-2",
		OrganizationID: "org-1",
		PhoneNumber:    "+15550100001",
		VoiceID:        "Polly.Joanna",
		Active:         true,
	}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	in := h.engine.HandleInbound(context.Background(), telephony.InboundCall{CallSID: "CA9", From: callerNum, To: "+15550100001"})
	if in.Intent != telephony.SpeakListen || in.Voice != "Polly.Joanna" {
		t.Fatalf("expected greeting in agent voice, got %+v", in)
	}
	if in := h.engine.HandleUtterance(context.Background(), "CA9", "hello"); in.Voice != "Polly.Joanna" {
		t.Fatalf("expected reply in agent voice, got %+v", in)
	}
	if in := h.engine.HandleUtterance(context.Background(), "CA9", "goodbye"); in.Intent != telephony.SpeakHangup || in.Voice != "Polly.Joanna" {
		t.Fatalf("expected goodbye in agent voice, got %+v", in)
	}
}

func TestHandleInbound_RetryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")
	h.answer(t, "CA1")

	if h.capacity.Active("agent-1") != 1 {
		t.Fatalf("expected retry not to take a second slot, got %d", h.capacity.Active("agent-1"))
	}
	if len(h.topics()) != 1 {
		t.Fatalf("expected a single call.started, got %v", h.topics())
	}
}

func TestHandleInbound_UnknownNumber(t *testing.T) {
	h := newHarness(t)
	in := h.engine.HandleInbound(context.Background(), telephony.InboundCall{CallSID: "CA1", From: callerNum, To: "+19990000000"})
	if in.Intent != telephony.SpeakHangup || in.Text != msgNoAgent {
		t.Fatalf("expected no-agent hangup, got %+v", in)
	}
	if _, err := h.sessions.Get(context.Background(), "CA1"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestHandleInbound_AtCapacity(t *testing.T) {
	h := newHarness(t)
	h.deps.Capacity = calls.NewMemoryCapacity(1)
	h.rebuild()

	h.answer(t, "CA1")
	in := h.engine.HandleInbound(context.Background(), telephony.InboundCall{CallSID: "CA2", From: callerNum, To: agentNumber})
	if in.Intent != telephony.SpeakHangup || in.Text != msgAtCapacity {
		t.Fatalf("expected busy hangup, got %+v", in)
	}
	if _, err := h.sessions.Get(context.Background(), "CA2"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected rejected call not recorded")
	}
}

type brokenCapacity struct{}

func (brokenCapacity) Acquire(context.Context, string) (bool, error) { return false, errBoom }
func (brokenCapacity) Release(context.Context, string) error         { return errBoom }

func TestHandleInbound_CapacityErrorFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.deps.Capacity = brokenCapacity{}
	h.rebuild()

	h.answer(t, "CA1")
	if h.session(t, "CA1").CapacityHeld {
		t.Fatalf("expected no slot recorded when the cap backend is down")
	}
}

func TestHandleUtterance_RepliesAndAppendsInOrder(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")

	in := h.engine.HandleUtterance(context.Background(), "CA1", "I'd like to book a cleaning")
	if in.Intent != telephony.SpeakListen || in.Text != "Sure, I can help with that." {
		t.Fatalf("unexpected reply: %+v", in)
	}

	reqs := h.llm.Calls()
	if len(reqs) != 1 || reqs[0].SystemPrompt != "You are Acme's receptionist." || reqs[0].MaxTokens != replyMaxTokens {
		t.Fatalf("unexpected completion request: %+v", reqs)
	}
	if len(reqs[0].Turns) != 1 || reqs[0].Turns[0].Role != completion.RoleUser {
		t.Fatalf("expected caller turn, got %+v", reqs[0].Turns)
	}

	h.llm.Reply = "What day works for you?"
	h.engine.HandleUtterance(context.Background(), "CA1", "tomorrow")
	reqs = h.llm.Calls()
	if len(reqs[1].Turns) != 3 || reqs[1].Turns[1].Role != completion.RoleAssistant {
		t.Fatalf("expected running transcript as alternating turns, got %+v", reqs[1].Turns)
	}

	us := h.transcript(t, "CA1")
	want := []string{"I'd like to book a cleaning", "Sure, I can help with that.", "tomorrow", "What day works for you?"}
	if len(us) != len(want) {
		t.Fatalf("expected %d utterances, got %d", len(want), len(us))
	}
	for i, w := range want {
		if us[i].Text != w {
			t.Fatalf("utterance %d: expected %q, got %q", i, w, us[i].Text)
		}
	}
}

func TestHandleUtterance_HangupTermsSkipCompletion(t *testing.T) {
	for _, text := range []string{"Bye", "BYE", "goodbye now", "please END CALL", "you can hang up"} {
		t.Run(text, func(t *testing.T) {
			h := newHarness(t)
			h.answer(t, "CA1")

			in := h.engine.HandleUtterance(context.Background(), "CA1", text)
			if in.Intent != telephony.SpeakHangup || in.Text != "Thanks for calling Acme. Goodbye!" {
				t.Fatalf("expected goodbye hangup, got %+v", in)
			}
			if len(h.llm.Calls()) != 0 {
				t.Fatalf("completion must not be called on hangup")
			}
			us := h.transcript(t, "CA1")
			if len(us) != 2 || us[1].Speaker != calls.SpeakerAgent {
				t.Fatalf("expected caller text and goodbye, got %+v", us)
			}
			s := h.session(t, "CA1")
			if !s.HangupRequested || s.Status != calls.StatusInProgress {
				t.Fatalf("expected local hangup flag without terminal status, got %+v", s)
			}
		})
	}
}

func TestHandleUtterance_CompletionFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.llm.Err = context.DeadlineExceeded
	h.answer(t, "CA1")

	in := h.engine.HandleUtterance(context.Background(), "CA1", "what are your hours")
	if in.Intent != telephony.SpeakListen || in.Text != msgFallback {
		t.Fatalf("expected fallback re-prompt, got %+v", in)
	}
	us := h.transcript(t, "CA1")
	if len(us) != 1 || us[0].Speaker != calls.SpeakerCaller {
		t.Fatalf("expected only the caller utterance, got %+v", us)
	}
}

func TestHandleUtterance_SlowCompletionFallsBackWithinTurnTimeout(t *testing.T) {
	h := newHarness(t)
	h.deps.TurnTimeout = 50 * time.Millisecond
	h.rebuild()
	h.answer(t, "CA1")

	h.llm.ReplyFunc = func(ctx context.Context, req completion.Request) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}

	start := time.Now()
	in := h.engine.HandleUtterance(context.Background(), "CA1", "what are your hours")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected turn bounded by timeout, took %s", elapsed)
	}
	if in.Intent != telephony.SpeakListen || in.Text != msgFallback {
		t.Fatalf("expected repeat fallback, got %+v", in)
	}
}

func TestHandleUtterance_EmptySpeech(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")

	in := h.engine.HandleUtterance(context.Background(), "CA1", "   ")
	if in.Intent != telephony.SpeakListen || in.Text != msgNoSpeech {
		t.Fatalf("expected re-prompt, got %+v", in)
	}
	if len(h.transcript(t, "CA1")) != 0 || len(h.llm.Calls()) != 0 {
		t.Fatalf("expected no transcript or completion activity")
	}
}

func TestHandleUtterance_UnknownCall(t *testing.T) {
	h := newHarness(t)
	in := h.engine.HandleUtterance(context.Background(), "CA404", "hello")
	if in.Intent != telephony.SpeakHangup || in.Text != msgCallError {
		t.Fatalf("expected error goodbye, got %+v", in)
	}
	if len(h.transcript(t, "CA404")) != 0 {
		t.Fatalf("expected no mutation")
	}
	if _, err := h.sessions.Get(context.Background(), "CA404"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected no session created")
	}
}

func TestHandleUtterance_SessionStoreDown(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")
	h.deps.Sessions = failingSessions{Repository: h.sessions, getErr: errBoom}
	h.rebuild()

	in := h.engine.HandleUtterance(context.Background(), "CA1", "hello")
	if in.Intent != telephony.SpeakHangup {
		t.Fatalf("expected safe goodbye, got %+v", in)
	}
}

func TestHandleUtterance_TranscriptDownStillReplies(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")
	h.transcripts.FailAppend = errBoom

	in := h.engine.HandleUtterance(context.Background(), "CA1", "is anyone there")
	if in.Intent != telephony.SpeakListen || in.Text != h.llm.Reply {
		t.Fatalf("expected normal reply, got %+v", in)
	}
	reqs := h.llm.Calls()
	if len(reqs) != 1 || len(reqs[0].Turns) != 1 || reqs[0].Turns[0].Content != "is anyone there" {
		t.Fatalf("expected in-memory caller turn, got %+v", reqs)
	}
}

func TestHandleUtterance_AfterHangupRequested(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")
	h.engine.HandleUtterance(context.Background(), "CA1", "bye")

	in := h.engine.HandleUtterance(context.Background(), "CA1", "wait one more thing")
	if in.Intent != telephony.SpeakHangup {
		t.Fatalf("expected hangup after local goodbye, got %+v", in)
	}
	if len(h.llm.Calls()) != 0 {
		t.Fatalf("expected no completion after goodbye")
	}
}

func TestHandleUtterance_SameCallTurnsDoNotInterleave(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	h.llm.ReplyFunc = func(ctx context.Context, req completion.Request) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "re: " + req.Turns[len(req.Turns)-1].Content, nil
	}

	var wg sync.WaitGroup
	for _, text := range []string{"A", "B"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			h.engine.HandleUtterance(context.Background(), "CA1", text)
		}(text)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected serialized turns, saw %d concurrent", maxInFlight)
	}
	us := h.transcript(t, "CA1")
	if len(us) != 4 {
		t.Fatalf("expected 4 utterances, got %+v", us)
	}
	got := fmt.Sprintf("%s|%s|%s|%s", us[0].Text, us[1].Text, us[2].Text, us[3].Text)
	if got != "A|re: A|B|re: B" && got != "B|re: B|A|re: A" {
		t.Fatalf("unexpected interleaving: %s", got)
	}
}

func TestHandleUtterance_DifferentCallsRunInParallel(t *testing.T) {
	h := newHarness(t)
	h.answer(t, "CA1")
	h.answer(t, "CA2")

	release := make(chan struct{})
	both := make(chan struct{}, 2)
	h.llm.ReplyFunc = func(ctx context.Context, req completion.Request) (string, error) {
		both <- struct{}{}
		<-release
		return "ok", nil
	}

	var wg sync.WaitGroup
	for _, sid := range []string{"CA1", "CA2"} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			h.engine.HandleUtterance(context.Background(), sid, "hello")
		}(sid)
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-both:
		case <-timeout:
			close(release)
			t.Fatalf("expected both calls in completion at once")
		}
	}
	close(release)
	wg.Wait()
}

func TestIsHangup(t *testing.T) {
	cases := map[string]bool{
		"Bye":                   true,
		"ok GOODBYE":            true,
		"can you hang up":       true,
		"end call please":       true,
		"I want to book":        false,
		"the end of the street": false,
	}
	for text, want := range cases {
		if got := isHangup(text); got != want {
			t.Fatalf("isHangup(%q) = %v, want %v", text, got, want)
		}
	}
}
