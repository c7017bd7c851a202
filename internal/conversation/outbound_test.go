package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/telephony"
)

func newOutbound(h *harness, d *fakeDialer) *Outbound {
	return NewOutbound(h.deps, d, "https://voice.example.com/api/v1/calls/outbound", "https://voice.example.com/api/v1/calls/status")
}

func TestStartCall_RecordsQueuedSession(t *testing.T) {
	h := newHarness(t)
	d := &fakeDialer{result: telephony.CallResult{CallSID: "CA77", Status: "queued"}}

	res, err := newOutbound(h, d).StartCall(context.Background(), "+1 555 222 3333", "agent-1")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if res.CallSID != "CA77" || res.Status != calls.StatusQueued {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(d.placed) != 1 || d.placed[0].To != "+15552223333" || !d.placed[0].Record {
		t.Fatalf("unexpected dial: %+v", d.placed)
	}
	if !strings.HasSuffix(d.placed[0].AnswerURL, "/api/v1/calls/outbound?agent_id=agent-1") {
		t.Fatalf("expected agent id on answer url, got %s", d.placed[0].AnswerURL)
	}

	s := h.session(t, "CA77")
	if s.Direction != calls.DirectionOutbound || s.Status != calls.StatusQueued || !s.CapacityHeld || s.From != agentNumber {
		t.Fatalf("unexpected session: %+v", s)
	}

	in := h.engine.HandleOutboundAnswer(context.Background(), OutboundAnswer{CallSID: "CA77"})
	if in.Intent != telephony.SpeakListen {
		t.Fatalf("expected greeting, got %+v", in)
	}
	if s := h.session(t, "CA77"); s.Status != calls.StatusInProgress {
		t.Fatalf("expected in-progress after answer, got %s", s.Status)
	}

	// The call now takes turns like an inbound one.
	if in := h.engine.HandleUtterance(context.Background(), "CA77", "who is this"); in.Text != h.llm.Reply {
		t.Fatalf("expected reply, got %+v", in)
	}
}

func TestStartCall_Errors(t *testing.T) {
	h := newHarness(t)
	d := &fakeDialer{result: telephony.CallResult{CallSID: "CA1", Status: "queued"}}
	o := newOutbound(h, d)

	if _, err := o.StartCall(context.Background(), "+15552223333", "missing"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	if _, err := o.StartCall(context.Background(), "12", "agent-1"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}

	d.err = errBoom
	if _, err := o.StartCall(context.Background(), "+15552223333", "agent-1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if h.capacity.Active("agent-1") != 0 {
		t.Fatalf("expected slot released after dial failure")
	}
}

func TestStartCall_AtCapacity(t *testing.T) {
	h := newHarness(t)
	h.deps.Capacity = calls.NewMemoryCapacity(1)
	h.rebuild()
	d := &fakeDialer{result: telephony.CallResult{CallSID: "CA1", Status: "queued"}}
	o := newOutbound(h, d)

	if _, err := o.StartCall(context.Background(), "+15552223333", "agent-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := o.StartCall(context.Background(), "+15552223334", "agent-1"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if len(d.placed) != 1 {
		t.Fatalf("expected second call not dialed")
	}
}

func TestHandleOutboundAnswer_BeforeSessionRecorded(t *testing.T) {
	h := newHarness(t)

	in := h.engine.HandleOutboundAnswer(context.Background(), OutboundAnswer{CallSID: "CA9", From: agentNumber, To: "+15552223333", AgentID: "agent-1"})
	if in.Intent != telephony.SpeakListen {
		t.Fatalf("expected greeting, got %+v", in)
	}
	s := h.session(t, "CA9")
	if s.Status != calls.StatusInProgress || s.Direction != calls.DirectionOutbound {
		t.Fatalf("unexpected session: %+v", s)
	}

	in = h.engine.HandleOutboundAnswer(context.Background(), OutboundAnswer{CallSID: "CA10"})
	if in.Intent != telephony.SpeakHangup {
		t.Fatalf("expected goodbye for unknown outbound call, got %+v", in)
	}
}

func TestStartCall_TerminalStatusBeforeSessionRecorded(t *testing.T) {
	h := newHarness(t)
	d := &fakeDialer{result: telephony.CallResult{CallSID: "CA88", Status: "queued"}}
	d.onPlaced = func(res telephony.CallResult) {
		out := h.reconciler.HandleStatus(context.Background(), StatusUpdate{
			CallSID:   res.CallSID,
			Status:    "busy",
			From:      agentNumber,
			To:        "+15552223333",
			Direction: "outbound-api",
		})
		if out != OutcomeApplied {
			t.Errorf("expected early busy to be applied, got %s", out)
		}
	}

	if _, err := newOutbound(h, d).StartCall(context.Background(), "+15552223333", "agent-1"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	s := h.session(t, "CA88")
	if s.Status != calls.StatusBusy || s.CapacityHeld || s.AgentID != "agent-1" || s.Direction != calls.DirectionOutbound {
		t.Fatalf("expected busy outbound session without a slot, got %+v", s)
	}
	if n := h.capacity.Active("agent-1"); n != 0 {
		t.Fatalf("expected slot released, %d still held", n)
	}
}

func TestHandleStatus_UnknownInboundTerminalDropped(t *testing.T) {
	h := newHarness(t)
	out := h.reconciler.HandleStatus(context.Background(), StatusUpdate{
		CallSID: "CA89", Status: "completed", From: callerNum, To: agentNumber, Direction: "inbound",
	})
	if out != OutcomeUnknownCall {
		t.Fatalf("expected unknown call, got %s", out)
	}
	if _, err := h.sessions.Get(context.Background(), "CA89"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
}
