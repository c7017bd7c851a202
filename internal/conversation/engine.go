package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/events"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"
)

// Engine runs the per-call conversation. Every method returns an
// Instruction; failures degrade to a spoken fallback and are logged.
type Engine struct {
	d Deps
}

func NewEngine(d Deps) *Engine {
	return &Engine{d: d.withDefaults()}
}

// HandleInbound answers a new inbound call: resolve the agent for the
// dialed number, take a concurrency slot, record the session and greet.
func (e *Engine) HandleInbound(ctx context.Context, in telephony.InboundCall) telephony.Instruction {
	ctx, log := logger.WithCall(context.WithoutCancel(ctx), in.CallSID)
	unlock := e.d.Locks.Lock(in.CallSID)
	defer unlock()

	// Provider retries of the same webhook re-greet without side effects.
	if sess, err := e.d.Sessions.Get(ctx, in.CallSID); err == nil {
		p := e.profileFor(ctx, log, sess)
		return telephony.Say(p.Greeting).WithVoice(p.VoiceID)
	}

	profile, err := e.d.Agents.Resolve(ctx, in.To)
	if errors.Is(err, agents.ErrNotFound) {
		log.Info("no agent for dialed number", "to", in.To)
		e.d.Metrics.CallStarted(string(calls.DirectionInbound), "rejected")
		return telephony.Goodbye(msgNoAgent)
	}
	if err != nil {
		log.Error("agent lookup failed", "to", in.To, "err", err)
		e.d.Metrics.CallStarted(string(calls.DirectionInbound), "failed")
		return telephony.Goodbye(msgCallError)
	}
	log = log.With("agent_id", profile.ID)

	held, ok := e.acquire(ctx, log, profile.ID)
	if !ok {
		e.d.Events.Emit(ctx, events.CallEvent{
			Type:           events.CallRejected,
			CallSID:        in.CallSID,
			AgentID:        profile.ID,
			OrganizationID: profile.OrganizationID,
			Direction:      string(calls.DirectionInbound),
			Reason:         "at_capacity",
		})
		e.d.Metrics.CallStarted(string(calls.DirectionInbound), "rejected")
		return telephony.Goodbye(msgAtCapacity).WithVoice(profile.VoiceID)
	}

	sess, err := e.d.Sessions.Create(ctx, calls.CallSession{
		CallSID:        in.CallSID,
		OrganizationID: profile.OrganizationID,
		AgentID:        profile.ID,
		Direction:      calls.DirectionInbound,
		From:           in.From,
		To:             in.To,
		Status:         calls.StatusRinging,
		CapacityHeld:   held,
	})
	switch {
	case err == nil:
		e.start(ctx, log, sess)
	case errors.Is(err, calls.ErrAlreadyExists):
		// Another instance recorded the call first and holds its own slot.
		e.release(ctx, log, profile.ID, held)
	default:
		// The caller still hears the greeting; later turns will miss the session.
		log.Error("create session failed", "err", err)
		e.release(ctx, log, profile.ID, held)
		e.d.Metrics.CallStarted(string(calls.DirectionInbound), "failed")
	}
	return telephony.Say(profile.Greeting).WithVoice(profile.VoiceID)
}

// OutboundAnswer is the answer webhook for a call placed by Outbound.
type OutboundAnswer struct {
	CallSID string
	From    string
	To      string
	// AgentID comes from the answer URL and is used only when the
	// session was not recorded yet.
	AgentID string
}

// HandleOutboundAnswer greets the callee of an outbound call.
func (e *Engine) HandleOutboundAnswer(ctx context.Context, a OutboundAnswer) telephony.Instruction {
	ctx, log := logger.WithCall(context.WithoutCancel(ctx), a.CallSID)
	unlock := e.d.Locks.Lock(a.CallSID)
	defer unlock()

	sess, err := e.d.Sessions.Get(ctx, a.CallSID)
	if errors.Is(err, calls.ErrNotFound) && a.AgentID != "" {
		// The answer webhook beat StartCall's insert.
		profile, perr := e.d.Agents.Get(ctx, a.AgentID)
		if perr != nil {
			log.Warn("outbound answer for unknown agent", "agent_id", a.AgentID, "err", perr)
			return telephony.Goodbye(msgCallError)
		}
		sess, err = e.d.Sessions.Create(ctx, calls.CallSession{
			CallSID:        a.CallSID,
			OrganizationID: profile.OrganizationID,
			AgentID:        profile.ID,
			Direction:      calls.DirectionOutbound,
			From:           a.From,
			To:             a.To,
			Status:         calls.StatusRinging,
		})
	}
	if err != nil {
		log.Warn("outbound answer without session", "err", err)
		return telephony.Goodbye(msgCallError)
	}
	if sess.Status.IsTerminal() {
		return telephony.Goodbye(msgCallError)
	}

	if sess.Status != calls.StatusInProgress {
		e.start(ctx, log, sess)
	}
	p := e.profileFor(ctx, log, sess)
	return telephony.Say(p.Greeting).WithVoice(p.VoiceID)
}

// HandleUtterance runs one turn. Turns for one call never interleave.
func (e *Engine) HandleUtterance(ctx context.Context, callSID, text string) telephony.Instruction {
	start := e.d.Clock()
	ctx, log := logger.WithCall(context.WithoutCancel(ctx), callSID)
	unlock := e.d.Locks.Lock(callSID)
	defer unlock()

	sess, err := e.d.Sessions.Get(ctx, callSID)
	if err != nil || sess.Status != calls.StatusInProgress || sess.HangupRequested {
		if err != nil && !errors.Is(err, calls.ErrNotFound) {
			log.Error("load session failed", "err", err)
		} else {
			log.Warn("utterance for call not in progress", "found", err == nil, "status", sess.Status)
		}
		e.d.Metrics.ObserveTurn(start, "not_found")
		return telephony.Goodbye(msgCallError)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		e.d.Metrics.ObserveTurn(start, "no_speech")
		return telephony.Say(msgNoSpeech)
	}

	log = log.With("agent_id", sess.AgentID)
	profile := e.profileFor(ctx, log, sess)

	_, err = e.d.Transcripts.Append(ctx, callSID, calls.SpeakerCaller, text)
	persisted := err == nil
	if !persisted {
		log.Error("transcript append failed, continuing in memory", "speaker", calls.SpeakerCaller, "err", err)
	}

	if isHangup(text) {
		e.appendAgent(ctx, log, callSID, profile.Goodbye)
		if err := e.d.Sessions.MarkHangupRequested(ctx, callSID); err != nil {
			log.Error("mark hangup failed", "err", err)
		}
		e.d.Metrics.ObserveTurn(start, "hangup")
		return telephony.Goodbye(profile.Goodbye).WithVoice(profile.VoiceID)
	}

	turns := e.turns(ctx, log, callSID, text, persisted)
	replyCtx, cancel := context.WithTimeout(ctx, e.d.TurnTimeout)
	reply, err := e.d.Completion.Complete(replyCtx, completion.Request{
		SystemPrompt: profile.SystemPrompt,
		Turns:        turns,
		MaxTokens:    replyMaxTokens,
		Kind:         "reply",
	})
	cancel()
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		if err == nil {
			err = completion.ErrEmptyCompletion
		}
		log.Warn("completion failed, asking caller to repeat", "err", err)
		e.d.Metrics.ObserveTurn(start, "fallback")
		return telephony.Say(msgFallback).WithVoice(profile.VoiceID)
	}

	e.appendAgent(ctx, log, callSID, reply)
	e.d.Metrics.ObserveTurn(start, "ok")
	return telephony.Say(reply).WithVoice(profile.VoiceID)
}

// turns builds the completion context from the stored transcript. When the
// caller's utterance did not persist, or the transcript cannot be read, it is
// added from memory.
func (e *Engine) turns(ctx context.Context, log *slog.Logger, callSID, text string, persisted bool) []completion.Turn {
	us, err := e.d.Transcripts.List(ctx, callSID)
	if err != nil {
		log.Error("transcript list failed", "err", err)
		us, persisted = nil, false
	}
	if !persisted {
		us = append(us, calls.Utterance{CallSID: callSID, Speaker: calls.SpeakerCaller, Text: text})
	}
	return completion.TurnsFromTranscript(us)
}

func (e *Engine) appendAgent(ctx context.Context, log *slog.Logger, callSID, text string) {
	if _, err := e.d.Transcripts.Append(ctx, callSID, calls.SpeakerAgent, text); err != nil {
		log.Error("transcript append failed", "speaker", calls.SpeakerAgent, "err", err)
	}
}

// profileFor returns the session's agent profile, or stock defaults when
// the profile can no longer be loaded.
func (e *Engine) profileFor(ctx context.Context, log *slog.Logger, sess calls.CallSession) agents.Profile {
	p, err := e.d.Agents.Get(ctx, sess.AgentID)
	if err != nil {
		log.Warn("agent profile unavailable, using defaults", "agent_id", sess.AgentID, "err", err)
		return agents.Profile{ID: sess.AgentID, OrganizationID: sess.OrganizationID}.WithDefaults()
	}
	return p
}

// acquire takes a slot for agentID. ok is false only when the cap is full;
// capacity backend errors fail open with held=false.
func (e *Engine) acquire(ctx context.Context, log *slog.Logger, agentID string) (held, ok bool) {
	return acquireSlot(ctx, log, e.d.Capacity, agentID)
}

func (e *Engine) release(ctx context.Context, log *slog.Logger, agentID string, held bool) {
	releaseSlot(ctx, log, e.d.Capacity, agentID, held)
}

// start moves a session to in-progress. Only the caller whose Advance
// succeeds announces the call, so each call is announced once.
func (e *Engine) start(ctx context.Context, log *slog.Logger, sess calls.CallSession) {
	_, err := e.d.Sessions.Advance(ctx, sess.CallSID, calls.StatusInProgress)
	switch {
	case err == nil:
		announceStarted(ctx, e.d, sess)
	case errors.Is(err, calls.ErrStatusRegression):
	default:
		log.Error("advance to in-progress failed", "err", err)
	}
}

func announceStarted(ctx context.Context, d Deps, sess calls.CallSession) {
	d.Events.Emit(ctx, events.CallEvent{
		Type:           events.CallStarted,
		CallSID:        sess.CallSID,
		AgentID:        sess.AgentID,
		OrganizationID: sess.OrganizationID,
		Direction:      string(sess.Direction),
		Status:         string(calls.StatusInProgress),
	})
	d.Metrics.CallStarted(string(sess.Direction), "accepted")
}

func isHangup(text string) bool {
	t := strings.ToLower(text)
	for _, term := range hangupTerms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}

func acquireSlot(ctx context.Context, log *slog.Logger, c calls.Capacity, agentID string) (held, ok bool) {
	if c == nil {
		return false, true
	}
	got, err := c.Acquire(ctx, agentID)
	if err != nil {
		log.Warn("capacity check failed, admitting call", "err", err)
		return false, true
	}
	return got, got
}

func releaseSlot(ctx context.Context, log *slog.Logger, c calls.Capacity, agentID string, held bool) {
	if c == nil || !held {
		return
	}
	if err := c.Release(ctx, agentID); err != nil {
		log.Warn("capacity release failed", "err", err)
	}
}
