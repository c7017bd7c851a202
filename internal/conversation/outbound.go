package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"
)

var (
	ErrUnknownAgent = errors.New("conversation: unknown agent")
	ErrAtCapacity   = errors.New("conversation: agent at capacity")
	ErrInvalidPhone = errors.New("conversation: invalid phone number")
)

// Outbound places calls on behalf of an agent.
type Outbound struct {
	d      Deps
	dialer telephony.Dialer
	// AnswerURL and StatusURL are absolute webhook URLs.
	AnswerURL string
	StatusURL string
}

func NewOutbound(d Deps, dialer telephony.Dialer, answerURL, statusURL string) *Outbound {
	return &Outbound{d: d.withDefaults(), dialer: dialer, AnswerURL: answerURL, StatusURL: statusURL}
}

type OutboundResult struct {
	CallSID string       `json:"call_sid"`
	Status  calls.Status `json:"status"`
}

// StartCall dials phoneNumber for agentID and records the session with the
// provider's initial status. The callee is greeted from the answer webhook.
func (o *Outbound) StartCall(ctx context.Context, phoneNumber, agentID string) (OutboundResult, error) {
	to := agents.NormalizePhone(phoneNumber)
	if len(strings.TrimPrefix(to, "+")) < 7 {
		return OutboundResult{}, ErrInvalidPhone
	}
	log := logger.From(ctx).With("agent_id", agentID)

	profile, err := o.d.Agents.Get(ctx, agentID)
	if errors.Is(err, agents.ErrNotFound) {
		return OutboundResult{}, ErrUnknownAgent
	}
	if err != nil {
		return OutboundResult{}, fmt.Errorf("conversation: load agent: %w", err)
	}

	held, ok := acquireSlot(ctx, log, o.d.Capacity, profile.ID)
	if !ok {
		o.d.Metrics.CallStarted(string(calls.DirectionOutbound), "rejected")
		return OutboundResult{}, ErrAtCapacity
	}

	res, err := o.dialer.PlaceCall(ctx, telephony.OutboundCall{
		To:                to,
		AnswerURL:         o.answerURL(profile.ID),
		StatusCallbackURL: o.StatusURL,
		Record:            true,
	})
	if err != nil {
		releaseSlot(ctx, log, o.d.Capacity, profile.ID, held)
		o.d.Metrics.CallStarted(string(calls.DirectionOutbound), "failed")
		return OutboundResult{}, err
	}

	status, ok := calls.ParseStatus(res.Status)
	if !ok || status.IsTerminal() {
		status = calls.StatusQueued
	}

	unlock := o.d.Locks.Lock(res.CallSID)
	defer unlock()

	_, err = o.d.Sessions.Create(ctx, calls.CallSession{
		CallSID:        res.CallSID,
		OrganizationID: profile.OrganizationID,
		AgentID:        profile.ID,
		Direction:      calls.DirectionOutbound,
		From:           profile.PhoneNumber,
		To:             to,
		Status:         status,
		CapacityHeld:   held,
	})
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrAlreadyExists):
		// The answer webhook or an early terminal status recorded the
		// session first, without a slot.
		releaseSlot(ctx, log, o.d.Capacity, profile.ID, held)
	default:
		log.Error("create outbound session failed", "call_sid", res.CallSID, "err", err)
		releaseSlot(ctx, log, o.d.Capacity, profile.ID, held)
	}

	o.d.Metrics.CallStarted(string(calls.DirectionOutbound), "placed")
	log.Info("outbound call placed", "call_sid", res.CallSID, "status", status)
	return OutboundResult{CallSID: res.CallSID, Status: status}, nil
}

func (o *Outbound) answerURL(agentID string) string {
	sep := "?"
	if strings.Contains(o.AnswerURL, "?") {
		sep = "&"
	}
	return o.AnswerURL + sep + "agent_id=" + url.QueryEscape(agentID)
}
