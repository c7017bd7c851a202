package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"
)

var (
	ErrInvalidMessage = errors.New("sms: phone number and message required")
	ErrUnknownAgent   = errors.New("sms: unknown agent")
)

const (
	msgUnprocessable = "We're sorry, we couldn't process your message. Please try again later."
	msgNotConfigured = "This number is not currently configured to respond to messages."
	msgUnavailable   = "We're sorry, we're experiencing technical difficulties. Please try again later."

	defaultSystemPrompt = "You are a helpful AI assistant responding to SMS messages."
	smsGuidance         = "\n\nYou are communicating via SMS text message. Keep responses concise (under 160 characters when possible) and professional. You're representing the business. Don't use emojis unless the user does first."
	replyMaxTokens      = 300
)

// Service answers inbound texts with the agent configured for the number
// and sends operator-initiated messages.
type Service struct {
	agents     agents.Provider
	completion completion.Provider
	messenger  telephony.Messenger
}

func NewService(a agents.Provider, c completion.Provider, m telephony.Messenger) *Service {
	return &Service{agents: a, completion: c, messenger: m}
}

// SentMessage is the result of an outbound text.
type SentMessage struct {
	MessageSID string `json:"message_sid"`
	Status     string `json:"status"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

// HandleInbound returns the reply body for an inbound text. It never fails;
// every error maps to a message the sender can read.
func (s *Service) HandleInbound(ctx context.Context, m telephony.InboundSMS) string {
	log := logger.From(ctx).With("message_sid", m.MessageSID)
	body := strings.TrimSpace(m.Body)
	if m.From == "" || m.To == "" || body == "" {
		log.Warn("inbound sms missing fields")
		return msgUnprocessable
	}

	profile, err := s.agents.Resolve(ctx, m.To)
	if errors.Is(err, agents.ErrNotFound) {
		log.Info("no agent for sms number", "to", m.To)
		return msgNotConfigured
	}
	if err != nil {
		log.Error("agent lookup failed", "to", m.To, "err", err)
		return msgUnavailable
	}

	reply, err := s.reply(ctx, profile, body)
	if err != nil {
		log.Warn("sms completion failed", "agent_id", profile.ID, "err", err)
		return msgUnavailable
	}
	return reply
}

// Send texts body to the given number from the account's number.
func (s *Service) Send(ctx context.Context, to, body string) (SentMessage, error) {
	to = agents.NormalizePhone(to)
	body = strings.TrimSpace(body)
	if to == "" || body == "" {
		return SentMessage{}, ErrInvalidMessage
	}
	res, err := s.messenger.SendSMS(ctx, to, body)
	if err != nil {
		return SentMessage{}, fmt.Errorf("sms: send: %w", err)
	}
	logger.From(ctx).Info("sms sent", "message_sid", res.MessageSID, "status", res.Status)
	return SentMessage{MessageSID: res.MessageSID, Status: res.Status, To: to, Body: body}, nil
}

// SendAIResponse generates agentID's reply to message and texts it to the number.
func (s *Service) SendAIResponse(ctx context.Context, to, message, agentID string) (SentMessage, error) {
	message = strings.TrimSpace(message)
	if strings.TrimSpace(to) == "" || message == "" || agentID == "" {
		return SentMessage{}, ErrInvalidMessage
	}
	profile, err := s.agents.Get(ctx, agentID)
	if errors.Is(err, agents.ErrNotFound) {
		return SentMessage{}, ErrUnknownAgent
	}
	if err != nil {
		return SentMessage{}, fmt.Errorf("sms: load agent: %w", err)
	}
	reply, err := s.reply(ctx, profile, message)
	if err != nil {
		return SentMessage{}, fmt.Errorf("sms: generate reply: %w", err)
	}
	return s.Send(ctx, to, reply)
}

func (s *Service) reply(ctx context.Context, p agents.Profile, text string) (string, error) {
	out, err := s.completion.Complete(ctx, completion.Request{
		SystemPrompt: systemPrompt(p),
		Turns:        []completion.Turn{{Role: completion.RoleUser, Content: text}},
		MaxTokens:    replyMaxTokens,
		Kind:         "sms",
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", completion.ErrEmptyCompletion
	}
	return out, nil
}

func systemPrompt(p agents.Profile) string {
	base := strings.TrimSpace(p.SystemPrompt)
	// Profiles without their own prompt carry the voice default.
	if base == "" || base == agents.DefaultSystemPrompt {
		base = defaultSystemPrompt
	}
	return base + smsGuidance
}
