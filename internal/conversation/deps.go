package conversation

import (
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/events"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/pricing"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/internal/transcript"
)

const (
	msgCallError     = "I'm sorry, there was an error. Goodbye."
	msgFallback      = "I'm sorry, I'm having trouble understanding. Could you please repeat that?"
	msgNoSpeech      = "I didn't hear anything. Please try again."
	msgNoAgent       = "This number is not configured. Goodbye."
	msgAtCapacity    = "All of our agents are busy right now. Please call back later. Goodbye."
	replyMaxTokens   = 500
	defaultEnrichTTL = 60 * time.Second
	defaultTurnTTL   = 12 * time.Second
)

// hangupTerms end the conversation when any appears in the caller's text.
var hangupTerms = []string{"goodbye", "bye", "end call", "hang up"}

// Deps are the collaborators shared by Engine, Reconciler and Outbound.
// Capacity, Recordings, Pricing, Events and Metrics are optional.
type Deps struct {
	Sessions    calls.Repository
	Transcripts transcript.Store
	Agents      agents.Provider
	Completion  completion.Provider
	Locks       *calls.LockRegistry

	Capacity   calls.Capacity
	Recordings telephony.RecordingFetcher
	Pricing    *pricing.Service
	Events     *events.Bus
	Metrics    *metrics.Metrics

	// TurnTimeout bounds the reply to one utterance, retries included.
	// It must stay below the provider's webhook timeout.
	TurnTimeout time.Duration

	Clock func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Locks == nil {
		d.Locks = calls.NewLockRegistry()
	}
	if d.TurnTimeout <= 0 {
		d.TurnTimeout = defaultTurnTTL
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}
