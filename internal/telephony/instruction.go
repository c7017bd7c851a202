package telephony

import "time"

// Intent selects the TwiML shape for a voice reply.
type Intent int

const (
	// SpeakListen says Text then gathers the caller's next utterance.
	SpeakListen Intent = iota
	// SpeakHangup says Text then ends the call.
	SpeakHangup
	// Listen gathers without speaking first.
	Listen
)

func (i Intent) String() string {
	switch i {
	case SpeakListen:
		return "speak_listen"
	case SpeakHangup:
		return "speak_hangup"
	case Listen:
		return "listen"
	default:
		return "unknown"
	}
}

// Instruction is the provider-neutral answer to a voice webhook.
type Instruction struct {
	Intent Intent
	Text   string
	// Timeout overrides the emitter's gather timeout when non-zero.
	Timeout time.Duration
	// Voice overrides the emitter's voice when set.
	Voice   string
}

func Say(text string) Instruction     { return Instruction{Intent: SpeakListen, Text: text} }
func Goodbye(text string) Instruction { return Instruction{Intent: SpeakHangup, Text: text} }

// WithVoice returns a copy spoken with voice.
func (i Instruction) WithVoice(voice string) Instruction {
	i.Voice = voice
	return i
}
