package transcript

import (
	"context"
	"errors"
	"strings"

	"voice-agent-platform/internal/calls"
)

// Store is the durable log of a call's utterances.
//
// It is append-only: no Update/Delete methods exist. Seq is assigned by the
// store and strictly increases per call in arrival order.
type Store interface {
	Append(ctx context.Context, callSID string, speaker calls.Speaker, text string) (calls.Utterance, error)
	List(ctx context.Context, callSID string) ([]calls.Utterance, error)
}

var ErrInvalidUtterance = errors.New("transcript: invalid utterance")

func validate(callSID string, speaker calls.Speaker, text string) error {
	if callSID == "" || strings.TrimSpace(text) == "" {
		return ErrInvalidUtterance
	}
	if speaker != calls.SpeakerCaller && speaker != calls.SpeakerAgent {
		return ErrInvalidUtterance
	}
	return nil
}

// Render formats utterances as "Caller: ..." / "AI: ..." lines.
func Render(us []calls.Utterance) string {
	var b strings.Builder
	for i, u := range us {
		if i > 0 {
			b.WriteString("\n")
		}
		if u.Speaker == calls.SpeakerAgent {
			b.WriteString("AI: ")
		} else {
			b.WriteString("Caller: ")
		}
		b.WriteString(u.Text)
	}
	return b.String()
}
