package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"voice-agent-platform/pkg/logger"
)

type Type string

const (
	CallStarted    Type = "call.started"
	CallEnded      Type = "call.ended"
	CallSummarized Type = "call.summarized"
	CallRejected   Type = "call.rejected"
)

type CallEvent struct {
	Type            Type      `json:"type"`
	CallSID         string    `json:"call_sid"`
	AgentID         string    `json:"agent_id,omitempty"`
	OrganizationID  string    `json:"organization_id,omitempty"`
	Direction       string    `json:"direction,omitempty"`
	Status          string    `json:"status,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Bus publishes call lifecycle events as JSON to <prefix>/calls/<call_sid>/<type>.
// Delivery is best effort: failures are logged and never returned.
type Bus struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewBus(pub Publisher, prefix string) *Bus {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Bus{pub: pub, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (b *Bus) Topic(callSID string, t Type) string {
	return b.prefix + "/calls/" + callSID + "/" + string(t)
}

func (b *Bus) Emit(ctx context.Context, ev CallEvent) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.From(ctx).Warn("event encode failed", "type", ev.Type, "err", err)
		return
	}
	if err := b.pub.Publish(ctx, b.Topic(ev.CallSID, ev.Type), payload); err != nil {
		logger.From(ctx).Warn("event publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("call_sid", ev.CallSID),
			slog.Any("err", err),
		)
	}
}
