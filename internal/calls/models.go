package calls

import (
	"strings"
	"time"
)

// CallSession is the durable record of one phone call.
//
// Invariants:
// - CallSID is assigned by the provider and never changes.
// - Status only moves forward (see Status.CanAdvance).
// - DurationSeconds, RecordingURL and Summary are written once, after the call is terminal.
type CallSession struct {
	ID             string    `json:"id" db:"id"`
	CallSID        string    `json:"call_sid" db:"call_sid"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	AgentID        string    `json:"agent_id" db:"agent_id"`
	Direction      Direction `json:"direction" db:"direction"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status Status `json:"status" db:"status"`

	// HangupRequested records that the agent ended the conversation locally.
	// The terminal status still arrives from the provider.
	HangupRequested bool `json:"hangup_requested" db:"hangup_requested"`

	// CapacityHeld is true while the call occupies a per-agent concurrency slot.
	CapacityHeld bool `json:"-" db:"capacity_held"`

	DurationSeconds int    `json:"duration" db:"duration_seconds"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`
	Summary         string `json:"summary,omitempty" db:"summary"`

	CostMinor int64  `json:"cost_minor,omitempty" db:"cost_minor"`
	Currency  string `json:"currency,omitempty" db:"currency"`

	// Transcript is loaded from the transcript store on read paths only.
	Transcript []Utterance `json:"transcript,omitempty" db:"-"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status uses the provider's lifecycle tokens.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// ParseStatus normalizes a lifecycle token. Unknown tokens return false.
func ParseStatus(token string) (Status, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	t = strings.ReplaceAll(t, "_", "-")
	switch s := Status(t); s {
	case StatusQueued, StatusRinging, StatusInProgress,
		StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return s, true
	case "initiated":
		return StatusQueued, true
	case "cancelled":
		return StatusCanceled, true
	}
	return "", false
}

// Rank orders statuses along the lifecycle. All terminal statuses share the top rank.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusRinging:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return 4
	default:
		return 0
	}
}

func (s Status) IsTerminal() bool { return s.Rank() == 4 }

// CanAdvance reports whether moving from s to next is forward progress.
func (s Status) CanAdvance(next Status) bool {
	if next.Rank() == 0 {
		return false
	}
	return next.Rank() > s.Rank()
}

type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Utterance is one immutable transcript entry. Seq is the arrival order within a call.
type Utterance struct {
	ID        string    `json:"id" db:"id"`
	CallSID   string    `json:"call_sid" db:"call_sid"`
	Seq       int       `json:"seq" db:"seq"`
	Speaker   Speaker   `json:"speaker" db:"speaker"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
