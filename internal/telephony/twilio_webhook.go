package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Twilio posts application/x-www-form-urlencoded webhooks.
// Parsers here only map fields; they make no business decisions.

var ErrMissingField = errors.New("telephony: missing required field")

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

type InboundCall struct {
	CallSID    string
	AccountSID string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseInboundCall(r *http.Request) (InboundCall, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCall{}, err
	}
	in := InboundCall{
		CallSID:    field(r, "CallSid"),
		AccountSID: field(r, "AccountSid"),
		From:       field(r, "From"),
		To:         field(r, "To"),
		Direction:  field(r, "Direction"),
		CallStatus: field(r, "CallStatus"),
		CallerName: field(r, "CallerName"),
	}
	if in.CallSID == "" {
		return in, missing("CallSid")
	}
	return in, nil
}

// Utterance is one speech recognition result. SpeechResult may be empty
// when the gather timed out.
type Utterance struct {
	CallSID      string
	SpeechResult string
	Confidence   float64
}

func ParseUtterance(r *http.Request) (Utterance, error) {
	if err := r.ParseForm(); err != nil {
		return Utterance{}, err
	}
	u := Utterance{
		CallSID:      field(r, "CallSid"),
		SpeechResult: field(r, "SpeechResult"),
	}
	if c := field(r, "Confidence"); c != "" {
		if v, err := strconv.ParseFloat(c, 64); err == nil {
			u.Confidence = v
		}
	}
	if u.CallSID == "" {
		return u, missing("CallSid")
	}
	return u, nil
}

// StatusCallback is a call lifecycle notification. Status is the raw token.
// An absent or unparseable CallDuration reads as zero.
type StatusCallback struct {
	CallSID         string
	Status          string
	DurationSeconds int
	RecordingURL    string
	From            string
	To              string
	// Direction is the raw token: inbound, outbound-api or outbound-dial.
	Direction       string
}

func ParseStatus(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	s := StatusCallback{
		CallSID:      field(r, "CallSid"),
		Status:       field(r, "CallStatus"),
		RecordingURL: field(r, "RecordingUrl"),
		From:         field(r, "From"),
		To:           field(r, "To"),
		Direction:    field(r, "Direction"),
	}
	if v, err := strconv.Atoi(field(r, "CallDuration")); err == nil && v > 0 {
		s.DurationSeconds = v
	}
	if s.CallSID == "" {
		return s, missing("CallSid")
	}
	if s.Status == "" {
		return s, missing("CallStatus")
	}
	return s, nil
}

type InboundSMS struct {
	MessageSID string
	From       string
	To         string
	Body       string
}

// ParseInboundSMS returns the parsed message together with ErrMissingField
// when one of the required fields is absent, so callers can still reply.
func ParseInboundSMS(r *http.Request) (InboundSMS, error) {
	if err := r.ParseForm(); err != nil {
		return InboundSMS{}, err
	}
	m := InboundSMS{
		MessageSID: field(r, "MessageSid"),
		From:       field(r, "From"),
		To:         field(r, "To"),
		Body:       field(r, "Body"),
	}
	switch {
	case m.MessageSID == "":
		return m, missing("MessageSid")
	case m.From == "":
		return m, missing("From")
	case m.To == "":
		return m, missing("To")
	case m.Body == "":
		return m, missing("Body")
	}
	return m, nil
}

func field(r *http.Request, name string) string {
	return strings.TrimSpace(r.PostFormValue(name))
}
