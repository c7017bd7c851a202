package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"time"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       string   `xml:"timeout,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Enhanced      string   `xml:"enhanced,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Message"`
	Body    string   `xml:",chardata"`
}

var ErrEmptyText = errors.New("telephony: instruction text required")

// Emitter renders Instructions as TwiML. Text is always XML-escaped.
type Emitter struct {
	// TranscribeURL is the absolute URL the provider posts speech results to.
	TranscribeURL  string
	DefaultTimeout time.Duration
	// Voice is passed to <Say voice="...">; empty uses the provider default.
	Voice string
}

func (e Emitter) Render(in Instruction) (string, error) {
	var r twimlResponse

	switch in.Intent {
	case SpeakListen:
		if strings.TrimSpace(in.Text) == "" {
			return "", ErrEmptyText
		}
		r.Verbs = append(r.Verbs, e.say(in), e.gather(in.Timeout))
	case SpeakHangup:
		if strings.TrimSpace(in.Text) == "" {
			return "", ErrEmptyText
		}
		r.Verbs = append(r.Verbs, e.say(in), twimlHangup{})
	case Listen:
		r.Verbs = append(r.Verbs, e.gather(in.Timeout))
	default:
		return "", errors.New("telephony: unknown intent")
	}
	return encode(r)
}

// RenderMessage renders an SMS reply. Empty text renders an empty response.
func RenderMessage(text string) (string, error) {
	var r twimlResponse
	if strings.TrimSpace(text) != "" {
		r.Verbs = append(r.Verbs, twimlMessage{Body: text})
	}
	return encode(r)
}

func (e Emitter) say(in Instruction) twimlSay {
	voice := in.Voice
	if voice == "" {
		voice = e.Voice
	}
	return twimlSay{Voice: voice, Text: in.Text}
}

func (e Emitter) gather(override time.Duration) twimlGather {
	t := override
	if t <= 0 {
		t = e.DefaultTimeout
	}
	if t <= 0 {
		t = 5 * time.Second
	}
	secs := int(t.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return twimlGather{
		Input:         "speech",
		Action:        e.TranscribeURL,
		Method:        "POST",
		Timeout:       strconv.Itoa(secs),
		SpeechTimeout: "auto",
		Enhanced:      "true",
	}
}

func encode(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
