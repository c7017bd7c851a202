package completion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"voice-agent-platform/internal/calls"
)

var ErrEmptyCompletion = errors.New("completion: empty response")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

type Request struct {
	SystemPrompt string
	Turns        []Turn
	MaxTokens    int
	// Kind labels the request in metrics ("reply", "sms").
	Kind string
}

// Analysis is the post-call summary of a transcript.
type Analysis struct {
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
	FollowUp  []string `json:"follow_up,omitempty"`
}

// Provider produces agent replies and post-call analysis.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Analyze(ctx context.Context, transcript string) (Analysis, error)
}

// TurnsFromTranscript maps caller utterances to user turns and agent utterances to assistant turns, in order.
func TurnsFromTranscript(us []calls.Utterance) []Turn {
	out := make([]Turn, 0, len(us))
	for _, u := range us {
		role := RoleUser
		if u.Speaker == calls.SpeakerAgent {
			role = RoleAssistant
		}
		out = append(out, Turn{Role: role, Content: u.Text})
	}
	return out
}

// parseAnalysis decodes the model's JSON. Models vary in key naming and in
// whether list fields come back as arrays or strings; anything that is not a
// JSON object becomes the summary verbatim.
func parseAnalysis(content string) (Analysis, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Analysis{}, ErrEmptyCompletion
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Analysis{Summary: content}, nil
	}
	norm := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		norm[strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), " ", "_"))] = v
	}

	a := Analysis{
		Summary:   firstString(norm, "summary", "brief_summary"),
		Sentiment: firstString(norm, "sentiment", "caller_sentiment"),
		KeyPoints: firstList(norm, "key_points", "keypoints"),
		FollowUp:  firstList(norm, "follow_up", "follow_ups", "action_items", "followups"),
	}
	if a.Summary == "" {
		a.Summary = content
	}
	return a, nil
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstList(m map[string]json.RawMessage, keys ...string) []string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			return list
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
	}
	return nil
}
