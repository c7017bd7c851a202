package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voice-agent-platform/internal/calls"

	openai "github.com/sashabaranov/go-openai"
)

func chatResponse(content string) []byte {
	b, _ := json.Marshal(openai.ChatCompletionResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion",
		Model:  "gpt-4-turbo",
		Choices: []openai.ChatCompletionChoice{{
			Index:   0,
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
	})
	return b
}

func newTestProvider(t *testing.T, h http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	}, nil)
}

func TestOpenAIProvider_CompleteSendsSystemPromptAndTurns(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatResponse("  Sure, what day works?  "))
	})

	out, err := p.Complete(context.Background(), Request{
		SystemPrompt: "be brief",
		Turns:        []Turn{{Role: RoleUser, Content: "book me"}, {Role: RoleAssistant, Content: "ok"}, {Role: RoleUser, Content: "tomorrow"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "Sure, what day works?" {
		t.Fatalf("expected trimmed reply, got %q", out)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != openai.ChatMessageRoleSystem || got.Messages[2].Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.Model != "gpt-4-turbo" || got.MaxTokens != 500 {
		t.Fatalf("expected default model and max tokens, got %s/%d", got.Model, got.MaxTokens)
	}
}

func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatResponse("hello"))
	})

	out, err := p.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "hello" || n.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d", out, n.Load())
	}
}

func TestOpenAIProvider_CallerDeadlineBoundsRetries(t *testing.T) {
	var n atomic.Int32
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		select {
		case <-r.Context().Done():
		case <-done:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Complete(ctx, Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected deadline error")
	}
	if elapsed > time.Second {
		t.Fatalf("expected retries to stop at the caller deadline, took %s", elapsed)
	}
	if n.Load() != 1 {
		t.Fatalf("expected one attempt within the deadline, got %d", n.Load())
	}
}

func TestOpenAIProvider_DoesNotRetryClientErrors(t *testing.T) {
	var n atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	if _, err := p.Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if n.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", n.Load())
	}
}

func TestOpenAIProvider_EmptyReply(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatResponse("   "))
	})
	if _, err := p.Complete(context.Background(), Request{}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestOpenAIProvider_AnalyzeRequestsJSON(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatResponse(`{"summary":"Caller booked a cleaning.","sentiment":"positive","key_points":["cleaning"],"action_items":["send reminder"]}`))
	})

	a, err := p.Analyze(context.Background(), "Caller: hi\nAI: hello")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatalf("expected json_object response format")
	}
	if a.Summary != "Caller booked a cleaning." || a.Sentiment != "positive" {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	if len(a.FollowUp) != 1 || a.FollowUp[0] != "send reminder" {
		t.Fatalf("expected follow up from action_items, got %+v", a.FollowUp)
	}
}

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis("The caller asked about hours.")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Summary != "The caller asked about hours." {
		t.Fatalf("expected raw content as summary, got %q", a.Summary)
	}

	a, _ = parseAnalysis(`{"Summary":"short","Key Points":"one thing"}`)
	if a.Summary != "short" || len(a.KeyPoints) != 1 {
		t.Fatalf("expected normalized keys, got %+v", a)
	}

	a, _ = parseAnalysis(`{"sentiment":"neutral"}`)
	if a.Summary != `{"sentiment":"neutral"}` {
		t.Fatalf("expected raw content when summary missing, got %q", a.Summary)
	}

	if _, err := parseAnalysis(" "); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestTurnsFromTranscript(t *testing.T) {
	turns := TurnsFromTranscript([]calls.Utterance{
		{Speaker: calls.SpeakerCaller, Text: "a"},
		{Speaker: calls.SpeakerAgent, Text: "b"},
	})
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(&openai.APIError{HTTPStatusCode: 429}) {
		t.Fatalf("expected 429 retryable")
	}
	if isRetryable(&openai.APIError{HTTPStatusCode: 401}) {
		t.Fatalf("expected 401 permanent")
	}
	if !isRetryable(context.DeadlineExceeded) {
		t.Fatalf("expected deadline retryable")
	}
	if isRetryable(context.Canceled) {
		t.Fatalf("expected cancel permanent")
	}
}
