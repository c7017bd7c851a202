package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/pkg/utils"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel     = "gpt-4-turbo"
	replyTemperature = 0.7
	replyMaxTokens   = 500

	analysisTemperature = 0.3
	analysisMaxTokens   = 1000

	analystSystemPrompt = "You are an expert conversation analyst. Extract key information and format as JSON."
	analysisPrompt      = `Analyze the following conversation transcript between an AI assistant and a caller.
Please provide:
1. A brief summary of the conversation ("summary")
2. Key points discussed ("key_points", a list)
3. Any action items or follow-ups needed ("follow_up", a list)
4. The caller's sentiment ("sentiment": positive, neutral, negative)

Format your response as JSON with these fields.

Transcript:`
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds each attempt, not the whole retry loop.
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIProvider implements Provider over the chat completions API.
// It is safe for concurrent use.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   utils.RetryPolicy
	metrics *metrics.Metrics
}

func NewOpenAIProvider(cfg OpenAIConfig, m *metrics.Metrics) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
		retry: utils.RetryPolicy{
			MaxAttempts:     attempts,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		metrics: m,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = replyMaxTokens
	}
	kind := req.Kind
	if kind == "" {
		kind = "reply"
	}

	start := time.Now()
	out, err := p.create(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: replyTemperature,
	})
	p.metrics.ObserveCompletion(kind, start, err)
	return out, err
}

func (p *OpenAIProvider) Analyze(ctx context.Context, transcript string) (Analysis, error) {
	start := time.Now()
	content, err := p.create(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analystSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: analysisPrompt + "\n\n" + transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    analysisTemperature,
		MaxTokens:      analysisMaxTokens,
	})
	p.metrics.ObserveCompletion("analysis", start, err)
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(content)
}

func (p *OpenAIProvider) create(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	return utils.Retry(ctx, p.retry, isRetryable, func(ctx context.Context) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		resp, err := p.client.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			return "", fmt.Errorf("completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyCompletion
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	})
}

// isRetryable matches rate limits, 5xx and timeouts.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrEmptyCompletion) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
