package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"voice-agent-platform/pkg/utils"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Dialer places outbound calls.
type Dialer interface {
	PlaceCall(ctx context.Context, req OutboundCall) (CallResult, error)
}

// Messenger sends SMS.
type Messenger interface {
	SendSMS(ctx context.Context, to, body string) (MessageResult, error)
}

// RecordingFetcher looks up a finished call's recording.
type RecordingFetcher interface {
	// LatestRecordingURL returns "" with a nil error when the call has no recording.
	LatestRecordingURL(ctx context.Context, callSID string) (string, error)
}

type OutboundCall struct {
	To                string
	AnswerURL         string
	StatusCallbackURL string
	Record            bool
}

type CallResult struct {
	CallSID string
	Status  string
}

type MessageResult struct {
	MessageSID string
	Status     string
}

// twilioAPI is the subset of the v2010 API service we use.
type twilioAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	ListRecording(params *twilioApi.ListRecordingParams) ([]twilioApi.ApiV2010Recording, error)
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	Retry       utils.RetryPolicy
}

// TwilioClient implements Dialer, Messenger and RecordingFetcher over the REST API.
type TwilioClient struct {
	api        twilioAPI
	accountSID string
	from       string
	retry      utils.RetryPolicy
}

func NewTwilioClient(cfg TwilioConfig) *TwilioClient {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioClient(rc.Api, cfg)
}

func newTwilioClient(api twilioAPI, cfg TwilioConfig) *TwilioClient {
	p := cfg.Retry
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return &TwilioClient{api: api, accountSID: cfg.AccountSID, from: cfg.PhoneNumber, retry: p}
}

func (c *TwilioClient) PlaceCall(ctx context.Context, req OutboundCall) (CallResult, error) {
	if req.To == "" || req.AnswerURL == "" {
		return CallResult{}, errors.New("telephony: to and answer url required")
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(c.from)
	params.SetUrl(req.AnswerURL)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	params.SetRecord(req.Record)

	call, err := utils.Retry(ctx, c.retry, isRejectedBeforeCreate, func(ctx context.Context) (*twilioApi.ApiV2010Call, error) {
		return c.api.CreateCall(params)
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("telephony: create call: %w", err)
	}
	return CallResult{CallSID: deref(call.Sid), Status: deref(call.Status)}, nil
}

func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (MessageResult, error) {
	if to == "" || body == "" {
		return MessageResult{}, errors.New("telephony: to and body required")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	msg, err := utils.Retry(ctx, c.retry, isRejectedBeforeCreate, func(ctx context.Context) (*twilioApi.ApiV2010Message, error) {
		return c.api.CreateMessage(params)
	})
	if err != nil {
		return MessageResult{}, fmt.Errorf("telephony: create message: %w", err)
	}
	return MessageResult{MessageSID: deref(msg.Sid), Status: deref(msg.Status)}, nil
}

func (c *TwilioClient) LatestRecordingURL(ctx context.Context, callSID string) (string, error) {
	params := &twilioApi.ListRecordingParams{}
	params.SetCallSid(callSID)
	params.SetLimit(1)

	recs, err := utils.Retry(ctx, c.retry, isRetryableTwilio, func(ctx context.Context) ([]twilioApi.ApiV2010Recording, error) {
		return c.api.ListRecording(params)
	})
	if err != nil {
		return "", fmt.Errorf("telephony: list recordings: %w", err)
	}
	if len(recs) == 0 || deref(recs[0].Sid) == "" {
		return "", nil
	}
	return RecordingURL(c.accountSID, deref(recs[0].Sid)), nil
}

// RecordingURL is the public media URL for a recording.
func RecordingURL(accountSID, recordingSID string) string {
	return fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Recordings/%s.mp3", accountSID, recordingSID)
}

func isRetryableTwilio(err error) bool {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status == http.StatusTooManyRequests || restErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// isRejectedBeforeCreate reports whether Twilio refused a create request
// without acting on it. Transport errors are not retried: the call or message
// may already exist.
func isRejectedBeforeCreate(err error) bool {
	var restErr *twclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Status == http.StatusTooManyRequests || restErr.Status == http.StatusServiceUnavailable
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
