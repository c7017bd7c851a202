package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/transcript"
	"voice-agent-platform/pkg/logger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// pageSize bounds each List read while aggregating.
const pageSize = 500

// Service reads sessions and transcripts. Every method enforces
// organization filtering.
type Service struct {
	sessions    calls.Repository
	transcripts transcript.Store
}

func NewService(sessions calls.Repository, transcripts transcript.Store) *Service {
	return &Service{sessions: sessions, transcripts: transcripts}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OrganizationID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.sessions == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	out := CallsSummary{OrganizationID: req.OrganizationID, AgentID: req.AgentID, CostMinor: map[string]int64{}}
	f := calls.Filter{OrganizationID: req.OrganizationID, AgentID: req.AgentID, From: req.Range.From, To: req.Range.To, Limit: pageSize}
	for {
		rows, err := s.sessions.List(ctx, f)
		if err != nil {
			return CallsSummary{}, fmt.Errorf("reporting: list sessions: %w", err)
		}
		for _, c := range rows {
			tally(&out, c)
		}
		if len(rows) < pageSize {
			break
		}
		f.Offset += len(rows)
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func tally(out *CallsSummary, c calls.CallSession) {
	out.TotalCalls++
	out.TotalDurationSeconds += c.DurationSeconds
	if c.Direction == calls.DirectionOutbound {
		out.OutboundCalls++
	} else {
		out.InboundCalls++
	}
	if c.RecordingURL != "" {
		out.RecordedCalls++
	}
	if c.Summary != "" {
		out.SummarizedCalls++
	}
	if c.CostMinor > 0 {
		out.CostMinor[c.Currency] += c.CostMinor
	}
	switch c.Status {
	case calls.StatusCompleted:
		out.CompletedCalls++
	case calls.StatusFailed:
		out.FailedCalls++
	case calls.StatusNoAnswer:
		out.NoAnswerCalls++
	case calls.StatusBusy:
		out.BusyCalls++
	case calls.StatusCanceled:
		out.CanceledCalls++
	case calls.StatusInProgress:
		out.InProgressCalls++
	case calls.StatusRinging, calls.StatusQueued:
		// not counted separately
	}
}

// CallLogs returns one page of sessions with their transcripts. A transcript
// that cannot be read is logged and returned empty.
func (s *Service) CallLogs(ctx context.Context, req CallLogsRequest) ([]calls.CallSession, error) {
	if req.OrganizationID == "" {
		return nil, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return nil, ErrInvalidRequest
	}
	if s.sessions == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	rows, err := s.sessions.List(ctx, calls.Filter{
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		From:           req.Range.From,
		To:             req.Range.To,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("reporting: list sessions: %w", err)
	}

	if s.transcripts == nil {
		return rows, nil
	}
	for i := range rows {
		us, err := s.transcripts.List(ctx, rows[i].CallSID)
		if err != nil {
			logger.From(ctx).Warn("transcript unavailable", "call_sid", rows[i].CallSID, "err", err)
			continue
		}
		rows[i].Transcript = us
	}
	return rows, nil
}

// DefaultRange is the window used when a caller supplies none: the last 30 days.
func DefaultRange(now time.Time) TimeRange {
	return TimeRange{From: now.Add(-30 * 24 * time.Hour), To: now}
}
