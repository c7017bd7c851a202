package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Organization isolation: OrganizationID is required.
type CallsSummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	Range          TimeRange `json:"range"`
}

type CallsSummary struct {
	OrganizationID string `json:"organization_id"`
	AgentID        string `json:"agent_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	InboundCalls    int `json:"inbound_calls"`
	OutboundCalls   int `json:"outbound_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls   int `json:"recorded_calls"`
	SummarizedCalls int `json:"summarized_calls"`

	// CostMinor is keyed by currency.
	CostMinor map[string]int64 `json:"cost_minor"`
}

// CallLogsRequest pages through an organization's sessions, newest first.
type CallLogsRequest struct {
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	Range          TimeRange `json:"range"`
	Limit          int       `json:"limit"`
	Offset         int       `json:"offset"`
}
