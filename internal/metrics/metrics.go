package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the voice agent's Prometheus collectors.
//
// A nil *Metrics is valid; every method is then a no-op, so packages can
// take one without forcing tests to register collectors.
//
//	m := metrics.New(prometheus.NewRegistry())
//	defer m.ObserveTurn(time.Now(), "ok")
type Metrics struct {
	// Labels: outcome (ok|fallback|hangup|no_speech|not_found)
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Labels: status, result (applied|stale|unknown_call|invalid|failed)
	StatusUpdatesTotal *prometheus.CounterVec

	// Labels: kind (reply|analysis|sms), status (success|error)
	CompletionRequestsTotal *prometheus.CounterVec
	// Labels: kind
	CompletionDuration *prometheus.HistogramVec

	ActiveCalls prometheus.Gauge

	// Labels: direction (inbound|outbound), result (accepted|placed|rejected|failed)
	CallsStartedTotal *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_turns_total",
				Help: "Conversation turns handled by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voiceagent_turn_duration_seconds",
				Help:    "Time from utterance webhook to reply instruction",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
		),
		StatusUpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_status_updates_total",
				Help: "Provider status notifications by status and result",
			},
			[]string{"status", "result"},
		),
		CompletionRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_completion_requests_total",
				Help: "Completion provider requests by kind and status",
			},
			[]string{"kind", "status"},
		),
		CompletionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_completion_duration_seconds",
				Help:    "Completion provider latency including retries",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ActiveCalls: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "voiceagent_active_calls",
				Help: "Calls started on this instance and not yet terminal",
			},
		),
		CallsStartedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_calls_started_total",
				Help: "Call start attempts by direction and result",
			},
			[]string{"direction", "result"},
		),
	}
}

func (m *Metrics) ObserveTurn(start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) StatusUpdate(status, result string) {
	if m == nil {
		return
	}
	m.StatusUpdatesTotal.WithLabelValues(status, result).Inc()
}

func (m *Metrics) ObserveCompletion(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.CompletionRequestsTotal.WithLabelValues(kind, status).Inc()
	m.CompletionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CallStarted(direction, result string) {
	if m == nil {
		return
	}
	m.CallsStartedTotal.WithLabelValues(direction, result).Inc()
	if result == "accepted" {
		m.ActiveCalls.Inc()
	}
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}
