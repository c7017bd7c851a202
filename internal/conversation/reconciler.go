package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/events"
	"voice-agent-platform/internal/pricing"
	"voice-agent-platform/internal/transcript"
	"voice-agent-platform/pkg/logger"
)

// StatusUpdate is a provider lifecycle notification.
type StatusUpdate struct {
	CallSID         string
	Status          string
	DurationSeconds int
	From            string
	To              string
	Direction       string
}

// directionOutboundAPI marks calls placed through the REST API.
const directionOutboundAPI = "outbound-api"

// Outcome says what a status update did. It is informational; callers
// acknowledge the notification whatever the outcome.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeStale       Outcome = "stale"
	OutcomeUnknownCall Outcome = "unknown_call"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeFailed      Outcome = "failed"
)

// Reconciler applies status notifications to sessions and, once a call is
// terminal, enriches it with recording, summary and cost.
type Reconciler struct {
	d Deps
	// EnrichTimeout bounds the post-call recording, analysis and pricing work.
	EnrichTimeout time.Duration
}

func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{d: d.withDefaults(), EnrichTimeout: defaultEnrichTTL}
}

func (r *Reconciler) HandleStatus(ctx context.Context, u StatusUpdate) Outcome {
	ctx, log := logger.WithCall(context.WithoutCancel(ctx), u.CallSID)
	out := r.handle(ctx, log, u)
	r.d.Metrics.StatusUpdate(u.Status, string(out))
	return out
}

func (r *Reconciler) handle(ctx context.Context, log *slog.Logger, u StatusUpdate) Outcome {
	status, ok := calls.ParseStatus(u.Status)
	if !ok || u.CallSID == "" {
		log.Warn("status update ignored", "status", u.Status)
		return OutcomeInvalid
	}

	unlock := r.d.Locks.Lock(u.CallSID)
	defer unlock()

	sess, err := r.d.Sessions.Get(ctx, u.CallSID)
	if errors.Is(err, calls.ErrNotFound) && status.IsTerminal() && u.Direction == directionOutboundAPI {
		sess, err = r.placeholder(ctx, log, u)
	}
	if errors.Is(err, calls.ErrNotFound) {
		log.Info("status update for unknown call dropped", "status", status)
		return OutcomeUnknownCall
	}
	if err != nil {
		log.Error("load session failed", "err", err)
		return OutcomeFailed
	}

	if !status.IsTerminal() {
		_, err := r.d.Sessions.Advance(ctx, u.CallSID, status)
		switch {
		case err == nil:
			if status == calls.StatusInProgress {
				announceStarted(ctx, r.d, sess)
			}
			return OutcomeApplied
		case errors.Is(err, calls.ErrStatusRegression):
			log.Debug("stale status ignored", "status", status, "current", sess.Status)
			return OutcomeStale
		default:
			log.Error("advance failed", "status", status, "err", err)
			return OutcomeFailed
		}
	}

	duration := u.DurationSeconds
	if duration < 0 {
		duration = 0
	}
	final, err := r.d.Sessions.Finalize(ctx, u.CallSID, calls.Final{
		Status:          status,
		DurationSeconds: duration,
		EndedAt:         r.d.Clock().UTC(),
	})
	if errors.Is(err, calls.ErrAlreadyTerminal) {
		log.Debug("duplicate terminal status ignored", "status", status, "current", sess.Status)
		return OutcomeStale
	}
	if err != nil {
		log.Error("finalize failed", "status", status, "err", err)
		return OutcomeFailed
	}
	if sess.Status == calls.StatusInProgress {
		r.d.Metrics.CallEnded()
	}

	r.enrich(ctx, log, final)
	return OutcomeApplied
}

// enrich is best effort: each step that fails leaves its field unset.
func (r *Reconciler) enrich(ctx context.Context, log *slog.Logger, sess calls.CallSession) {
	ctx, cancel := context.WithTimeout(ctx, r.EnrichTimeout)
	defer cancel()

	e := calls.Enrichment{ReleaseCapacity: sess.CapacityHeld}
	releaseSlot(ctx, log, r.d.Capacity, sess.AgentID, sess.CapacityHeld)

	if sess.Status == calls.StatusCompleted {
		e.RecordingURL = r.recording(ctx, log, sess.CallSID)
		e.Summary = r.summarize(ctx, log, sess.CallSID)
	}
	if cost, ok := r.rate(ctx, log, sess); ok {
		e.CostMinor, e.Currency = cost.TotalMinor, cost.Currency
	}

	enriched, err := r.d.Sessions.Enrich(ctx, sess.CallSID, e)
	if err != nil {
		log.Error("enrich session failed", "err", err)
		enriched = sess
		enriched.RecordingURL, enriched.Summary = e.RecordingURL, e.Summary
	}

	ev := events.CallEvent{
		CallSID:         enriched.CallSID,
		AgentID:         enriched.AgentID,
		OrganizationID:  enriched.OrganizationID,
		Direction:       string(enriched.Direction),
		Status:          string(enriched.Status),
		DurationSeconds: enriched.DurationSeconds,
		RecordingURL:    enriched.RecordingURL,
	}
	ev.Type = events.CallEnded
	r.d.Events.Emit(ctx, ev)
	if enriched.Summary != "" {
		ev.Type = events.CallSummarized
		ev.Summary = enriched.Summary
		r.d.Events.Emit(ctx, ev)
	}
	log.Info("call finalized",
		"status", enriched.Status,
		"duration", enriched.DurationSeconds,
		"recorded", enriched.RecordingURL != "",
		"summarized", enriched.Summary != "",
	)
}

func (r *Reconciler) recording(ctx context.Context, log *slog.Logger, callSID string) string {
	if r.d.Recordings == nil {
		return ""
	}
	url, err := r.d.Recordings.LatestRecordingURL(ctx, callSID)
	if err != nil {
		log.Warn("recording lookup failed", "err", err)
		return ""
	}
	return url
}

func (r *Reconciler) summarize(ctx context.Context, log *slog.Logger, callSID string) string {
	us, err := r.d.Transcripts.List(ctx, callSID)
	if err != nil {
		log.Warn("transcript unavailable for analysis", "err", err)
		return ""
	}
	if len(us) == 0 {
		return ""
	}
	a, err := r.d.Completion.Analyze(ctx, transcript.Render(us))
	if err != nil {
		log.Warn("call analysis failed", "err", err)
		return ""
	}
	return a.Summary
}

func (r *Reconciler) rate(ctx context.Context, log *slog.Logger, sess calls.CallSession) (pricing.CallCost, bool) {
	if r.d.Pricing == nil || sess.DurationSeconds <= 0 || sess.OrganizationID == "" {
		return pricing.CallCost{}, false
	}
	dest, dir := sess.From, pricing.CallDirectionInbound
	if sess.Direction == calls.DirectionOutbound {
		dest, dir = sess.To, pricing.CallDirectionOutbound
	}
	cost, err := r.d.Pricing.CalculateCallCost(ctx, pricing.CallCostRequest{
		OrganizationID:  sess.OrganizationID,
		Direction:       dir,
		Destination:     dest,
		DurationSeconds: sess.DurationSeconds,
		At:              sess.CreatedAt,
	})
	if err != nil {
		log.Warn("call rating failed", "err", err)
		return pricing.CallCost{}, false
	}
	return cost, true
}

// placeholder records an outbound call that ended before StartCall stored it.
// The session holds no slot; StartCall releases its own when Create collides.
func (r *Reconciler) placeholder(ctx context.Context, log *slog.Logger, u StatusUpdate) (calls.CallSession, error) {
	profile, err := r.d.Agents.Resolve(ctx, u.From)
	if err != nil {
		log.Warn("early terminal status without agent", "from", u.From, "err", err)
		return calls.CallSession{}, calls.ErrNotFound
	}
	sess, err := r.d.Sessions.Create(ctx, calls.CallSession{
		CallSID:        u.CallSID,
		OrganizationID: profile.OrganizationID,
		AgentID:        profile.ID,
		Direction:      calls.DirectionOutbound,
		From:           profile.PhoneNumber,
		To:             agents.NormalizePhone(u.To),
		Status:         calls.StatusQueued,
	})
	if errors.Is(err, calls.ErrAlreadyExists) {
		return r.d.Sessions.Get(ctx, u.CallSID)
	}
	if err == nil {
		log.Info("outbound session recorded from early terminal status", "agent_id", profile.ID)
	}
	return sess, err
}
