package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo stores sessions in the call_sessions table.
// Status changes lock the row (SELECT ... FOR UPDATE) so the forward-only
// check and the write happen atomically across processes.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const sessionColumns = `id, call_sid, organization_id, agent_id, direction, from_number, to_number,
       status, hangup_requested, capacity_held, duration_seconds, recording_url, summary,
       cost_minor, currency, created_at, updated_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var s CallSession
	var ended sql.NullTime
	if err := row.Scan(
		&s.ID,
		&s.CallSID,
		&s.OrganizationID,
		&s.AgentID,
		&s.Direction,
		&s.From,
		&s.To,
		&s.Status,
		&s.HangupRequested,
		&s.CapacityHeld,
		&s.DurationSeconds,
		&s.RecordingURL,
		&s.Summary,
		&s.CostMinor,
		&s.Currency,
		&s.CreatedAt,
		&s.UpdatedAt,
		&ended,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}

func (r *PostgresRepo) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if err := validateNew(s); err != nil {
		return CallSession{}, err
	}
	now := r.clock().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	const q = `
INSERT INTO call_sessions (
  id, call_sid, organization_id, agent_id, direction, from_number, to_number,
  status, hangup_requested, capacity_held, duration_seconds, recording_url, summary,
  cost_minor, currency, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,false,$9,0,'','',0,'',$10,$11
)
RETURNING ` + sessionColumns

	out, err := scanSession(r.db.QueryRowContext(ctx, q,
		s.ID,
		s.CallSID,
		s.OrganizationID,
		s.AgentID,
		s.Direction,
		s.From,
		s.To,
		s.Status,
		s.CapacityHeld,
		s.CreatedAt,
		s.UpdatedAt,
	))
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return CallSession{}, ErrAlreadyExists
		}
		return CallSession{}, fmt.Errorf("calls: insert session: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, callSID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_sid = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, callSID))
}

func lockSession(ctx context.Context, tx *sql.Tx, callSID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_sid = $1 FOR UPDATE`
	return scanSession(tx.QueryRowContext(ctx, q, callSID))
}

func (r *PostgresRepo) Advance(ctx context.Context, callSID string, to Status) (CallSession, error) {
	if to.IsTerminal() {
		return CallSession{}, ErrInvalidSession
	}
	var out CallSession
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockSession(ctx, tx, callSID)
		if err != nil {
			return err
		}
		if !cur.Status.CanAdvance(to) {
			out = cur
			return ErrStatusRegression
		}
		q := `UPDATE call_sessions SET status = $2, updated_at = $3 WHERE call_sid = $1 RETURNING ` + sessionColumns
		out, err = scanSession(tx.QueryRowContext(ctx, q, callSID, to, r.clock().UTC()))
		return err
	})
	return out, err
}

func (r *PostgresRepo) MarkHangupRequested(ctx context.Context, callSID string) error {
	const q = `UPDATE call_sessions SET hangup_requested = true, updated_at = $2 WHERE call_sid = $1`
	res, err := r.db.ExecContext(ctx, q, callSID, r.clock().UTC())
	if err != nil {
		return fmt.Errorf("calls: mark hangup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Finalize(ctx context.Context, callSID string, f Final) (CallSession, error) {
	if err := validateFinal(f); err != nil {
		return CallSession{}, err
	}
	now := r.clock().UTC()
	ended := f.EndedAt
	if ended.IsZero() {
		ended = now
	}

	var out CallSession
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockSession(ctx, tx, callSID)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			out = cur
			return ErrAlreadyTerminal
		}
		q := `
UPDATE call_sessions
SET status = $2, duration_seconds = $3, ended_at = $4, updated_at = $5
WHERE call_sid = $1
RETURNING ` + sessionColumns
		out, err = scanSession(tx.QueryRowContext(ctx, q, callSID, f.Status, f.DurationSeconds, ended, now))
		return err
	})
	return out, err
}

func (r *PostgresRepo) Enrich(ctx context.Context, callSID string, e Enrichment) (CallSession, error) {
	var out CallSession
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockSession(ctx, tx, callSID)
		if err != nil {
			return err
		}
		if !cur.Status.IsTerminal() {
			out = cur
			return ErrNotTerminal
		}
		applyEnrichment(&cur, e)
		q := `
UPDATE call_sessions
SET recording_url = $2, summary = $3, cost_minor = $4, currency = $5, capacity_held = $6, updated_at = $7
WHERE call_sid = $1
RETURNING ` + sessionColumns
		out, err = scanSession(tx.QueryRowContext(ctx, q,
			callSID,
			cur.RecordingURL,
			cur.Summary,
			cur.CostMinor,
			cur.Currency,
			cur.CapacityHeld,
			r.clock().UTC(),
		))
		return err
	})
	return out, err
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]CallSession, error) {
	f = f.withDefaults()

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OrganizationID != "" {
		add("organization_id = $%d", f.OrganizationID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + sessionColumns + ` FROM call_sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, call_sid LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
