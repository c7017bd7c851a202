package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"voice-agent-platform/internal/calls"
	"voice-agent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore appends to call_utterances, which carries UNIQUE (call_sid, seq)
// and rejects UPDATE/DELETE by policy.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
	// seqRetries bounds retries when two writers race for the same seq.
	seqRetries int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now, seqRetries: 3}
}

func (s *PostgresStore) Append(ctx context.Context, callSID string, speaker calls.Speaker, text string) (calls.Utterance, error) {
	if err := validate(callSID, speaker, text); err != nil {
		return calls.Utterance{}, err
	}

	const q = `
INSERT INTO call_utterances (id, call_sid, seq, speaker, text, created_at)
SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
FROM call_utterances
WHERE call_sid = $2
RETURNING id, call_sid, seq, speaker, text, created_at
`
	var lastErr error
	for attempt := 0; attempt <= s.seqRetries; attempt++ {
		var u calls.Utterance
		err := s.db.QueryRowContext(ctx, q, uuid.NewString(), callSID, speaker, text, s.clock().UTC()).Scan(
			&u.ID,
			&u.CallSID,
			&u.Seq,
			&u.Speaker,
			&u.Text,
			&u.CreatedAt,
		)
		if err == nil {
			return u, nil
		}
		if !utils.IsUniqueViolation(err) {
			return calls.Utterance{}, fmt.Errorf("transcript: append: %w", err)
		}
		lastErr = err
	}
	return calls.Utterance{}, fmt.Errorf("transcript: append seq contention: %w", lastErr)
}

func (s *PostgresStore) List(ctx context.Context, callSID string) ([]calls.Utterance, error) {
	const q = `
SELECT id, call_sid, seq, speaker, text, created_at
FROM call_utterances
WHERE call_sid = $1
ORDER BY seq ASC
`
	rows, err := s.db.QueryContext(ctx, q, callSID)
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	defer rows.Close()

	out := make([]calls.Utterance, 0)
	for rows.Next() {
		var u calls.Utterance
		if err := rows.Scan(&u.ID, &u.CallSID, &u.Seq, &u.Speaker, &u.Text, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
