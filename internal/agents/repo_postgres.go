package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRepo reads agent_profiles. A partial unique index on
// (phone_number) WHERE active keeps one active profile per number.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const profileColumns = `id, organization_id, name, phone_number, greeting, goodbye, system_prompt,
       voice_id, business_hours, transfer_directory, calendar_integration, active, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (Profile, error) {
	var p Profile
	var hours, transfer, calendar []byte
	if err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.PhoneNumber,
		&p.Greeting,
		&p.Goodbye,
		&p.SystemPrompt,
		&p.VoiceID,
		&hours,
		&transfer,
		&calendar,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &p.BusinessHours); err != nil {
			return Profile{}, fmt.Errorf("agents: decode business_hours: %w", err)
		}
	}
	if len(transfer) > 0 && string(transfer) != "null" {
		if err := json.Unmarshal(transfer, &p.TransferDirectory); err != nil {
			return Profile{}, fmt.Errorf("agents: decode transfer_directory: %w", err)
		}
	}
	if len(calendar) > 0 && string(calendar) != "null" {
		p.Calendar = &CalendarIntegration{}
		if err := json.Unmarshal(calendar, p.Calendar); err != nil {
			return Profile{}, fmt.Errorf("agents: decode calendar_integration: %w", err)
		}
	}
	return p.WithDefaults(), nil
}

func (r *PostgresRepo) Resolve(ctx context.Context, phoneNumber string) (Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM agent_profiles WHERE phone_number = $1 AND active LIMIT 1`
	return scanProfile(r.db.QueryRowContext(ctx, q, NormalizePhone(phoneNumber)))
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM agent_profiles WHERE id = $1`
	return scanProfile(r.db.QueryRowContext(ctx, q, id))
}
