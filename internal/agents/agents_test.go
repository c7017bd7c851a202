package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemoryRepo_ResolveAppliesDefaults(t *testing.T) {
	r := NewMemoryRepo()
	if err := r.Put(Profile{ID: "a1", OrganizationID: "org-1", PhoneNumber: "+1 (555) 010-0000", Active: true, Greeting: "Hi from Acme"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	p, err := r.Resolve(context.Background(), "+15550100000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Greeting != "Hi from Acme" {
		t.Fatalf("expected configured greeting, got %q", p.Greeting)
	}
	if p.Goodbye != DefaultGoodbye || p.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("expected defaults, got %+v", p)
	}
}

func TestMemoryRepo_OneActiveProfilePerNumber(t *testing.T) {
	r := NewMemoryRepo()
	if err := r.Put(Profile{ID: "a1", PhoneNumber: "+15550100000", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Put(Profile{ID: "a2", PhoneNumber: "+15550100000", Active: true}); !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
	if err := r.Put(Profile{ID: "a2", PhoneNumber: "+15550100000", Active: false}); err != nil {
		t.Fatalf("inactive duplicate should be allowed: %v", err)
	}

	// Deactivating a1 frees the number.
	if err := r.Put(Profile{ID: "a1", PhoneNumber: "+15550100000", Active: false}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "+15550100000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Put(Profile{ID: "a2", PhoneNumber: "+15550100000", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err := r.Resolve(context.Background(), "+15550100000")
	if err != nil || p.ID != "a2" {
		t.Fatalf("expected a2, got %+v err=%v", p, err)
	}
}

func TestMemoryRepo_InvalidProfile(t *testing.T) {
	r := NewMemoryRepo()
	if err := r.Put(Profile{ID: "a1"}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestBusinessHours_IsOpen(t *testing.T) {
	b := BusinessHours{
		Timezone: "UTC",
		Days:     map[string]Window{"monday": {Open: "09:00", Close: "17:00"}},
	}
	mon := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	if !b.IsOpen(mon) {
		t.Fatalf("expected open monday 10:30")
	}
	if b.IsOpen(mon.Add(7 * time.Hour)) {
		t.Fatalf("expected closed monday 17:30")
	}
	if b.IsOpen(mon.Add(24 * time.Hour)) {
		t.Fatalf("expected closed tuesday")
	}
	if !(BusinessHours{}).IsOpen(mon) {
		t.Fatalf("expected empty hours to be always open")
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	doc := `
agents:
  - id: front-desk
    organization_id: org-1
    name: Front desk
    phone_number: "+15550100000"
    greeting: "Thanks for calling Acme."
    active: true
    business_hours:
      timezone: America/New_York
      days:
        monday: {open: "09:00", close: "17:00"}
    calendar_integration:
      provider: google
      calendar_id: primary
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewMemoryRepo()
	n, err := r.Seed(path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 profile, got %d", n)
	}
	p, err := r.Get(context.Background(), "front-desk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Calendar == nil || p.Calendar.CalendarID != "primary" {
		t.Fatalf("expected calendar integration, got %+v", p.Calendar)
	}
	if p.BusinessHours.Days["monday"].Close != "17:00" {
		t.Fatalf("expected business hours parsed, got %+v", p.BusinessHours)
	}
}

func TestParseSeed_RejectsInvalidEntries(t *testing.T) {
	if _, err := ParseSeed([]byte("agents:\n  - name: nobody\n")); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestPostgresRepo_ResolveDecodesJSONB(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{"id", "organization_id", "name", "phone_number", "greeting", "goodbye", "system_prompt",
		"voice_id", "business_hours", "transfer_directory", "calendar_integration", "active", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM agent_profiles WHERE phone_number = \$1 AND active`).
		WithArgs("+15550100000").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"a1", "org-1", "Desk", "+15550100000", "", "", "",
			"", []byte(`{"timezone":"UTC","days":{"friday":{"open":"08:00","close":"12:00"}}}`),
			[]byte(`null`), []byte(`{"provider":"google","calendar_id":"c1"}`), true, now, now,
		))

	p, err := NewPostgresRepo(db).Resolve(context.Background(), "+1 555 010 0000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Greeting != DefaultGreeting {
		t.Fatalf("expected default greeting, got %q", p.Greeting)
	}
	if p.BusinessHours.Days["friday"].Open != "08:00" || p.Calendar == nil || p.Calendar.CalendarID != "c1" {
		t.Fatalf("unexpected decoded profile: %+v", p)
	}
	if p.TransferDirectory != nil {
		t.Fatalf("expected nil transfer directory")
	}
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM agent_profiles WHERE id = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := NewPostgresRepo(db).Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
