package agents

import (
	"strings"
	"time"
)

const (
	DefaultGreeting     = "Hello, this is an AI assistant. How may I help you today?"
	DefaultGoodbye      = "Thank you for calling. Goodbye!"
	DefaultSystemPrompt = "You are a helpful AI assistant answering a phone call."
)

// Profile is the per-number persona an AI agent answers with.
type Profile struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Name           string `json:"name" yaml:"name"`
	PhoneNumber    string `json:"phone_number" yaml:"phone_number"`

	Greeting     string `json:"greeting" yaml:"greeting"`
	Goodbye      string `json:"goodbye" yaml:"goodbye"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	VoiceID      string `json:"voice_id,omitempty" yaml:"voice_id"`

	BusinessHours     BusinessHours        `json:"business_hours" yaml:"business_hours"`
	TransferDirectory map[string]string    `json:"transfer_directory,omitempty" yaml:"transfer_directory"`
	Calendar          *CalendarIntegration `json:"calendar_integration,omitempty" yaml:"calendar_integration"`

	Active bool `json:"active" yaml:"active"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// BusinessHours maps lowercase weekday names ("monday") to opening windows.
type BusinessHours struct {
	Timezone string            `json:"timezone,omitempty" yaml:"timezone"`
	Days     map[string]Window `json:"days,omitempty" yaml:"days"`
}

// Window is an opening range in "15:04" local time.
type Window struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

type CalendarIntegration struct {
	Provider   string `json:"provider" yaml:"provider"`
	CalendarID string `json:"calendar_id" yaml:"calendar_id"`
}

// WithDefaults fills blank conversational text with the stock phrasing.
func (p Profile) WithDefaults() Profile {
	if strings.TrimSpace(p.Greeting) == "" {
		p.Greeting = DefaultGreeting
	}
	if strings.TrimSpace(p.Goodbye) == "" {
		p.Goodbye = DefaultGoodbye
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	return p
}

// IsOpen reports whether at falls inside the profile's hours.
// Profiles without configured days are always open.
func (b BusinessHours) IsOpen(at time.Time) bool {
	if len(b.Days) == 0 {
		return true
	}
	if b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			at = at.In(loc)
		}
	}
	w, ok := b.Days[strings.ToLower(at.Weekday().String())]
	if !ok {
		return false
	}
	open, err1 := time.Parse("15:04", w.Open)
	closeAt, err2 := time.Parse("15:04", w.Close)
	if err1 != nil || err2 != nil {
		return false
	}
	mins := at.Hour()*60 + at.Minute()
	return mins >= open.Hour()*60+open.Minute() && mins < closeAt.Hour()*60+closeAt.Minute()
}

// NormalizePhone strips formatting so "+1 (555) 010-0000" and "+15550100000" match.
func NormalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
