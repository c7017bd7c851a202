package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voiceagent"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+15550000000"},
		OpenAI: OpenAIConfig{APIKey: "sk-test"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.HasPrefix(err.Error(), "config errors:") {
		t.Fatalf("expected aggregated errors, got %q", err.Error())
	}
	for _, want := range []string{"APP_ENV", "TWILIO_ACCOUNT_SID", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ProductionRequiresSSLModeAndBaseURL(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and PUBLIC_BASE_URL")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Calls.MaxConcurrentPerAgent != 10 {
		t.Fatalf("expected per-agent cap 10, got %d", c.Calls.MaxConcurrentPerAgent)
	}
	if c.Calls.TurnTimeout != 12*time.Second {
		t.Fatalf("expected 12s turn timeout, got %s", c.Calls.TurnTimeout)
	}
	if c.Calls.GatherTimeout != 5*time.Second {
		t.Fatalf("expected 5s gather timeout, got %s", c.Calls.GatherTimeout)
	}
	if c.OpenAI.Model != "gpt-4-turbo" || c.OpenAI.Timeout != 30*time.Second {
		t.Fatalf("unexpected openai defaults: %+v", c.OpenAI)
	}
	if c.App.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", c.App.PublicBaseURL)
	}
}

func TestFromEnv_ParsesVariables(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("PUBLIC_BASE_URL", "https://agent.example.com/")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550000000")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "false")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("MAX_CONCURRENT_CALLS_PER_AGENT", "3")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 9000 || c.Calls.MaxConcurrentPerAgent != 3 {
		t.Fatalf("unexpected parsed config: %+v", c)
	}
	if c.Twilio.ValidateSignature {
		t.Fatalf("expected signature validation disabled")
	}
	if got := c.CallbackURL("/api/v1/calls/status"); got != "https://agent.example.com/api/v1/calls/status" {
		t.Fatalf("unexpected callback url %q", got)
	}
}

func TestFromEnv_RejectsNonInteger(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "APP_PORT must be an integer") {
		t.Fatalf("expected integer parse error, got %v", err)
	}
}

func TestValidate_TurnTimeoutBelowWebhookTimeout(t *testing.T) {
	c := validLocal()
	c.Calls.TurnTimeout = 20 * time.Second
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TURN_TIMEOUT") {
		t.Fatalf("expected TURN_TIMEOUT error, got %v", err)
	}
}
