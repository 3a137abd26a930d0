package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "credits", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_CreditsDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Credits.ReservationTTL != 5*time.Minute {
		t.Fatalf("expected 5m reservation TTL default, got %s", c.Credits.ReservationTTL)
	}
	if c.Credits.SweepChunkSize != 500 {
		t.Fatalf("expected chunk size 500 default, got %d", c.Credits.SweepChunkSize)
	}
	if c.Credits.SweepInterval != time.Minute {
		t.Fatalf("expected 1m sweep interval default, got %s", c.Credits.SweepInterval)
	}
}

func TestValidate_RejectsTinySweepInterval(t *testing.T) {
	c := validLocal()
	c.Credits.SweepInterval = 100 * time.Millisecond
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sub-second sweep interval")
	}
}
