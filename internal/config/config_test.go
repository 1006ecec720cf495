package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "APP_ENV is required") || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected aggregated errors, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "voice"
	c.Auth.JWTAudience = "dashboard"
	c.Realtime.APIKey = "sk-test"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
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
	if c.Realtime.Model != "gpt-4o-realtime-preview-2024-10-01" || c.Realtime.Voice != "alloy" {
		t.Fatalf("unexpected realtime defaults: %+v", c.Realtime)
	}
	if c.Realtime.AudioFormat != "g711_ulaw" || c.Realtime.Temperature != 0.8 {
		t.Fatalf("unexpected realtime defaults: %+v", c.Realtime)
	}
	if c.Realtime.VADSilenceDurationMs != 1000 || c.Realtime.VADPrefixPaddingMs != 300 {
		t.Fatalf("unexpected vad defaults: %+v", c.Realtime)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", c.Auth.AccessTokenTTL)
	}
	if c.Twilio.Greeting == "" {
		t.Fatalf("expected greeting default")
	}
}

func TestValidate_RejectsUnknownAudioFormat(t *testing.T) {
	c := validLocal()
	c.Realtime.AudioFormat = "opus"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected audio format error")
	}
}

func TestValidate_SignatureCheckNeedsToken(t *testing.T) {
	c := validLocal()
	c.Twilio.ValidateSignatures = true
	if err := c.Validate(); err == nil {
		t.Fatalf("expected missing auth token error")
	}
}

func TestFromViper_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "voice")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("CALLS_MAX_CONCURRENT", "4")
	t.Setenv("PUBLIC_URL", "https://voice.example.com/")

	v := viper.New()
	v.AutomaticEnv()
	c, err := fromViper(v)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 9000 || c.RedisAddr() != "cache:6379" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if len(c.App.CORSOrigins) != 2 || c.App.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", c.App.CORSOrigins)
	}
	if c.Calls.MaxConcurrent != 4 {
		t.Fatalf("expected max concurrent 4, got %d", c.Calls.MaxConcurrent)
	}
	if c.App.PublicURL != "https://voice.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.App.PublicURL)
	}
}

func TestFromViper_BadIntegerReported(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "eighty")

	v := viper.New()
	v.AutomaticEnv()
	if _, err := fromViper(v); err == nil || !strings.Contains(err.Error(), "APP_PORT must be an integer") {
		t.Fatalf("expected integer error, got %v", err)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice.yaml")
	body := "APP_ENV: local\nAPP_PORT: 8081\nDB_HOST: localhost\nDB_PORT: 5432\nDB_USER: postgres\nDB_NAME: voice\nREDIS_HOST: localhost\nREDIS_PORT: 6379\nJWT_SECRET: s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "8082")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 8082 {
		t.Fatalf("expected env to override file, got %d", c.App.Port)
	}
	if c.DB.Name != "voice" {
		t.Fatalf("expected file value, got %q", c.DB.Name)
	}
}
