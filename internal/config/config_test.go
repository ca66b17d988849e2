package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Credentials.SeedUsername != "admin" {
		t.Fatalf("expected default seed username, got %q", cfg.Credentials.SeedUsername)
	}
	if cfg.STT.Language != "pt" {
		t.Fatalf("expected default language pt, got %q", cfg.STT.Language)
	}
	if cfg.Transcript.EffectiveWindowSeconds() != 60 {
		t.Fatalf("expected strict default window 60, got %d", cfg.Transcript.EffectiveWindowSeconds())
	}
}

func TestEffectiveWindowRolling(t *testing.T) {
	tc := TranscriptConfig{Mode: "rolling"}
	if got := tc.EffectiveWindowSeconds(); got != 120 {
		t.Fatalf("expected rolling default window 120, got %d", got)
	}
	tc.WindowSeconds = 30
	if got := tc.EffectiveWindowSeconds(); got != 30 {
		t.Fatalf("expected explicit window 30, got %d", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	data := []byte(`runtime_name: archive
http:
  port: 9000
transcript:
  mode: rolling
stt:
  mode: exec
  command: "whisper-json --threads 4"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "archive" || cfg.HTTP.Port != 9000 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Transcript.Mode != "rolling" {
		t.Fatalf("expected rolling mode, got %q", cfg.Transcript.Mode)
	}
	if cfg.STT.Command != "whisper-json --threads 4" {
		t.Fatalf("unexpected stt command %q", cfg.STT.Command)
	}
	if cfg.Credentials.SeedDisplayName != "Administrador CMUrb" {
		t.Fatalf("expected defaults to survive partial file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_HTTP_PORT", "9100")
	t.Setenv("LOQA_HTTP_CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("LOQA_CREDENTIALS_PATH", "./users.db")
	t.Setenv("LOQA_CREDENTIALS_BCRYPT_COST", "4")
	t.Setenv("LOQA_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("LOQA_AUTH_REQUIRE_TOKEN", "true")
	t.Setenv("LOQA_STT_TIMEOUT_SECONDS", "60")
	t.Setenv("LOQA_TRANSCRIPT_MODE", "rolling")
	t.Setenv("LOQA_TRANSCRIPT_WINDOW_SECONDS", "90")
	t.Setenv("LOQA_EVENT_STORE_MAX_EVENTS", "123")
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("expected 2 cors origins, got %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Credentials.Path != "./users.db" || cfg.Credentials.BcryptCost != 4 {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Auth.RequireToken || cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("expected auth override")
	}
	if cfg.STT.TimeoutSeconds != 60 {
		t.Fatalf("expected stt timeout override")
	}
	if cfg.Transcript.EffectiveWindowSeconds() != 90 {
		t.Fatalf("expected window override, got %d", cfg.Transcript.EffectiveWindowSeconds())
	}
	if cfg.EventStore.MaxEvents != 123 {
		t.Fatalf("expected event store max events override")
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus override, got %+v", cfg.Bus)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command":     func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" },
		"unknown transcript mode":  func(c *Config) { c.Transcript.Mode = "sliding" },
		"negative window":          func(c *Config) { c.Transcript.WindowSeconds = -1 },
		"token without secret":     func(c *Config) { c.Auth.RequireToken = true; c.Auth.JWTSecret = "" },
		"empty seed user":          func(c *Config) { c.Credentials.SeedUsername = "" },
		"bad retention mode":       func(c *Config) { c.EventStore.RetentionMode = "session" },
		"zero stt timeout":         func(c *Config) { c.STT.TimeoutSeconds = 0 },
		"bad log level":            func(c *Config) { c.Telemetry.LogLevel = "loud" },
		"bus without servers":      func(c *Config) { c.Bus.Enabled = true; c.Bus.Servers = nil },
		"bcrypt cost out of range": func(c *Config) { c.Credentials.BcryptCost = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
