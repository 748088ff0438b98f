package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
api:
  client_id: cid
  client_secret: csecret
  username: user@example.com
  password: hunter2
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.BaseURL != "https://api.mcs3.miele.com/" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Locale != "en" {
		t.Errorf("Locale = %q", cfg.API.Locale)
	}
	if cfg.Poll.Interval.Duration() != 5*time.Minute {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval.Duration())
	}
	if cfg.Token.ExpiryHorizon.Duration() != 24*time.Hour {
		t.Errorf("ExpiryHorizon = %v", cfg.Token.ExpiryHorizon.Duration())
	}
	if cfg.Token.CheckInterval.Duration() != 12*time.Hour {
		t.Errorf("CheckInterval = %v", cfg.Token.CheckInterval.Duration())
	}
	if cfg.Events.PingTimeout.Duration() != 90*time.Second {
		t.Errorf("PingTimeout = %v", cfg.Events.PingTimeout.Duration())
	}
	if cfg.Database.Path != "./mieled.sqlite" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Healthcheck.Port != 9090 {
		t.Errorf("Healthcheck.Port = %d", cfg.Healthcheck.Port)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	if _, err := Load(writeConfig(t, "api:\n  username: only@user.com\n")); err == nil {
		t.Error("Load should reject config without password and client credentials")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MIELE_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, `
api:
  client_id: cid
  client_secret: csecret
  username: user@example.com
  password: ${MIELE_PASSWORD}
  locale: ${MIELE_LOCALE:de}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Password != "from-env" {
		t.Errorf("Password = %q", cfg.API.Password)
	}
	if cfg.API.Locale != "de" {
		t.Errorf("Locale = %q, want the ${VAR:default} fallback", cfg.API.Locale)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
poll:
  interval: 90s
token:
  check_interval: 6h
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.Interval.Duration() != 90*time.Second {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval.Duration())
	}
	if cfg.Token.CheckInterval.Duration() != 6*time.Hour {
		t.Errorf("CheckInterval = %v", cfg.Token.CheckInterval.Duration())
	}
}
