package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":4001" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Workflow.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s", cfg.Workflow.PollInterval)
	}
	if cfg.Workflow.MaxPollAttempts != 45 {
		t.Errorf("max poll attempts = %d", cfg.Workflow.MaxPollAttempts)
	}
	if cfg.Workflow.CentsPerCredit != 10 {
		t.Errorf("cents per credit = %d", cfg.Workflow.CentsPerCredit)
	}
	if cfg.Session.CookieName != "bb_session" {
		t.Errorf("cookie name = %q", cfg.Session.CookieName)
	}
	if cfg.Database.Driver != "pgx" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
database:
  driver: mysql
  url: "user:pass@tcp(localhost:3306)/bounty?parseTime=true"
backend:
  base_url: "https://api.example.com"
workflow:
  poll_interval: 500ms
  max_poll_attempts: 60
session:
  secret: from-file
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "7000")
	t.Setenv("MAX_POLL_ATTEMPTS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Errorf("PORT override not applied: %q", cfg.Server.Address)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Workflow.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.Workflow.PollInterval)
	}
	if cfg.Workflow.MaxPollAttempts != 30 {
		t.Errorf("env override for attempts not applied: %d", cfg.Workflow.MaxPollAttempts)
	}
	if cfg.Session.Secret != "from-file" {
		t.Errorf("secret = %q", cfg.Session.Secret)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("SESSION_SECRET", "")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error without session secret")
		}
	})

	t.Run("bad int env", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("SESSION_SECRET", "x")
		t.Setenv("POLL_INTERVAL_MS", "soon")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", writeConfig(t, "database:\n  driver: sqlite\n"))
		t.Setenv("SESSION_SECRET", "x")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected driver error")
		}
	})
}
