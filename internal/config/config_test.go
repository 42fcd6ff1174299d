package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, name := range []string{"TELEGRAM_BOT_TOKEN", "GITHUB_TOKEN", "GITHUB_OWNER", "GITHUB_REPO"} {
		t.Setenv(name, "")
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Defaults()
	if cfg.Sync.IntervalSeconds != def.Sync.IntervalSeconds {
		t.Fatalf("intervalSeconds = %d", cfg.Sync.IntervalSeconds)
	}
	if cfg.Store.LogPath != "chats.json" || cfg.Store.RosterPath != "users.json" {
		t.Fatalf("paths = %q, %q", cfg.Store.LogPath, cfg.Store.RosterPath)
	}
	if cfg.Sync.DedupWindowSeconds != 5 {
		t.Fatalf("dedupWindowSeconds = %d", cfg.Sync.DedupWindowSeconds)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := Load(writeConfig(t, `{
		"logLevel": "debug",
		"store": {"owner": "acme", "repo": "data", "token": "t"},
		"sync": {"intervalSeconds": 30}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel = %q", cfg.LogLevel)
	}
	if cfg.Sync.IntervalSeconds != 30 {
		t.Fatalf("intervalSeconds = %d", cfg.Sync.IntervalSeconds)
	}
	if cfg.Store.Owner != "acme" || cfg.Store.Repo != "data" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	// Unset sections keep their defaults.
	if cfg.Store.LogPath != "chats.json" {
		t.Fatalf("logPath = %q", cfg.Store.LogPath)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("TEST_OWNER", "from-env")
	cfg, err := Load(writeConfig(t, `{
		"store": {
			"owner": "${TEST_OWNER}",
			"repo": "${TEST_MISSING:-fallback-repo}"
		}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Owner != "from-env" {
		t.Fatalf("owner = %q", cfg.Store.Owner)
	}
	if cfg.Store.Repo != "fallback-repo" {
		t.Fatalf("repo = %q", cfg.Store.Repo)
	}
}

func TestLoadEnvCredentialOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-bot-token")
	cfg, err := Load(writeConfig(t, `{
		"telegram": {"token": "file-bot-token"},
		"store": {"token": "file-token"}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Token != "env-token" {
		t.Fatalf("store token = %q, env must win", cfg.Store.Token)
	}
	if cfg.Telegram.Token != "env-bot-token" {
		t.Fatalf("telegram token = %q, env must win", cfg.Telegram.Token)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	clearEnvOverrides(t)
	cases := []struct {
		name    string
		content string
	}{
		{"zero interval", `{"sync": {"intervalSeconds": 0}}`},
		{"attempts out of range", `{"sync": {"maxWriteAttempts": 11}}`},
		{"same document paths", `{"store": {"logPath": "x.json", "rosterPath": "x.json"}}`},
		{"bad log level", `{"logLevel": "loud"}`},
		{"negative poll timeout", `{"telegram": {"pollTimeoutSeconds": -1}}`},
		{"zero send rate", `{"telegram": {"sendRatePerSecond": 0}}`},
		{"port out of range", `{"api": {"port": 99999}}`},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.content)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	want := Defaults()
	want.Store.Owner = "acme"
	want.Store.Repo = "data"
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Store.Owner != "acme" || got.Store.Repo != "data" {
		t.Fatalf("round trip lost values: %+v", got.Store)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TGLITE_TEST_VAR", "value")
	if got := ExpandEnvVars("a=${TGLITE_TEST_VAR}"); got != "a=value" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandEnvVars("a=${TGLITE_TEST_UNSET:-fb}"); got != "a=fb" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandEnvVars("a=${TGLITE_TEST_UNSET}"); got != "a=" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandEnvVars("no refs"); got != "no refs" {
		t.Fatalf("got %q", got)
	}
}
