// Package config loads the tglite configuration: a JSON file with
// ${VAR:-default} environment expansion, followed by direct environment
// variable overrides for the credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Config is the root configuration.
type Config struct {
	LogLevel string         `json:"logLevel"`
	Telegram TelegramConfig `json:"telegram"`
	Store    StoreConfig    `json:"store"`
	Sync     SyncConfig     `json:"sync"`
	API      APIConfig      `json:"api"`
	Mirror   MirrorConfig   `json:"mirror"`
}

type TelegramConfig struct {
	// Token may be empty here; resolution falls back to the secret store
	// and, last, the legacy /settoken record in the log.
	Token       string  `json:"token"`
	TokenFile   string  `json:"tokenFile"`
	PollTimeout int     `json:"pollTimeoutSeconds"`
	SendRate    float64 `json:"sendRatePerSecond"`
}

type StoreConfig struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	Token          string `json:"token"`
	BaseURL        string `json:"baseUrl,omitempty"`
	LogPath        string `json:"logPath"`
	RosterPath     string `json:"rosterPath"`
	CommitMessage  string `json:"commitMessage"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type SyncConfig struct {
	IntervalSeconds    int    `json:"intervalSeconds"`
	DedupWindowSeconds int    `json:"dedupWindowSeconds"`
	MaxWriteAttempts   int    `json:"maxWriteAttempts"`
	SnapshotCron       string `json:"snapshotCron,omitempty"` // optional, e.g. "0 3 * * *"
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type MirrorConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// envOverrides are applied on top of the file so deployments can keep
// credentials out of the config entirely.
type envOverrides struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	StoreToken    string `env:"GITHUB_TOKEN"`
	StoreOwner    string `env:"GITHUB_OWNER"`
	StoreRepo     string `env:"GITHUB_REPO"`
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tglite"
	}
	return filepath.Join(home, ".tglite")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, parses, overrides, and validates the config at path.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("cannot parse environment overrides: %w", err)
	}
	if ov.TelegramToken != "" {
		cfg.Telegram.Token = ov.TelegramToken
	}
	if ov.StoreToken != "" {
		cfg.Store.Token = ov.StoreToken
	}
	if ov.StoreOwner != "" {
		cfg.Store.Owner = ov.StoreOwner
	}
	if ov.StoreRepo != "" {
		cfg.Store.Repo = ov.StoreRepo
	}

	cfg.Telegram.TokenFile = ExpandPath(cfg.Telegram.TokenFile)
	cfg.Mirror.DBPath = ExpandPath(cfg.Mirror.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars substitutes ${VAR} and ${VAR:-default} references.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})
}

// Save writes the config as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks ranges; required credentials are enforced at daemon start,
// not here, so doctor can diagnose incomplete configs.
func Validate(cfg *Config) error {
	if cfg.Sync.IntervalSeconds < 1 {
		return fmt.Errorf("sync.intervalSeconds must be >= 1, got %d", cfg.Sync.IntervalSeconds)
	}
	if cfg.Sync.DedupWindowSeconds < 1 {
		return fmt.Errorf("sync.dedupWindowSeconds must be >= 1, got %d", cfg.Sync.DedupWindowSeconds)
	}
	if cfg.Sync.MaxWriteAttempts < 1 || cfg.Sync.MaxWriteAttempts > 10 {
		return fmt.Errorf("sync.maxWriteAttempts must be in 1..10, got %d", cfg.Sync.MaxWriteAttempts)
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be in 0..65535, got %d", cfg.API.Port)
	}
	if cfg.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.pollTimeoutSeconds must be >= 0, got %d", cfg.Telegram.PollTimeout)
	}
	if cfg.Telegram.SendRate <= 0 {
		return fmt.Errorf("telegram.sendRatePerSecond must be > 0, got %g", cfg.Telegram.SendRate)
	}
	if cfg.Store.LogPath == "" || cfg.Store.RosterPath == "" {
		return fmt.Errorf("store.logPath and store.rosterPath must not be empty")
	}
	if cfg.Store.LogPath == cfg.Store.RosterPath {
		return fmt.Errorf("store.logPath and store.rosterPath must differ")
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel must be one of debug|info|warn|error, got %q", cfg.LogLevel)
	}
	return nil
}

// ExpandPath resolves a leading ~/ against the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
