package config

func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Telegram: TelegramConfig{
			TokenFile:   "~/.tglite/bot_token",
			PollTimeout: 0,
			SendRate:    1,
		},
		Store: StoreConfig{
			LogPath:        "chats.json",
			RosterPath:     "users.json",
			CommitMessage:  "Update chats",
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			IntervalSeconds:    5,
			DedupWindowSeconds: 5,
			MaxWriteAttempts:   3,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Mirror: MirrorConfig{
			Enabled: true,
			DBPath:  "~/.tglite/mirror.db",
		},
	}
}
