package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"tglite/internal/api"
	"tglite/internal/config"
	"tglite/internal/domain"
	"tglite/internal/engine"
	"tglite/internal/mirror"
	"tglite/internal/poller"
	"tglite/internal/secret"
	"tglite/internal/source"
	"tglite/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon (poller + HTTP API)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFor(cfg.LogLevel)}))

	if cfg.Store.Owner == "" || cfg.Store.Repo == "" || cfg.Store.Token == "" {
		return fmt.Errorf("store.owner, store.repo, and store.token (or GITHUB_* env) are required")
	}

	// Graceful shutdown on signals; in-flight cycles finish but their
	// results are discarded.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docStore, err := store.NewGitHub(store.Config{
		Token:         cfg.Store.Token,
		Owner:         cfg.Store.Owner,
		Repo:          cfg.Store.Repo,
		BaseURL:       cfg.Store.BaseURL,
		CommitMessage: cfg.Store.CommitMessage,
		Timeout:       time.Duration(cfg.Store.TimeoutSeconds) * time.Second,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	secrets, err := secret.NewStore(cfg.Telegram.TokenFile)
	if err != nil {
		return err
	}
	botToken, err := resolveBotToken(ctx, cfg, secrets, docStore)
	if err != nil {
		return err
	}

	src, err := source.NewTelegram(source.Config{
		Token:       botToken,
		PollTimeout: cfg.Telegram.PollTimeout,
		SendRate:    cfg.Telegram.SendRate,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	eng := engine.New(docStore, src, engine.Config{
		LogPath:          cfg.Store.LogPath,
		RosterPath:       cfg.Store.RosterPath,
		DedupWindow:      time.Duration(cfg.Sync.DedupWindowSeconds) * time.Second,
		MaxWriteAttempts: cfg.Sync.MaxWriteAttempts,
	}, logger)

	var mir *mirror.Mirror
	if cfg.Mirror.Enabled {
		mir, err = mirror.Open(cfg.Mirror.DBPath, logger)
		if err != nil {
			return err
		}
		defer mir.Close()
	}

	p := poller.New(eng, time.Duration(cfg.Sync.IntervalSeconds)*time.Second, logger)
	p.Start(ctx)
	defer p.Stop()

	go consumeResults(ctx, p, mir)

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Host:   cfg.API.Host,
			Port:   cfg.API.Port,
			Engine: eng,
			Tokens: secrets,
			Logger: logger,
		})
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var snapshots *cron.Cron
	if cfg.Sync.SnapshotCron != "" && cfg.Mirror.Enabled {
		snapshots = cron.New(cron.WithLocation(time.UTC))
		_, err := snapshots.AddFunc(cfg.Sync.SnapshotCron, func() {
			out := snapshotPath()
			if err := writeSnapshot(out, cfg, cfgPath); err != nil {
				logger.Error("scheduled snapshot failed", "error", err)
				return
			}
			logger.Info("snapshot written", "path", out)
		})
		if err != nil {
			return fmt.Errorf("invalid snapshotCron %q: %w", cfg.Sync.SnapshotCron, err)
		}
		snapshots.Start()
		defer func() { <-snapshots.Stop().Done() }()
	}

	logger.Info("tglite running",
		"interval", cfg.Sync.IntervalSeconds,
		"log", cfg.Store.LogPath,
		"roster", cfg.Store.RosterPath,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// consumeResults mirrors each successful sync into the local cache database.
func consumeResults(ctx context.Context, p *poller.Poller, mir *mirror.Mirror) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-p.Results():
			if !ok {
				return
			}
			if mir == nil {
				continue
			}
			if err := mir.ReplaceLog(ctx, res.Messages); err != nil {
				logger.Warn("mirror log write failed", "error", err)
			}
			if err := mir.ReplaceRoster(ctx, res.Roster); err != nil {
				logger.Warn("mirror roster write failed", "error", err)
			}
		}
	}
}

// resolveBotToken prefers the explicit config/env value, then the secret
// store, then the legacy /settoken control record in the remote log. A
// legacy token is migrated into the secret store on first use.
func resolveBotToken(ctx context.Context, cfg *config.Config, secrets *secret.Store, docStore domain.DocumentStore) (string, error) {
	if cfg.Telegram.Token != "" {
		return cfg.Telegram.Token, nil
	}
	if tok, err := secrets.Token(); err != nil {
		return "", err
	} else if tok != "" {
		return tok, nil
	}

	tok, err := legacyTokenFromLog(ctx, docStore, cfg.Store.LogPath)
	if err != nil {
		return "", fmt.Errorf("legacy token lookup: %w", err)
	}
	if tok == "" {
		return "", fmt.Errorf("no telegram bot token found (set TELEGRAM_BOT_TOKEN, telegram.token, or %s)", cfg.Telegram.TokenFile)
	}
	logger.Info("migrating legacy bot token into secret store")
	if err := secrets.SetToken(tok); err != nil {
		logger.Warn("token migration failed", "error", err)
	}
	return tok, nil
}

func legacyTokenFromLog(ctx context.Context, docStore domain.DocumentStore, path string) (string, error) {
	doc, _, err := docStore.Read(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var recs []domain.MessageRecord
	if err := json.Unmarshal(doc, &recs); err != nil {
		return "", err
	}
	for _, r := range recs {
		if r.ConversationID == domain.SystemConversationID && strings.HasPrefix(r.Text, "/settoken ") {
			return strings.TrimSpace(strings.TrimPrefix(r.Text, "/settoken ")), nil
		}
	}
	return "", nil
}

func snapshotPath() string {
	dir := filepath.Join(config.DefaultConfigDir(), "snapshots")
	ts := time.Now().UTC().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("tglite-snapshot-%s.tar.gz", ts))
}
