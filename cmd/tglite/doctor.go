package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tglite/internal/config"
	"tglite/internal/domain"
	"tglite/internal/mirror"
	"tglite/internal/secret"
	"tglite/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the tglite installation",
		Long: `Verifies that the configuration, credentials, remote document store, and
local mirror are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("tglite doctor v%s\n\n", version)

			passed := 0
			failed := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'tglite init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if cfg.Store.Owner == "" || cfg.Store.Repo == "" || cfg.Store.Token == "" {
				printFail("Store credentials", "store.owner, store.repo, or store.token missing")
				failed++
			} else {
				printPass("Store credentials", fmt.Sprintf("%s/%s", cfg.Store.Owner, cfg.Store.Repo))
				passed++

				docStore, err := store.NewGitHub(store.Config{
					Token:   cfg.Store.Token,
					Owner:   cfg.Store.Owner,
					Repo:    cfg.Store.Repo,
					BaseURL: cfg.Store.BaseURL,
					Timeout: 10 * time.Second,
					Logger:  logger,
				})
				if err != nil {
					printFail("Store client", err.Error())
					failed++
				} else if doc, _, err := docStore.Read(ctx, cfg.Store.LogPath); err != nil && !errors.Is(err, domain.ErrNotFound) {
					printFail("Store reachability", err.Error())
					failed++
				} else if errors.Is(err, domain.ErrNotFound) {
					printPass("Store reachability", "reachable (log not created yet)")
					passed++
				} else {
					printPass("Store reachability", fmt.Sprintf("log document: %d bytes", len(doc)))
					passed++
				}
			}

			tokenOK := cfg.Telegram.Token != ""
			if !tokenOK {
				if s, err := secret.NewStore(cfg.Telegram.TokenFile); err == nil {
					if tok, err := s.Token(); err == nil && tok != "" {
						tokenOK = true
					}
				}
			}
			if tokenOK {
				printPass("Telegram token", "present")
				passed++
			} else {
				printFail("Telegram token", "not found in config, env, or secret store")
				failed++
			}

			if cfg.Mirror.Enabled {
				if mir, err := mirror.Open(cfg.Mirror.DBPath, logger); err != nil {
					printFail("Mirror database", err.Error())
					failed++
				} else {
					if messages, contacts, err := mir.Counts(ctx); err == nil {
						printPass("Mirror database", fmt.Sprintf("%d messages, %d contacts", messages, contacts))
						passed++
					} else {
						printFail("Mirror database", err.Error())
						failed++
					}
					mir.Close()
				}
			}

			fmt.Printf("\n%d passed, %d failed\n", passed, failed)
			return nil
		},
	}
}

func printPass(check, detail string) {
	fmt.Printf("  [ok]   %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}
