package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tglite/internal/config"
	"tglite/internal/mirror"
)

func exportCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a snapshot of the local mirror (database + config + manifest)",
		Long: `Creates a compressed .tar.gz archive containing the mirror database, the
configuration file, and a YAML manifest with record counts. The archive is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Mirror.Enabled {
				return fmt.Errorf("mirror is disabled; nothing to export")
			}
			if outputPath == "" {
				outputPath = snapshotPath()
			}
			if err := writeSnapshot(outputPath, cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("Snapshot created: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output archive path")
	return cmd
}

type snapshotManifest struct {
	CreatedAt time.Time `yaml:"createdAt"`
	Version   string    `yaml:"version"`
	Messages  int64     `yaml:"messages"`
	Contacts  int64     `yaml:"contacts"`
	Files     []string  `yaml:"files"`
}

func writeSnapshot(outputPath string, cfg *config.Config, cfgPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mir, err := mirror.Open(cfg.Mirror.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer mir.Close()

	messages, contacts, err := mir.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count mirror records: %w", err)
	}

	files := []string{}
	if _, err := os.Stat(cfg.Mirror.DBPath); err == nil {
		files = append(files, cfg.Mirror.DBPath)
		for _, suffix := range []string{"-wal", "-shm"} {
			if _, err := os.Stat(cfg.Mirror.DBPath + suffix); err == nil {
				files = append(files, cfg.Mirror.DBPath+suffix)
			}
		}
	}
	if _, err := os.Stat(cfgPath); err == nil {
		files = append(files, cfgPath)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files to export (db: %s, config: %s)", cfg.Mirror.DBPath, cfgPath)
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	manifest, err := yaml.Marshal(snapshotManifest{
		CreatedAt: time.Now().UTC(),
		Version:   version,
		Messages:  messages,
		Contacts:  contacts,
		Files:     names,
	})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	return createTarGz(outputPath, files, map[string][]byte{"manifest.yaml": manifest})
}

func createTarGz(outputPath string, files []string, extra map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	for name, data := range extra {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
