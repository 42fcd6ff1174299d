// Package mirror maintains a local SQLite copy of the message log and roster,
// refreshed after each successful sync. It is a read-only convenience for the
// export and doctor commands; the remote document store stays the system of
// record.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"tglite/internal/domain"
)

type Mirror struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create mirror directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open mirror database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	m := &Mirror{db: db, logger: logger}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror migration failed: %w", err)
	}
	return m, nil
}

func (m *Mirror) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                  INTEGER PRIMARY KEY,
		conversation_id     INTEGER NOT NULL,
		sender_name         TEXT,
		sender_handle       TEXT,
		text                TEXT,
		direction           TEXT NOT NULL,
		observed_at         DATETIME NOT NULL,
		upstream_message_id INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, observed_at);

	CREATE TABLE IF NOT EXISTS roster (
		conversation_id   INTEGER PRIMARY KEY,
		display_name      TEXT,
		handle            TEXT,
		last_message_text TEXT,
		last_message_at   DATETIME,
		first_contact_at  DATETIME
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

// ReplaceLog rewrites the mirrored message log wholesale, matching the
// whole-document semantics of the remote store.
func (m *Mirror) ReplaceLog(ctx context.Context, records []domain.MessageRecord) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return err
	}
	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, sender_name, sender_handle, text, direction, observed_at, upstream_message_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ConversationID, r.SenderName, r.SenderHandle, r.Text, string(r.Direction), r.ObservedAt, r.UpstreamMessageID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceRoster rewrites the mirrored roster wholesale.
func (m *Mirror) ReplaceRoster(ctx context.Context, entries []domain.RosterEntry) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM roster`); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO roster (conversation_id, display_name, handle, last_message_text, last_message_at, first_contact_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ConversationID, e.DisplayName, e.Handle, e.LastMessageText, e.LastMessageAt, e.FirstContactAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Counts returns the mirrored message and roster totals.
func (m *Mirror) Counts(ctx context.Context) (messages, contacts int64, err error) {
	if err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		return 0, 0, err
	}
	if err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roster`).Scan(&contacts); err != nil {
		return 0, 0, err
	}
	return messages, contacts, nil
}

func (m *Mirror) Close() error {
	return m.db.Close()
}
