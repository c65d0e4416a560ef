package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is a named, ordered schema change. Names are permanent: once a
// migration has shipped it is never renamed, reordered, or edited.
type Migration struct {
	Name       string
	Statements []string
}

// AppliedMigration is one row of the migration ledger.
type AppliedMigration struct {
	Name      string `json:"name"`
	AppliedAt int64  `json:"applied_at"`
}

// Migrations is the append-only list applied to every account store.
var Migrations = []Migration{
	{
		Name: "20240215_initial",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS posts (
			  post_id          TEXT PRIMARY KEY,
			  author_handle    TEXT NOT NULL,
			  conversation_id  TEXT,
			  created_at       INTEGER NOT NULL,
			  like_count       INTEGER NOT NULL DEFAULT 0,
			  quote_count      INTEGER NOT NULL DEFAULT 0,
			  reply_count      INTEGER NOT NULL DEFAULT 0,
			  repost_count     INTEGER NOT NULL DEFAULT 0,
			  liked_by_owner   INTEGER NOT NULL DEFAULT 0,
			  reposted_by_owner INTEGER NOT NULL DEFAULT 0,
			  bookmarked       INTEGER NOT NULL DEFAULT 0,
			  text             TEXT NOT NULL,
			  path             TEXT NOT NULL,
			  deleted_post_at  INTEGER,
			  archived_at      INTEGER,
			  added_at         INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS profiles (
			  user_id    TEXT PRIMARY KEY,
			  name       TEXT NOT NULL,
			  handle     TEXT NOT NULL,
			  avatar     TEXT,
			  updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
			  conversation_id TEXT PRIMARY KEY,
			  type            TEXT NOT NULL,
			  sort_key        TEXT NOT NULL,
			  min_entry_id    TEXT,
			  max_entry_id    TEXT,
			  trusted         INTEGER NOT NULL DEFAULT 0,
			  should_index_messages INTEGER NOT NULL DEFAULT 1,
			  deleted_at      INTEGER,
			  added_at        INTEGER NOT NULL,
			  updated_at      INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversation_participants (
			  conversation_id TEXT NOT NULL,
			  user_id         TEXT NOT NULL,
			  UNIQUE (conversation_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
			  message_id      TEXT PRIMARY KEY,
			  conversation_id TEXT NOT NULL,
			  sender_id       TEXT NOT NULL,
			  created_at      INTEGER NOT NULL,
			  text            TEXT NOT NULL,
			  deleted_at      INTEGER
			)`,
		},
	},
	{
		Name: "20240302_media_and_links",
		Statements: []string{
			`ALTER TABLE posts ADD COLUMN has_media INTEGER NOT NULL DEFAULT 0`,
			`CREATE TABLE IF NOT EXISTS media (
			  media_id    TEXT PRIMARY KEY,
			  post_id     TEXT NOT NULL,
			  type        TEXT NOT NULL,
			  url         TEXT NOT NULL,
			  filename    TEXT NOT NULL,
			  start_index INTEGER NOT NULL,
			  end_index   INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS links (
			  short_url    TEXT NOT NULL,
			  display_url  TEXT NOT NULL,
			  expanded_url TEXT NOT NULL,
			  start_index  INTEGER NOT NULL,
			  end_index    INTEGER NOT NULL,
			  post_id      TEXT NOT NULL,
			  UNIQUE (short_url, post_id)
			)`,
		},
	},
	{
		Name: "20240318_reply_and_quote_linkage",
		Statements: []string{
			`ALTER TABLE posts ADD COLUMN is_reply INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE posts ADD COLUMN reply_to_post_id TEXT`,
			`ALTER TABLE posts ADD COLUMN reply_to_author_id TEXT`,
			`ALTER TABLE posts ADD COLUMN is_quote INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE posts ADD COLUMN quoted_post_url TEXT`,
		},
	},
	{
		Name: "20240405_separate_soft_deletes",
		Statements: []string{
			`ALTER TABLE posts ADD COLUMN deleted_repost_at INTEGER`,
			`ALTER TABLE posts ADD COLUMN deleted_like_at INTEGER`,
			`ALTER TABLE posts ADD COLUMN deleted_bookmark_at INTEGER`,
		},
	},
	{
		Name: "20240511_lookup_indexes",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_handle, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_media_post ON media(post_id)`,
			`CREATE INDEX IF NOT EXISTS idx_links_post ON links(post_id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_pending
			 ON conversations(should_index_messages)
			 WHERE should_index_messages = 1 AND deleted_at IS NULL`,
		},
	},
}

// Migrate applies every migration in Migrations not yet recorded in the
// ledger. It returns the names applied by this call.
func Migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	return MigrateWith(ctx, db, Migrations)
}

// MigrateWith applies list in order. Each migration and its ledger row commit
// in one transaction, so a crash never leaves a half-applied migration
// recorded.
func MigrateWith(ctx context.Context, db *sql.DB, list []Migration) ([]string, error) {
	ledger := `
		CREATE TABLE IF NOT EXISTS migrations (
		  name       TEXT NOT NULL UNIQUE,
		  applied_at INTEGER NOT NULL
		)`
	if _, err := db.ExecContext(ctx, ledger); err != nil {
		return nil, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var applied []string
	for _, m := range list {
		done, err := isApplied(ctx, db, m.Name)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		err = WithTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %s failed: %w", m.Name, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO migrations (name, applied_at) VALUES (?, ?)`,
				m.Name, time.Now().Unix())
			if err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.Name)
	}

	return applied, nil
}

// AppliedMigrations lists the ledger in application order.
func AppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, applied_at FROM migrations ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Name, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM migrations WHERE name = ? LIMIT 1`, name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	return true, nil
}
