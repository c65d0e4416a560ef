package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hpungsan/chirpkeep/internal/config"
	"github.com/hpungsan/chirpkeep/internal/errors"
	_ "modernc.org/sqlite"
)

// DBFileName is the per-account store file.
const DBFileName = "data.sqlite3"

var accountKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AccountDir returns <baseDir>/accounts/<accountKey>.
func AccountDir(baseDir, accountKey string) string {
	return filepath.Join(baseDir, "accounts", accountKey)
}

// MediaDir returns the directory downloaded media for an account is saved to.
func MediaDir(baseDir, accountKey string) string {
	return filepath.Join(AccountDir(baseDir, accountKey), "media")
}

// Open initializes the account store at <baseDir>/accounts/<key>/data.sqlite3
// and brings its schema up to date.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.chirpkeep.
func Open(baseDir, accountKey string) (*sql.DB, error) {
	if !accountKeyPattern.MatchString(accountKey) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid account key %q", accountKey))
	}

	accountDir := AccountDir(baseDir, accountKey)
	if err := os.MkdirAll(accountDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create account directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(accountDir, 0700)

	mediaDir := MediaDir(baseDir, accountKey)
	if err := os.MkdirAll(mediaDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	_ = os.Chmod(mediaDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(accountDir, DBFileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn inside a transaction, committing on success.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}
