package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS encrypted_secrets (
	identity BLOB PRIMARY KEY,
	blob BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteMap implements a durable map on a SQLite database file.
type SQLiteMap struct {
	db     *sql.DB
	dbPath string
	log    *slog.Logger
}

// NewSQLiteMap opens (or creates) the database at dbPath.
func NewSQLiteMap(dbPath string, log *slog.Logger) (*SQLiteMap, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// One writer at a time keeps insert-and-return-previous serialized
	db.SetMaxOpenConns(1)

	// Set pragmas for durability and concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteMap{db: db, dbPath: dbPath, log: log}, nil
}

func (s *SQLiteMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM encrypted_secrets WHERE identity = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return value, true, nil
}

func (s *SQLiteMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var previous []byte
	found := true
	err = tx.QueryRowContext(ctx, `SELECT blob FROM encrypted_secrets WHERE identity = ?`, key).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO encrypted_secrets (identity, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.log.Debug("Stored value in sqlite", slog.Int("size", len(value)))
	return previous, found, nil
}

func (s *SQLiteMap) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Debug("SQLite backend unavailable", "err", err)
		return false
	}
	return true
}

func (s *SQLiteMap) Name() string {
	return fmt.Sprintf("sqlite-%s", filepath.Base(s.dbPath))
}

func (s *SQLiteMap) LocationURI() string {
	return "sqlite://" + s.dbPath
}

func (s *SQLiteMap) Close() error {
	return s.db.Close()
}
