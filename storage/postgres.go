package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS encrypted_secrets (
	identity BYTEA PRIMARY KEY,
	blob BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresMap implements a durable map on a PostgreSQL table.
type PostgresMap struct {
	pool        *pgxpool.Pool
	log         *slog.Logger
	locationURI string
}

// NewPostgresMap connects to dsn, verifies the connection and creates the table.
func NewPostgresMap(dsn string, log *slog.Logger) (*PostgresMap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresMap{
		pool:        pool,
		log:         log,
		locationURI: redactURI(dsn),
	}, nil
}

func (p *PostgresMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT blob FROM encrypted_secrets WHERE identity = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return value, true, nil
}

// Insert upserts the value; the previous row is locked for the duration of the transaction.
func (p *PostgresMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var previous []byte
	found := true
	err = tx.QueryRow(ctx, `SELECT blob FROM encrypted_secrets WHERE identity = $1 FOR UPDATE`, key).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO encrypted_secrets (identity, blob, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (identity) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()`,
		key, value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return previous, found, nil
}

func (p *PostgresMap) Available(ctx context.Context) bool {
	if err := p.pool.Ping(ctx); err != nil {
		p.log.Debug("Postgres backend unavailable", "err", err)
		return false
	}
	return true
}

func (p *PostgresMap) Name() string {
	return "postgres-" + p.pool.Config().ConnConfig.Database
}

func (p *PostgresMap) LocationURI() string {
	return p.locationURI
}

func (p *PostgresMap) Close() error {
	p.pool.Close()
	return nil
}
