package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on Postgres. Records are kept until
// overwritten; a later Put for the same job replaces the row.
//
// Schema (created by EnsureSchema):
//
//	CREATE TABLE gapfill_results (
//	  job        TEXT PRIMARY KEY,
//	  record     JSONB NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS gapfill_results (
	job        TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore connects to connStr, pings the server and creates the
// results table if needed.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, errors.New("postgres connection string cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	p := &PostgresStore{pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the results table when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Put upserts the record for its job.
func (p *PostgresStore) Put(ctx context.Context, rec Record) error {
	if err := ValidateJob(rec.Job); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		INSERT INTO gapfill_results (job, record, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job) DO UPDATE
		SET record = EXCLUDED.record, created_at = EXCLUDED.created_at
	`
	if _, err := p.pool.Exec(ctx, query, rec.Job, data, rec.CreatedAt); err != nil {
		return fmt.Errorf("postgres upsert failed: %w", err)
	}
	return nil
}

// GetLatest returns the record for a job.
func (p *PostgresStore) GetLatest(ctx context.Context, job string) (Record, bool, error) {
	if job == "" {
		return Record{}, false, errors.New("job name required")
	}

	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM gapfill_results WHERE job = $1`, job).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("postgres query failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, true, nil
}

// DeleteOlderThan removes records created before cutoff and returns how
// many were deleted.
func (p *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM gapfill_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection health.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
