// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS content_records (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	topic TEXT NOT NULL,
	style TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	payload JSONB NOT NULL,
	votes_up INTEGER NOT NULL DEFAULT 0,
	votes_down INTEGER NOT NULL DEFAULT 0,
	verification_status TEXT NOT NULL DEFAULT 'unreviewed',
	view_count INTEGER NOT NULL DEFAULT 0,
	source_type TEXT NOT NULL,
	source_attribution JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	provider_used TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_records_fingerprint ON content_records (fingerprint);
`

// PostgresStore keeps content records in Postgres for deployments that run
// more than one engine process.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings, and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if poolCfg.MaxConns < 4 {
		poolCfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// FindByFingerprint returns every record stored for fingerprint, oldest first.
func (s *PostgresStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]types.ContentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM content_records WHERE fingerprint = $1 ORDER BY created_at`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return collectPG(rows)
}

// All returns every record, oldest first.
func (s *PostgresStore) All(ctx context.Context) ([]types.ContentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM content_records ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return collectPG(rows)
}

// Get returns one record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (types.ContentRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM content_records WHERE id = $1`, id)
	return oneRow(row, id)
}

// Create inserts rec.
func (s *PostgresStore) Create(ctx context.Context, rec types.ContentRecord) (types.ContentRecord, error) {
	if err := checkCreate(rec); err != nil {
		return rec, err
	}
	if rec.Verification == "" {
		rec.Verification = types.VerificationUnreviewed
	}
	attribution, err := json.Marshal(orEmpty(rec.Attribution))
	if err != nil {
		return rec, fmt.Errorf("encoding attribution: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO content_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Fingerprint, rec.Topic, string(rec.Style), rec.Sequence, string(rec.Payload),
		rec.VotesUp, rec.VotesDown, string(rec.Verification), rec.ViewCount, string(rec.SourceType),
		string(attribution), rec.CreatedAt.UTC(), rec.ProviderUsed)
	if err != nil {
		return rec, fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return rec, nil
}

// IncrementView adds one view to id and returns the new count.
func (s *PostgresStore) IncrementView(ctx context.Context, id string) (int, error) {
	var views int
	err := s.pool.QueryRow(ctx,
		`UPDATE content_records SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`, id).Scan(&views)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("updating record: %w", err)
	}
	return views, nil
}

// RecordVote adds one vote in dir and returns the updated record.
func (s *PostgresStore) RecordVote(ctx context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error) {
	col, err := voteColumn(dir)
	if err != nil {
		return types.ContentRecord{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE content_records SET `+col+` = `+col+` + 1 WHERE id = $1 RETURNING `+recordColumns, id)
	return oneRow(row, id)
}

// RecordVerification sets the status of id and returns the updated record.
func (s *PostgresStore) RecordVerification(ctx context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error) {
	if _, err := types.ParseVerificationStatus(string(status)); err != nil {
		return types.ContentRecord{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE content_records SET verification_status = $1 WHERE id = $2 RETURNING `+recordColumns, string(status), id)
	return oneRow(row, id)
}

func oneRow(row pgx.Row, id string) (types.ContentRecord, error) {
	rec, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ContentRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

func scanPG(row pgx.Row) (types.ContentRecord, error) {
	var (
		rec                       types.ContentRecord
		style, status, sourceType string
		payload, attribution      []byte
	)
	if err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.Topic, &style, &rec.Sequence, &payload,
		&rec.VotesUp, &rec.VotesDown, &status, &rec.ViewCount, &sourceType, &attribution,
		&rec.CreatedAt, &rec.ProviderUsed); err != nil {
		return rec, err
	}
	rec.Style = types.Style(style)
	rec.Verification = types.VerificationStatus(status)
	rec.SourceType = types.SourceType(sourceType)
	rec.Payload = json.RawMessage(payload)
	if err := json.Unmarshal(attribution, &rec.Attribution); err != nil {
		return rec, fmt.Errorf("decoding attribution of %s: %w", rec.ID, err)
	}
	return rec, nil
}

func collectPG(rows pgx.Rows) ([]types.ContentRecord, error) {
	defer rows.Close()
	var out []types.ContentRecord
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
