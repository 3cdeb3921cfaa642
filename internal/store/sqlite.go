// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "data/lessons.db"

// createdLayout is fixed width so created_at text sorts chronologically.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `id, fingerprint, topic, style, sequence, payload, votes_up, votes_down,
	verification_status, view_count, source_type, source_attribution, created_at, provider_used`

// SQLiteStore keeps content records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and bootstraps the
// schema. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS content_records (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			topic TEXT NOT NULL,
			style TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			payload TEXT NOT NULL,
			votes_up INTEGER NOT NULL DEFAULT 0,
			votes_down INTEGER NOT NULL DEFAULT 0,
			verification_status TEXT NOT NULL DEFAULT 'unreviewed',
			view_count INTEGER NOT NULL DEFAULT 0,
			source_type TEXT NOT NULL,
			source_attribution TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			provider_used TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_records_fingerprint ON content_records(fingerprint)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// FindByFingerprint returns every record stored for fingerprint, oldest first.
func (s *SQLiteStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]types.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM content_records WHERE fingerprint = ? ORDER BY created_at`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return collectSQLite(rows)
}

// All returns every record, oldest first.
func (s *SQLiteStore) All(ctx context.Context) ([]types.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM content_records ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return collectSQLite(rows)
}

// Get returns one record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (types.ContentRecord, error) {
	return s.get(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, id string) (types.ContentRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM content_records WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ContentRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Create inserts rec. Zero counters and an empty status default to a fresh
// unreviewed record.
func (s *SQLiteStore) Create(ctx context.Context, rec types.ContentRecord) (types.ContentRecord, error) {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO content_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.Topic, string(rec.Style), rec.Sequence, string(rec.Payload),
		rec.VotesUp, rec.VotesDown, string(rec.Verification), rec.ViewCount, string(rec.SourceType),
		string(attribution), rec.CreatedAt.UTC().Format(createdLayout), rec.ProviderUsed)
	if err != nil {
		return rec, fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return rec, nil
}

// IncrementView adds one view to id and returns the new count.
func (s *SQLiteStore) IncrementView(ctx context.Context, id string) (int, error) {
	var views int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execOne(ctx, tx, `UPDATE content_records SET view_count = view_count + 1 WHERE id = ?`, id); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT view_count FROM content_records WHERE id = ?`, id).Scan(&views)
	})
	return views, err
}

// RecordVote adds one vote in dir and returns the updated record.
func (s *SQLiteStore) RecordVote(ctx context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error) {
	col, err := voteColumn(dir)
	if err != nil {
		return types.ContentRecord{}, err
	}
	return s.update(ctx, id, `UPDATE content_records SET `+col+` = `+col+` + 1 WHERE id = ?`, id)
}

// RecordVerification sets the status of id and returns the updated record.
func (s *SQLiteStore) RecordVerification(ctx context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error) {
	if _, err := types.ParseVerificationStatus(string(status)); err != nil {
		return types.ContentRecord{}, err
	}
	return s.update(ctx, id, `UPDATE content_records SET verification_status = ? WHERE id = ?`, string(status), id)
}

func (s *SQLiteStore) update(ctx context.Context, id, stmt string, args ...any) (types.ContentRecord, error) {
	var rec types.ContentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execOne(ctx, tx, stmt, args...); err != nil {
			return err
		}
		var err error
		rec, err = s.get(ctx, tx, id)
		return err
	})
	return rec, err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// execOne runs stmt and reports ErrNotFound when no row matched. The id is
// the last argument.
func execOne(ctx context.Context, tx *sql.Tx, stmt string, args ...any) error {
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %v", ErrNotFound, args[len(args)-1])
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (types.ContentRecord, error) {
	var (
		rec                           types.ContentRecord
		style, status, sourceType     string
		payload, attribution, created string
	)
	if err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.Topic, &style, &rec.Sequence, &payload,
		&rec.VotesUp, &rec.VotesDown, &status, &rec.ViewCount, &sourceType, &attribution,
		&created, &rec.ProviderUsed); err != nil {
		return rec, err
	}
	rec.Style = types.Style(style)
	rec.Verification = types.VerificationStatus(status)
	rec.SourceType = types.SourceType(sourceType)
	rec.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(attribution), &rec.Attribution); err != nil {
		return rec, fmt.Errorf("decoding attribution of %s: %w", rec.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return rec, fmt.Errorf("parsing created_at of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

func collectSQLite(rows *sql.Rows) ([]types.ContentRecord, error) {
	defer rows.Close()
	var out []types.ContentRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func orEmpty(refs []types.SourceRef) []types.SourceRef {
	if refs == nil {
		return []types.SourceRef{}
	}
	return refs
}
