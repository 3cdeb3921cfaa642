// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists content records in SQLite or Postgres. Records are
// created, counted and voted on, but never deleted.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// ErrNotFound is returned for an unknown record id.
var ErrNotFound = errors.New("content record not found")

// Store is the content store contract plus operator queries.
type Store interface {
	FindByFingerprint(ctx context.Context, fingerprint string) ([]types.ContentRecord, error)
	Create(ctx context.Context, rec types.ContentRecord) (types.ContentRecord, error)
	IncrementView(ctx context.Context, id string) (int, error)
	RecordVote(ctx context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error)
	RecordVerification(ctx context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error)
	Get(ctx context.Context, id string) (types.ContentRecord, error)
	All(ctx context.Context) ([]types.ContentRecord, error)
	Close() error
}

// Open returns the store selected by cfg.Driver (default sqlite).
func Open(ctx context.Context, cfg types.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", types.StoreSQLite:
		return OpenSQLite(cfg.Path)
	case types.StorePostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q: use sqlite or postgres", cfg.Driver)
	}
}

// checkCreate rejects records the store cannot index.
func checkCreate(rec types.ContentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if rec.Fingerprint == "" {
		return fmt.Errorf("record %s has no fingerprint", rec.ID)
	}
	if len(rec.Payload) == 0 || !json.Valid(rec.Payload) {
		return fmt.Errorf("record %s payload is not valid JSON", rec.ID)
	}
	return nil
}

// voteColumn maps a direction onto its counter column.
func voteColumn(dir types.VoteDirection) (string, error) {
	switch dir {
	case types.VoteUp:
		return "votes_up", nil
	case types.VoteDown:
		return "votes_down", nil
	}
	return "", fmt.Errorf("unknown vote direction %q", dir)
}

// exportRecord is the YAML export shape; the payload is decoded so the
// export stays readable.
type exportRecord struct {
	types.ContentRecord `yaml:",inline"`
	Lesson              any `yaml:"payload"`
}

// ExportYAML writes records as a YAML list to w.
func ExportYAML(w io.Writer, records []types.ContentRecord) error {
	out := make([]exportRecord, 0, len(records))
	for _, r := range records {
		var lesson any
		if err := json.Unmarshal(r.Payload, &lesson); err != nil {
			return fmt.Errorf("decoding payload of %s: %w", r.ID, err)
		}
		out = append(out, exportRecord{ContentRecord: r, Lesson: lesson})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}
