// Package sqlite implements storage.Storage over modernc.org/sqlite,
// the embedded single-writer ACID engine: one dedicated connection per
// write transaction, BEGIN IMMEDIATE with retry for SQLITE_BUSY, and
// sql.ErrNoRows normalized to a NotFound sentinel.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/shawkridge/athena/internal/storage"
)

// Store is the embedded-engine Storage implementation.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// Open opens (creating if absent) a SQLite database at path and runs
// migrations. embeddingDim is the configured vector dimension, checked
// by HealthCheck against any stored embeddings.
func Open(ctx context.Context, path string, embeddingDim int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY storms under the
	// database/sql pool; readers still share this handle since
	// modernc.org/sqlite serializes through the OS file lock regardless.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite database %s: %w", path, err)
	}

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var v []float32
	_ = json.Unmarshal(b, &v)
	return v
}

func encodeFields(f map[string]any) (string, error) {
	if f == nil {
		f = map[string]any{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFields(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var f map[string]any
	_ = json.Unmarshal([]byte(s), &f)
	if f == nil {
		f = map[string]any{}
	}
	return f
}

func contentHashOf(rec storage.Record) any {
	v, ok := rec.Fields["content_hash"]
	if !ok {
		return nil
	}
	return v
}

func scanRecord(row interface{ Scan(...any) error }, ns storage.Namespace) (storage.Record, error) {
	var (
		id           int64
		projectID    int64
		fieldsJSON   string
		body         []byte
		content      sql.NullString
		embeddingRaw []byte
	)
	if err := row.Scan(&id, &projectID, &fieldsJSON, &body, &content, &embeddingRaw); err != nil {
		return storage.Record{}, err
	}
	return storage.Record{
		ID:        id,
		ProjectID: projectID,
		Fields:    decodeFields(fieldsJSON),
		Body:      body,
		Content:   content.String,
		Embedding: decodeEmbedding(embeddingRaw),
	}, nil
}
