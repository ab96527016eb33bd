// Package sqlitestore is the on-disk recall backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/floegence/redeven-forge/internal/recall"
)

// Store keeps recall records in a local SQLite file.
//
// Records are append-only. Embeddings are stored as little-endian float32
// blobs and content as JSON. WAL lets a CLI query while another one records.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, rec recall.Record) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("missing record id")
	}
	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO recall_records(id, type, embedding, dims, content_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, rec.ID, string(rec.Type), encodeVector(rec.Embedding), len(rec.Embedding), string(contentJSON), createdAt.UnixMilli())
	return err
}

func (s *Store) ListRecent(ctx context.Context, n int) ([]recall.Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if n <= 0 {
		n = recall.DefaultWindow
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, embedding, content_json, created_at_unix_ms
FROM recall_records
ORDER BY created_at_unix_ms DESC, seq DESC
LIMIT ?
`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]recall.Record, 0, n)
	for rows.Next() {
		var (
			rec         recall.Record
			typ         string
			blob        []byte
			contentJSON string
			createdMs   int64
		)
		if err := rows.Scan(&rec.ID, &typ, &blob, &contentJSON, &createdMs); err != nil {
			return nil, err
		}
		rec.Type = recall.Type(typ)
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.Embedding = vec
		if strings.TrimSpace(contentJSON) != "" {
			if err := json.Unmarshal([]byte(contentJSON), &rec.Content); err != nil {
				return nil, fmt.Errorf("record %s: content: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM recall_records`).Scan(&n)
	return n, err
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS recall_records (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL,
  embedding BLOB NOT NULL,
  dims INTEGER NOT NULL,
  content_json TEXT NOT NULL DEFAULT '{}',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recall_records_created ON recall_records(created_at_unix_ms DESC, seq DESC);
`); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
