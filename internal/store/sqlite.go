package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArtifactStore is the local cold tier: a single-file blob table.
type SQLiteArtifactStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

func NewSQLiteArtifactStore(path string) (*SQLiteArtifactStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite artifact store: %w", err)
	}
	// One pooled connection serializes all reads and writes; the file
	// uses WAL journaling.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifact schema: %w", err)
	}
	return &SQLiteArtifactStore{db: db}, nil
}

func (s *SQLiteArtifactStore) Close() error { return s.db.Close() }

func (s *SQLiteArtifactStore) Save(ctx context.Context, data []byte) (RefId, error) {
	id := NewRefId()
	return id, s.insert(ctx, id, data, "application/octet-stream")
}

func (s *SQLiteArtifactStore) SaveWithID(ctx context.Context, id RefId, data []byte) error {
	return s.insert(ctx, id, data, "application/octet-stream")
}

func (s *SQLiteArtifactStore) SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error) {
	id := NewRefId()
	return id, s.insert(ctx, id, data, contentType)
}

func (s *SQLiteArtifactStore) insert(ctx context.Context, id RefId, data []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, data, content_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, content_type=excluded.content_type`,
		string(id), data, contentType, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteArtifactStore) Load(ctx context.Context, id RefId) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE id = ?`, string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return data, nil
}

func (s *SQLiteArtifactStore) Delete(ctx context.Context, id RefId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, string(id))
	return err
}

func (s *SQLiteArtifactStore) Exists(ctx context.Context, id RefId) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM artifacts WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteArtifactStore) Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error) {
	var size int
	var contentType string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT length(data), content_type, created_at FROM artifacts WHERE id = ?`,
		string(id)).Scan(&size, &contentType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ArtifactMetadata{
		Size:        size,
		ContentType: contentType,
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
		Tier:        TierCold,
	}, nil
}

func (s *SQLiteArtifactStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Prune deletes artifacts older than maxAge.
func (s *SQLiteArtifactStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EraseUser deletes artifacts namespaced under the user.
func (s *SQLiteArtifactStore) EraseUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id LIKE ?`, userID+"/%")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
