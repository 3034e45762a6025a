package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres. The
// full session document is stored as JSONB; status and user id are
// lifted into columns for filtered listings.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Save(ctx context.Context, session *store.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, user_id, status, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = excluded.user_id,
		   status = excluded.status,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		session.ID, nullable(session.UserID), string(session.Status), doc,
		session.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, id string) (*store.Session, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM agent_sessions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session store.Session
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &session, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE id = $1`, id)
	return err
}

func (s *SessionStore) ListRunning(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM agent_sessions WHERE status = $1 ORDER BY updated_at DESC`,
		string(store.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SessionStore) ListSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error) {
	query := `SELECT document FROM agent_sessions WHERE 1=1`
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var session store.Session
		if err := json.Unmarshal(doc, &session); err != nil {
			continue
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

// Prune removes terminal sessions not updated within maxAge.
func (s *SessionStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE status IN ($1, $2) AND updated_at < $3`,
		string(store.StatusCompleted), string(store.StatusFailed), cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EraseUser deletes all sessions belonging to the user.
func (s *SessionStore) EraseUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
