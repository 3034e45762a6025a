package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSessionStore persists one JSON file per session. Writes go to a
// temp file first and rename into place, so a crash mid-write never
// corrupts the previous durable snapshot.
type FileSessionStore struct {
	dir string
}

func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileSessionStore{dir: dir}, nil
}

func (f *FileSessionStore) path(id string) string {
	// Session ids may be namespaced ("tenant/uuid"); flatten for the
	// filesystem.
	return filepath.Join(f.dir, strings.ReplaceAll(id, "/", "__")+".json")
}

func (f *FileSessionStore) Save(_ context.Context, session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	final := f.path(session.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

func (f *FileSessionStore) Load(_ context.Context, id string) (*Session, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

func (f *FileSessionStore) Delete(_ context.Context, id string) error {
	err := os.Remove(f.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileSessionStore) ListRunning(ctx context.Context) ([]string, error) {
	sessions, err := f.ListSessions(ctx, SessionFilter{})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range sessions {
		if s.Status == StatusRunning {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (f *FileSessionStore) ListSessions(_ context.Context, filter SessionFilter) ([]*Session, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list session dir: %w", err)
	}
	var out []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		out = append(out, &s)
	}
	return out, nil
}

// Prune removes terminal sessions not updated within maxAge.
func (f *FileSessionStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	sessions, err := f.ListSessions(ctx, SessionFilter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			if err := f.Delete(ctx, s.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// EraseUser deletes all sessions belonging to the user.
func (f *FileSessionStore) EraseUser(ctx context.Context, userID string) (int, error) {
	sessions, err := f.ListSessions(ctx, SessionFilter{UserID: userID})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range sessions {
		if err := f.Delete(ctx, s.ID); err == nil {
			removed++
		}
	}
	return removed, nil
}
