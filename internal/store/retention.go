package store

import (
	"context"
	"time"
)

// Prunable stores can drop data past an age cutoff.
type Prunable interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// Erasable stores can delete all data belonging to one user.
type Erasable interface {
	EraseUser(ctx context.Context, userID string) (int, error)
}

// NamespacedSessionStore scopes a session store to one namespace. Ids
// outside the namespace are invisible: Load returns nil, Delete is a
// no-op, listings are filtered.
type NamespacedSessionStore struct {
	inner     SessionStore
	namespace string
}

func NewNamespacedSessionStore(inner SessionStore, namespace string) *NamespacedSessionStore {
	return &NamespacedSessionStore{inner: inner, namespace: namespace}
}

func (n *NamespacedSessionStore) prefix() string { return n.namespace + "/" }

func (n *NamespacedSessionStore) owns(id string) bool {
	return len(id) > len(n.prefix()) && id[:len(n.prefix())] == n.prefix()
}

func (n *NamespacedSessionStore) Save(ctx context.Context, session *Session) error {
	if !n.owns(session.ID) {
		cp := *session
		cp.ID = n.prefix() + session.ID
		return n.inner.Save(ctx, &cp)
	}
	return n.inner.Save(ctx, session)
}

func (n *NamespacedSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	if !n.owns(id) {
		return nil, nil
	}
	return n.inner.Load(ctx, id)
}

func (n *NamespacedSessionStore) Delete(ctx context.Context, id string) error {
	if !n.owns(id) {
		return nil
	}
	return n.inner.Delete(ctx, id)
}

func (n *NamespacedSessionStore) ListRunning(ctx context.Context) ([]string, error) {
	all, err := n.inner.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range all {
		if n.owns(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (n *NamespacedSessionStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	all, err := n.inner.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, s := range all {
		if n.owns(s.ID) {
			out = append(out, s)
		}
	}
	return out, nil
}
