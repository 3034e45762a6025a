package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager reuses one container per session. Tools ask for a sandbox by
// session id; the container is created lazily and destroyed when the
// session is released.
type Manager struct {
	engine Engine
	cfg    Config

	mu       sync.Mutex
	sessions map[string]SandboxID
}

func NewManager(engine Engine, cfg Config) *Manager {
	return &Manager{
		engine:   engine,
		cfg:      cfg,
		sessions: make(map[string]SandboxID),
	}
}

// Engine exposes the underlying engine for direct file operations.
func (m *Manager) Engine() Engine { return m.engine }

// Config returns the sandbox resource configuration.
func (m *Manager) Config() Config { return m.cfg }

// GetOrCreate returns the session's container, creating it on first use.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (SandboxID, error) {
	m.mu.Lock()
	if id, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	// Create outside the lock: container startup is slow.
	id, err := m.engine.Create(ctx, m.cfg)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sessionID]; ok {
		// Lost the race; tear down the extra container.
		go func() {
			destroyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.engine.Destroy(destroyCtx, id); err != nil {
				slog.Warn("failed to destroy duplicate sandbox", "sandbox", id, "error", err)
			}
		}()
		return existing, nil
	}
	m.sessions[sessionID] = id
	return id, nil
}

// Release destroys the session's container, if any.
func (m *Manager) Release(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	id, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.engine.Destroy(ctx, id)
}

// Shutdown destroys every tracked container.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]SandboxID, 0, len(m.sessions))
	for _, id := range m.sessions {
		ids = append(ids, id)
	}
	m.sessions = make(map[string]SandboxID)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.engine.Destroy(ctx, id); err != nil {
			slog.Warn("sandbox shutdown: destroy failed", "sandbox", id, "error", err)
		}
	}
}
