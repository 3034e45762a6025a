// Package scheduler bounds global concurrency and serializes work per
// session: a global semaphore plus a per-session lane created on first
// use and cached for the session's lifetime.
package scheduler

import (
	"context"
	"sync"
)

// Scheduler gates controller executions.
type Scheduler struct {
	global chan struct{}
	lanes  sync.Map // session id → *sync.Mutex
}

// New creates a scheduler with the given global limit (minimum 1).
func New(globalLimit int) *Scheduler {
	if globalLimit < 1 {
		globalLimit = 1
	}
	return &Scheduler{global: make(chan struct{}, globalLimit)}
}

// Default returns a scheduler with the standard global limit of 32.
func Default() *Scheduler { return New(32) }

// Run acquires the global permit, then the session lane (when sessionID
// is non-empty), runs op, and releases both on every exit path. Context
// cancellation while queued returns ctx.Err without running op.
func (s *Scheduler) Run(ctx context.Context, sessionID string, op func(context.Context) error) error {
	select {
	case s.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.global }()

	if sessionID == "" {
		return op(ctx)
	}

	laneAny, _ := s.lanes.LoadOrStore(sessionID, &sync.Mutex{})
	lane := laneAny.(*sync.Mutex)

	// The lane is a plain mutex: once the global permit is held the
	// wait is bounded by the session's own serialized work.
	lane.Lock()
	defer lane.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return op(ctx)
}

// InFlight reports how many global permits are held.
func (s *Scheduler) InFlight() int { return len(s.global) }

// Capacity reports the global limit.
func (s *Scheduler) Capacity() int { return cap(s.global) }
