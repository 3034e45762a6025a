// Package budget tracks token reservation and usage per session.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
)

type entry struct {
	used       uint64
	reserved   uint64
	limit      uint64
	lastUpdate time.Time
}

func (e *entry) exceeded() bool {
	return e.used+e.reserved >= e.limit
}

func (e *entry) remaining() uint64 {
	total := e.used + e.reserved
	if total >= e.limit {
		return 0
	}
	return e.limit - total
}

// Controller maintains per-session budget entries. Entries age out
// after the idle expiration.
type Controller struct {
	mu           sync.Mutex
	entries      map[string]*entry
	defaultLimit uint64
	expiration   time.Duration
}

func NewController(defaultLimit uint64) *Controller {
	return &Controller{
		entries:      make(map[string]*entry),
		defaultLimit: defaultLimit,
		expiration:   time.Hour,
	}
}

// WithExpiration overrides the idle expiration.
func (c *Controller) WithExpiration(d time.Duration) *Controller {
	c.expiration = d
	return c
}

func (c *Controller) getOrCreate(sessionID string) *entry {
	e, ok := c.entries[sessionID]
	if !ok {
		e = &entry{limit: c.defaultLimit, lastUpdate: time.Now()}
		c.entries[sessionID] = e
	}
	return e
}

// Reserve sets aside tokens ahead of an LLM call. Fails with
// BudgetExceededError when used + reserved + n would pass the limit.
func (c *Controller) Reserve(sessionID string, tokens uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrCreate(sessionID)
	if e.remaining() < tokens {
		return &core.BudgetExceededError{Used: e.used + e.reserved, Limit: e.limit}
	}
	e.reserved += tokens
	e.lastUpdate = time.Now()

	slog.Debug("budget reserved", "session", sessionID, "tokens", tokens, "remaining", e.remaining())
	return nil
}

// Release returns unused reserved tokens; saturates at zero.
func (c *Controller) Release(sessionID string, tokens uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		if tokens > e.reserved {
			e.reserved = 0
		} else {
			e.reserved -= tokens
		}
		e.lastUpdate = time.Now()
	}
}

// RecordUsage converts reservation into usage: used grows by
// prompt+completion and the reservation shrinks by the same amount.
func (c *Controller) RecordUsage(sessionID string, prompt, completion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrCreate(sessionID)
	total := prompt + completion
	e.used += total
	if total > e.reserved {
		e.reserved = 0
	} else {
		e.reserved -= total
	}
	e.lastUpdate = time.Now()

	slog.Debug("budget usage recorded",
		"session", sessionID, "prompt", prompt, "completion", completion, "used", e.used)
}

// Remaining reports the headroom for a session.
func (c *Controller) Remaining(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		return e.remaining()
	}
	return c.defaultLimit
}

// IsExceeded reports whether the session has hit its limit.
func (c *Controller) IsExceeded(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		return e.exceeded()
	}
	return false
}

// SetLimit overrides the limit for one session.
func (c *Controller) SetLimit(sessionID string, limit uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreate(sessionID)
	e.limit = limit
	e.lastUpdate = time.Now()
}

// Cleanup drops entries idle past the expiration. Returns the number
// removed.
func (c *Controller) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-c.expiration)
	for id, e := range c.entries {
		if e.lastUpdate.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// ActiveSessions returns the number of tracked sessions.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
