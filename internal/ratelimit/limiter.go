// Package ratelimit provides fixed-window request counting per
// principal, with a process-local backend and a Redis backend that is
// linearizable across processes sharing the same instance.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Counter is the sliding/fixed-window backend contract:
// CheckAndIncrement returns true when the request is admitted.
type Counter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type windowState struct {
	windowStart int64
	count       int
}

// MemoryCounter is the in-process backend.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*windowState
	maxKeys int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*windowState),
		maxKeys: 10000,
	}
}

func (m *MemoryCounter) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	bucket := now / int64(window)

	w, ok := m.windows[key]
	if !ok || w.windowStart != bucket {
		if !ok && len(m.windows) >= m.maxKeys {
			m.evictStale(bucket)
		}
		w = &windowState{windowStart: bucket}
		m.windows[key] = w
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// evictStale drops windows from earlier buckets (must hold mu).
func (m *MemoryCounter) evictStale(currentBucket int64) {
	for k, w := range m.windows {
		if w.windowStart != currentBucket {
			delete(m.windows, k)
		}
	}
}

// Limiter couples a window counter with a local token bucket per key for
// burst smoothing at the gateway edge.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// Config for the gateway limiter.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	BurstPerSecond    float64
	BurstSize         int
}

func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 120,
		Window:            time.Minute,
		BurstPerSecond:    10,
		BurstSize:         20,
	}
}

func NewLimiter(counter Counter, cfg Config) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 120
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BurstPerSecond <= 0 {
		cfg.BurstPerSecond = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.BurstPerSecond * 2)
	}
	return &Limiter{
		counter: counter,
		limit:   cfg.RequestsPerWindow,
		window:  cfg.Window,
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(cfg.BurstPerSecond),
		burst:   cfg.BurstSize,
	}
}

// Allow admits a request for a principal when both the local bucket and
// the shared window counter agree.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if !b.Allow() {
		return false, nil
	}
	return l.counter.CheckAndIncrement(ctx, key, l.limit, l.window)
}
