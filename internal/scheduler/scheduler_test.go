package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSerialization(t *testing.T) {
	s := New(8)
	var inCritical atomic.Int32
	var maxConcurrent atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Run(context.Background(), "session-1", func(context.Context) error {
				now := inCritical.Add(1)
				if now > maxConcurrent.Load() {
					maxConcurrent.Store(now)
				}
				time.Sleep(time.Millisecond)
				inCritical.Add(-1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxConcurrent.Load(),
		"two operations for the same session must never overlap")
}

func TestGlobalLimit(t *testing.T) {
	s := New(2)
	var running atomic.Int32
	var peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct sessions: only the global gate applies.
			_ = s.Run(context.Background(), string(rune('a'+i)), func(context.Context) error {
				now := running.Add(1)
				if now > peak.Load() {
					peak.Store(now)
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNoSessionSkipsLane(t *testing.T) {
	s := New(4)
	var ran atomic.Bool
	require.NoError(t, s.Run(context.Background(), "", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load())
}

func TestCancelledWhileQueued(t *testing.T) {
	s := New(1)
	release := make(chan struct{})

	go func() {
		_ = s.Run(context.Background(), "", func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond) // let the first op take the permit

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, "x", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestPermitReleasedOnError(t *testing.T) {
	s := New(1)
	_ = s.Run(context.Background(), "s", func(context.Context) error {
		return assert.AnError
	})
	// The permit must be back: a second run proceeds immediately.
	done := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), "s", func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("permit was not released")
	}
}
