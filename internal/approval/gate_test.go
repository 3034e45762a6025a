package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
)

func TestAutoApproveBelowFloor(t *testing.T) {
	gate := NewGate(core.RiskHigh, nil)
	req := NewRequest("s1", "echo", nil, core.RiskLow, "", 1)

	resp, err := gate.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, resp.Verdict)
	assert.Equal(t, "auto", resp.ApproverID)
}

func TestApproveFlow(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	req := NewRequest("s1", "sandbox_shell", map[string]any{"command": "ls"}, core.RiskHigh, "", 5)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gate.Pending() == 0 {
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, gate.SubmitDecision(req.Nonce, true, "alice", ""))
	}()

	resp, err := gate.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, VerdictApproved, resp.Verdict)
	assert.Equal(t, "alice", resp.ApproverID)
	assert.Equal(t, req.Nonce, resp.Nonce)
}

func TestRejectCarriesReason(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	req := NewRequest("s1", "sandbox_shell", nil, core.RiskCritical, "", 5)

	go func() {
		for gate.Pending() == 0 {
			time.Sleep(time.Millisecond)
		}
		_ = gate.SubmitDecision(req.Nonce, false, "bob", "too dangerous")
	}()

	resp, err := gate.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, VerdictRejected, resp.Verdict)
	assert.Equal(t, "too dangerous", resp.Reason)
}

func TestTimeout(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	req := NewRequest("s1", "sandbox_shell", nil, core.RiskHigh, "", 1)
	req.TimeoutSecs = 1

	start := time.Now()
	resp, err := gate.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimedOut, resp.Verdict)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Zero(t, gate.Pending())
}

func TestNonceSingleUse(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	req := NewRequest("s1", "sandbox_shell", nil, core.RiskHigh, "", 5)

	done := make(chan Response, 1)
	go func() {
		resp, _ := gate.RequestApproval(context.Background(), req)
		done <- resp
	}()
	for gate.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, gate.SubmitDecision(req.Nonce, true, "alice", ""))
	// Second decision on the same nonce fails.
	assert.Error(t, gate.SubmitDecision(req.Nonce, false, "mallory", "race"))

	resp := <-done
	assert.Equal(t, VerdictApproved, resp.Verdict)
}

func TestUnknownNonce(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	assert.Error(t, gate.SubmitDecision("no-such-nonce", true, "x", ""))
}

func TestCancelledContextYieldsTimedOut(t *testing.T) {
	gate := NewGate(core.RiskLow, nil)
	req := NewRequest("s1", "sandbox_shell", nil, core.RiskHigh, "", 60)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for gate.Pending() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	resp, err := gate.RequestApproval(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimedOut, resp.Verdict)
}

func TestEventsEmitted(t *testing.T) {
	emitter := bus.NewEmitter()
	var mu sync.Mutex
	var events []string
	emitter.Subscribe(bus.SubscriberFunc{SubName: "capture", Fn: func(e bus.EventEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.EventType)
		return nil
	}})

	gate := NewGate(core.RiskLow, emitter)
	req := NewRequest("s1", "sandbox_shell", nil, core.RiskHigh, "", 1)
	req.TimeoutSecs = 1

	_, err := gate.RequestApproval(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"APPROVAL_REQUESTED", "APPROVAL_DECIDED"}, events)
}
