// Package approval implements the human-in-the-loop gate: high-risk
// tool calls park here until a decision arrives or the timeout fires.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// Request describes a parked tool call awaiting a decision.
type Request struct {
	RequestID   string         `json:"request_id"`
	SessionID   string         `json:"session_id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	RiskLevel   core.RiskLevel `json:"risk_level"`
	Context     string         `json:"context"`
	TimeoutSecs int            `json:"timeout_secs"`
	Nonce       string         `json:"nonce"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// NewRequest fills identifiers and the expiry from the timeout.
func NewRequest(sessionID, toolName string, args map[string]any, risk core.RiskLevel, context string, timeoutSecs int) Request {
	if timeoutSecs <= 0 {
		timeoutSecs = 300
	}
	return Request{
		RequestID:   uuid.NewString(),
		SessionID:   sessionID,
		ToolName:    toolName,
		Args:        args,
		RiskLevel:   risk,
		Context:     context,
		TimeoutSecs: timeoutSecs,
		Nonce:       uuid.NewString(),
		ExpiresAt:   time.Now().UTC().Add(time.Duration(timeoutSecs) * time.Second),
	}
}

// Verdict enumerates decision outcomes.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictTimedOut Verdict = "timed_out"
)

// Response is the terminal outcome for a request. Exactly one response
// is ever delivered per nonce.
type Response struct {
	Verdict    Verdict `json:"verdict"`
	Nonce      string  `json:"nonce"`
	ApproverID string  `json:"approver_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Gate correlates requests and decisions by nonce. The wait primitive is
// a one-shot channel per nonce; the map is guarded by a mutex.
type Gate struct {
	mu      sync.Mutex
	waiters map[string]chan Response

	floor   core.RiskLevel
	emitter *bus.Emitter
}

// NewGate creates a gate. Requests below floor are auto-approved. The
// gate holds no durable state: requests in flight when the process
// stops are lost, and no TimedOut response is delivered for them. A
// resumed session handles the unanswered tool call in the controller's
// crash recovery instead (see Controller.Resume).
func NewGate(floor core.RiskLevel, emitter *bus.Emitter) *Gate {
	return &Gate{
		waiters: make(map[string]chan Response),
		floor:   floor,
		emitter: emitter,
	}
}

// RequestApproval blocks until a decision is submitted, the timeout
// elapses, or ctx is cancelled (cancellation counts as a timeout so the
// nonce is still burned exactly once).
func (g *Gate) RequestApproval(ctx context.Context, req Request) (Response, error) {
	if req.RiskLevel < g.floor {
		return Response{Verdict: VerdictApproved, Nonce: req.Nonce, ApproverID: "auto"}, nil
	}

	ch := make(chan Response, 1)
	g.mu.Lock()
	if _, exists := g.waiters[req.Nonce]; exists {
		g.mu.Unlock()
		return Response{}, fmt.Errorf("approval nonce already in use: %s", req.Nonce)
	}
	g.waiters[req.Nonce] = ch
	g.mu.Unlock()

	g.emit(protocol.EventApprovalRequested, req.SessionID, bus.ApprovalPayload{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		RiskLevel: req.RiskLevel.String(),
	})

	timeout := time.Duration(req.TimeoutSecs) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var resp Response
	select {
	case resp = <-ch:
	case <-timer.C:
		resp = g.resolve(req.Nonce, ch, Response{Verdict: VerdictTimedOut, Nonce: req.Nonce})
	case <-ctx.Done():
		resp = g.resolve(req.Nonce, ch, Response{Verdict: VerdictTimedOut, Nonce: req.Nonce, Reason: "cancelled"})
	}

	g.emit(protocol.EventApprovalDecided, req.SessionID, bus.ApprovalPayload{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		RiskLevel: req.RiskLevel.String(),
		Decision:  string(resp.Verdict),
		Reason:    resp.Reason,
	})
	return resp, nil
}

// SubmitDecision resolves a pending request. Unknown or already-resolved
// nonces fail: nonces are single-use.
func (g *Gate) SubmitDecision(nonce string, approved bool, approverID, reason string) error {
	verdict := VerdictRejected
	if approved {
		verdict = VerdictApproved
	}
	resp := Response{Verdict: verdict, Nonce: nonce, ApproverID: approverID, Reason: reason}

	g.mu.Lock()
	ch, ok := g.waiters[nonce]
	if ok {
		delete(g.waiters, nonce)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown or already-resolved approval nonce: %s", nonce)
	}
	ch <- resp
	return nil
}

// Pending returns the number of requests currently waiting.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// resolve removes the waiter and returns fallback, unless a concurrent
// SubmitDecision already put a response on the channel, in which case that
// response wins and fallback is discarded. Either way exactly one
// verdict is observed for the nonce.
func (g *Gate) resolve(nonce string, ch chan Response, fallback Response) Response {
	g.mu.Lock()
	delete(g.waiters, nonce)
	g.mu.Unlock()

	select {
	case resp := <-ch:
		return resp
	default:
		return fallback
	}
}

func (g *Gate) emit(eventType, sessionID string, payload bus.ApprovalPayload) {
	if g.emitter == nil {
		return
	}
	g.emitter.Emit(bus.NewEvent(eventType, payload).WithSession(sessionID))
}
