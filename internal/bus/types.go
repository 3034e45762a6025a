package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// EventEnvelope is the structured event record fanned out to subscribers.
// Envelopes are immutable after construction; Emit hands each subscriber
// its own copy.
type EventEnvelope struct {
	ID          string          `json:"id"`
	TraceID     string          `json:"trace_id"`
	SessionID   string          `json:"session_id,omitempty"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Actor       string          `json:"actor"`
	Timestamp   time.Time       `json:"timestamp"`
	EventType   string          `json:"event_type"`
	Severity    string          `json:"severity"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEvent creates an envelope with a fresh id and trace id. Callers on
// an existing trace overwrite TraceID via WithTrace.
func NewEvent(eventType string, payload any) EventEnvelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return EventEnvelope{
		ID:        uuid.NewString(),
		TraceID:   uuid.NewString(),
		Actor:     "system",
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  protocol.SeverityInfo,
		Payload:   raw,
	}
}

func (e EventEnvelope) WithTrace(traceID string) EventEnvelope {
	e.TraceID = traceID
	return e
}

func (e EventEnvelope) WithSession(sessionID string) EventEnvelope {
	e.SessionID = sessionID
	return e
}

func (e EventEnvelope) WithWorkspace(workspaceID string) EventEnvelope {
	e.WorkspaceID = workspaceID
	return e
}

func (e EventEnvelope) WithActor(actor string) EventEnvelope {
	e.Actor = actor
	return e
}

func (e EventEnvelope) WithSeverity(severity string) EventEnvelope {
	e.Severity = severity
	return e
}

// PolicyEvaluatedPayload is emitted for every policy decision.
type PolicyEvaluatedPayload struct {
	ToolName      string `json:"tool_name"`
	RiskLevel     string `json:"risk_level"`
	RiskScore     uint32 `json:"risk_score"`
	MatchedRule   string `json:"matched_rule,omitempty"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policy_version"`
}

// ToolExecPayload is emitted around tool executions.
type ToolExecPayload struct {
	ToolName   string `json:"tool_name"`
	Input      any    `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ApprovalPayload is emitted for approval lifecycle events.
type ApprovalPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	RiskLevel string `json:"risk_level"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
