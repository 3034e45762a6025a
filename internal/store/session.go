package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a mission.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusPaused    SessionStatus = "paused"
)

// Terminal reports whether the session can no longer be continued.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ToolCallInfo records a tool invocation inside a history entry.
type ToolCallInfo struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
}

// HistoryEntry is one turn in the session transcript. Entries are
// append-only within a session.
type HistoryEntry struct {
	Role      string        `json:"role"` // system, user, assistant, tool
	Content   string        `json:"content"`
	ToolCall  *ToolCallInfo `json:"tool_call,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TaskState is mutated only by the controller between iterations;
// iteration increases monotonically.
type TaskState struct {
	Iteration             int      `json:"iteration"`
	Goal                  string   `json:"goal"`
	Observations          []string `json:"observations"`
	PendingActions        []string `json:"pending_actions"`
	ConsecutiveRejections int      `json:"consecutive_rejections"`
}

// TokenUsage tracks consumption against a budget.
// Invariant: TotalTokens = PromptTokens + CompletionTokens.
type TokenUsage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
	BudgetLimit      uint64 `json:"budget_limit"`
}

func TokenUsageWithBudget(limit uint64) TokenUsage {
	return TokenUsage{BudgetLimit: limit}
}

// Add records one LLM call's usage.
func (u *TokenUsage) Add(prompt, completion uint64) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// IsExceeded is true once total usage reaches the limit.
func (u TokenUsage) IsExceeded() bool {
	return u.BudgetLimit > 0 && u.TotalTokens >= u.BudgetLimit
}

// Session is the unit of durability and resume.
type Session struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id"`
	UserID    string         `json:"user_id,omitempty"`
	Status    SessionStatus  `json:"status"`
	History   []HistoryEntry `json:"history"`
	TaskState *TaskState     `json:"task_state,omitempty"`
	Usage     TokenUsage     `json:"token_usage"`
	Result    string         `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSession creates a Running session for a goal with a fresh trace id.
func NewSession(goal string, budget uint64) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:      uuid.NewString(),
		TraceID: uuid.NewString(),
		Status:  StatusRunning,
		TaskState: &TaskState{
			Goal: goal,
		},
		Usage:     TokenUsageWithBudget(budget),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a history entry stamped with the current time.
func (s *Session) Append(role, content string) {
	s.History = append(s.History, HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// AppendToolCall adds an observation entry carrying tool call metadata.
func (s *Session) AppendToolCall(content string, call *ToolCallInfo) {
	s.History = append(s.History, HistoryEntry{
		Role:      "user",
		Content:   content,
		ToolCall:  call,
		Timestamp: time.Now().UTC(),
	})
}

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	Status *SessionStatus
	UserID string
}

// SessionStore is the durable snapshot contract. Save is upsert and
// must be durable before returning. Concurrent saves for the same id
// are serialized by the scheduler, so last-writer-wins is safe.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	ListRunning(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
}
