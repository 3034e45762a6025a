package agent

import (
	"context"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// AgentResult is the terminal output of a mission or fast action.
type AgentResult struct {
	Type    string `json:"type"` // "text", "data", "error"
	Text    string `json:"text,omitempty"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func TextResult(text string) AgentResult {
	return AgentResult{Type: "text", Text: text}
}

func ErrorResult(code, message string) AgentResult {
	return AgentResult{Type: "error", Code: code, Message: message}
}

// Capability is a pluggable lifecycle hook set injected into the loop.
// Hooks run in chain order; ParseAction and OnExecute short-circuit on
// the first capability that handles the input. A hook returning an
// error aborts the iteration and surfaces the error.
type Capability interface {
	Name() string

	// OnStart runs when a mission begins.
	OnStart(ctx context.Context, session *store.Session) error

	// OnPreReasoning runs before every LLM call; it may rewrite
	// history (compression, context injection).
	OnPreReasoning(ctx context.Context, session *store.Session) error

	// ParseAction may claim a raw LLM response as a custom action.
	ParseAction(response string) (Action, bool)

	// OnExecute may handle an action. Returning a non-nil result stops
	// the dispatch chain.
	OnExecute(ctx context.Context, action Action, session *store.Session) (*AgentResult, error)

	// OnPostExecute runs after an action was executed and observed.
	OnPostExecute(ctx context.Context, session *store.Session) error

	// OnFinish runs once the mission reaches a terminal result.
	OnFinish(ctx context.Context, session *store.Session, result AgentResult) error
}

// BaseCapability provides no-op hooks; concrete capabilities embed it
// and override what they need.
type BaseCapability struct{}

func (BaseCapability) OnStart(context.Context, *store.Session) error        { return nil }
func (BaseCapability) OnPreReasoning(context.Context, *store.Session) error { return nil }
func (BaseCapability) ParseAction(string) (Action, bool)                    { return Action{}, false }
func (BaseCapability) OnExecute(context.Context, Action, *store.Session) (*AgentResult, error) {
	return nil, nil
}
func (BaseCapability) OnPostExecute(context.Context, *store.Session) error { return nil }
func (BaseCapability) OnFinish(context.Context, *store.Session, AgentResult) error {
	return nil
}
