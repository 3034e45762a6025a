package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/sovereignclaw/internal/mcp"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// DelegationCapability parses DELEGATE-tagged actions and runs a child
// mission with an isolated session and a reduced iteration budget.
type DelegationCapability struct {
	BaseCapability
	spawn         func() *Controller // child controller factory; breaks the parent cycle
	maxIterations int
	maxDepth      int
}

// NewDelegationCapability takes a factory so the child controller is
// built lazily with the parent's collaborators but its own config.
func NewDelegationCapability(spawn func() *Controller) *DelegationCapability {
	return &DelegationCapability{
		spawn:         spawn,
		maxIterations: 5,
		maxDepth:      2,
	}
}

func (d *DelegationCapability) Name() string { return "delegation" }

// ParseAction recognizes two delegate forms:
//
//	DELEGATE: <objective> || <context>
//	{"delegate": {"objective": "...", "context": "..."}}
func (d *DelegationCapability) ParseAction(response string) (Action, bool) {
	if rest, ok := strings.CutPrefix(response, "DELEGATE:"); ok {
		objective, delegateContext, _ := strings.Cut(rest, "||")
		return DelegateAction(strings.TrimSpace(objective), strings.TrimSpace(delegateContext)), true
	}

	if strings.HasPrefix(response, "{") {
		var wrapper struct {
			Delegate *struct {
				Objective string `json:"objective"`
				Context   string `json:"context"`
			} `json:"delegate"`
		}
		if err := json.Unmarshal([]byte(response), &wrapper); err == nil && wrapper.Delegate != nil {
			return DelegateAction(wrapper.Delegate.Objective, wrapper.Delegate.Context), true
		}
	}
	return Action{}, false
}

func (d *DelegationCapability) OnExecute(ctx context.Context, action Action, session *store.Session) (*AgentResult, error) {
	if action.Kind != ActionDelegate {
		return nil, nil
	}
	if action.Objective == "" {
		result := TextResult("Delegation failed: empty objective")
		return &result, nil
	}

	slog.Info("delegating to child agent", "parent", session.ID, "objective", action.Objective)

	child := d.spawn()
	childResult, err := child.Execute(ctx, UserIntent{
		Type:           protocol.IntentComplexMission,
		Goal:           action.Objective,
		ContextSummary: action.Context,
		UserID:         session.UserID,
	})
	if err != nil {
		result := TextResult(fmt.Sprintf("Delegated task failed: %v", err))
		return &result, nil
	}

	result := TextResult("Delegated task completed: " + childResult.Text)
	return &result, nil
}

// McpSelectCapability parses MCP_SELECT-tagged actions and picks the
// best server from the remote registry by capability/keyword scoring.
type McpSelectCapability struct {
	BaseCapability
	registry *mcp.Registry
}

func NewMcpSelectCapability(registry *mcp.Registry) *McpSelectCapability {
	return &McpSelectCapability{registry: registry}
}

func (m *McpSelectCapability) Name() string { return "mcp_select" }

func (m *McpSelectCapability) ParseAction(response string) (Action, bool) {
	if rest, ok := strings.CutPrefix(response, "MCP_SELECT:"); ok {
		return McpSelectAction(strings.TrimSpace(rest)), true
	}
	return Action{}, false
}

func (m *McpSelectCapability) OnExecute(_ context.Context, action Action, _ *store.Session) (*AgentResult, error) {
	if action.Kind != ActionMcpSelect {
		return nil, nil
	}

	server := m.registry.SelectServer(action.TaskDescription)
	if server == "" {
		result := TextResult("No MCP server matches the task. Available servers: " +
			strings.Join(m.registry.Servers(), ", "))
		return &result, nil
	}
	result := TextResult(fmt.Sprintf(
		"Selected MCP server '%s'. Its tools are addressable as '%s/<tool>'.", server, server))
	return &result, nil
}
