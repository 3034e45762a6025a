// Package agent implements the reasoning loop: the action parser, the
// capability chain, and the controller that orchestrates tools, policy,
// and approval per iteration.
package agent

import (
	"encoding/json"
	"strings"
)

// ActionKind tags a parsed action.
type ActionKind string

const (
	ActionToolCall    ActionKind = "tool_call"
	ActionFinalAnswer ActionKind = "final_answer"
	ActionThink       ActionKind = "think"
	ActionDelegate    ActionKind = "delegate"
	ActionMcpSelect   ActionKind = "mcp_select"
)

// Action is the structured interpretation of one assistant turn.
// Exactly one field set per kind.
type Action struct {
	Kind ActionKind

	// ToolCall
	ToolName string
	Args     map[string]any

	// FinalAnswer / Think
	Text string

	// Delegate
	Objective string
	Context   string

	// McpSelect
	TaskDescription string
}

func ToolCallAction(name string, args map[string]any) Action {
	return Action{Kind: ActionToolCall, ToolName: name, Args: args}
}

func FinalAnswerAction(text string) Action {
	return Action{Kind: ActionFinalAnswer, Text: text}
}

func ThinkAction(text string) Action {
	return Action{Kind: ActionThink, Text: text}
}

func DelegateAction(objective, context string) Action {
	return Action{Kind: ActionDelegate, Objective: objective, Context: context}
}

func McpSelectAction(taskDescription string) Action {
	return Action{Kind: ActionMcpSelect, TaskDescription: taskDescription}
}

// ActionParser maps raw assistant text to an action. Precedence:
// capability parsers (in chain order), then "FINAL ANSWER:", then JSON
// function-call forms, then the line-oriented ACTION:/ARGS: form, else
// Think.
type ActionParser struct {
	capabilities []Capability
}

func NewActionParser(capabilities []Capability) *ActionParser {
	return &ActionParser{capabilities: capabilities}
}

func (p *ActionParser) Parse(response string) Action {
	trimmed := strings.TrimSpace(response)

	for _, cap := range p.capabilities {
		if action, ok := cap.ParseAction(trimmed); ok {
			return action
		}
	}

	if answer, ok := strings.CutPrefix(trimmed, "FINAL ANSWER:"); ok {
		return FinalAnswerAction(strings.TrimSpace(answer))
	}

	if action, ok := p.parseFunctionCall(trimmed); ok {
		return action
	}

	if action, ok := p.parseTextFormat(trimmed); ok {
		return action
	}

	return ThinkAction(trimmed)
}

// parseFunctionCall handles {"function":{"name","arguments":string}}
// and {"name","arguments":object}, plus a JSON array of either.
func (p *ActionParser) parseFunctionCall(response string) (Action, bool) {
	if !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[") {
		return Action{}, false
	}

	var raw any
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return Action{}, false
	}

	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			return Action{}, false
		}
		raw = arr[0]
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return Action{}, false
	}
	return extractToolCall(obj)
}

func extractToolCall(obj map[string]any) (Action, bool) {
	// OpenAI form: {"function": {"name": "...", "arguments": "json string"}}
	if fn, ok := obj["function"].(map[string]any); ok {
		name, _ := fn["name"].(string)
		argsStr, _ := fn["arguments"].(string)
		if name == "" {
			return Action{}, false
		}
		args := map[string]any{}
		if argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
				return Action{}, false
			}
		}
		return ToolCallAction(name, args), true
	}

	// Simple form: {"name": "...", "arguments": {...}}
	if name, ok := obj["name"].(string); ok && name != "" {
		args, _ := obj["arguments"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		return ToolCallAction(name, args), true
	}

	return Action{}, false
}

// parseTextFormat handles the ACTION:/ARGS: line pair.
func (p *ActionParser) parseTextFormat(response string) (Action, bool) {
	var toolName, argsJSON string
	for _, line := range strings.Split(response, "\n") {
		if rest, ok := strings.CutPrefix(line, "ACTION:"); ok {
			toolName = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "ARGS:"); ok {
			argsJSON = strings.TrimSpace(rest)
		}
	}
	if toolName == "" || argsJSON == "" {
		return Action{}, false
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Action{}, false
	}
	return ToolCallAction(toolName, args), true
}
