package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFinalAnswer(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse("FINAL ANSWER: The result is 42.")
	require.Equal(t, ActionFinalAnswer, action.Kind)
	assert.Equal(t, "The result is 42.", action.Text)
}

func TestParseTextToolCall(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse("THOUGHT: I need to search.\nACTION: search\nARGS: {\"query\": \"golang\"}")
	require.Equal(t, ActionToolCall, action.Kind)
	assert.Equal(t, "search", action.ToolName)
	assert.Equal(t, "golang", action.Args["query"])
}

func TestParseSimpleJSONForm(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse(`{"name": "calculator", "arguments": {"a": 5, "b": 3}}`)
	require.Equal(t, ActionToolCall, action.Kind)
	assert.Equal(t, "calculator", action.ToolName)
	assert.EqualValues(t, 5, action.Args["a"])
}

func TestParseOpenAIFunctionForm(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse(`{"function": {"name": "search", "arguments": "{\"query\": \"rust\"}"}}`)
	require.Equal(t, ActionToolCall, action.Kind)
	assert.Equal(t, "search", action.ToolName)
	assert.Equal(t, "rust", action.Args["query"])
}

func TestParseJSONArrayTakesFirst(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse(`[{"name": "first", "arguments": {}}, {"name": "second", "arguments": {}}]`)
	require.Equal(t, ActionToolCall, action.Kind)
	assert.Equal(t, "first", action.ToolName)
}

func TestParseDefaultsToThink(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse("I'm still thinking about this problem...")
	require.Equal(t, ActionThink, action.Kind)
	assert.Contains(t, action.Text, "thinking")
}

func TestMalformedJSONFallsThroughToThink(t *testing.T) {
	p := NewActionParser(nil)
	action := p.Parse("{not valid json")
	assert.Equal(t, ActionThink, action.Kind)
}

func TestCapabilityParserTakesPrecedence(t *testing.T) {
	deleg := NewDelegationCapability(nil)
	p := NewActionParser([]Capability{deleg})

	action := p.Parse("DELEGATE: research the topic || background info")
	require.Equal(t, ActionDelegate, action.Kind)
	assert.Equal(t, "research the topic", action.Objective)
	assert.Equal(t, "background info", action.Context)
}

func TestDelegateJSONForm(t *testing.T) {
	deleg := NewDelegationCapability(nil)
	action, ok := deleg.ParseAction(`{"delegate": {"objective": "sub task", "context": "ctx"}}`)
	require.True(t, ok)
	assert.Equal(t, ActionDelegate, action.Kind)
	assert.Equal(t, "sub task", action.Objective)
}

func TestMcpSelectParse(t *testing.T) {
	cap := NewMcpSelectCapability(nil)
	action, ok := cap.ParseAction("MCP_SELECT: something involving databases")
	require.True(t, ok)
	assert.Equal(t, ActionMcpSelect, action.Kind)
	assert.Equal(t, "something involving databases", action.TaskDescription)
}

func TestActionArgsMissingYieldsThink(t *testing.T) {
	p := NewActionParser(nil)
	// ACTION without ARGS is not a valid tool call.
	action := p.Parse("ACTION: search")
	assert.Equal(t, ActionThink, action.Kind)
}
