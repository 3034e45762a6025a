package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

func appendToolCall(session *store.Session, name string, args map[string]any) {
	session.AppendToolCall("OBSERVATION: result", &store.ToolCallInfo{Name: name, Arguments: args})
}

func TestReflectionWarnsOnRepeats(t *testing.T) {
	cap := NewReflectionCapability(3)
	session := store.NewSession("goal", 1000)

	args := map[string]any{"query": "same"}
	for i := 0; i < 3; i++ {
		appendToolCall(session, "search", args)
	}

	require.NoError(t, cap.OnPostExecute(context.Background(), session))

	last := session.History[len(session.History)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "CRITICAL WARNING")
}

func TestReflectionIgnoresVariedCalls(t *testing.T) {
	cap := NewReflectionCapability(3)
	session := store.NewSession("goal", 1000)

	appendToolCall(session, "search", map[string]any{"query": "one"})
	appendToolCall(session, "search", map[string]any{"query": "two"})
	appendToolCall(session, "search", map[string]any{"query": "three"})

	before := len(session.History)
	require.NoError(t, cap.OnPostExecute(context.Background(), session))
	assert.Equal(t, before, len(session.History))
}

func TestReflectionBelowThreshold(t *testing.T) {
	cap := NewReflectionCapability(3)
	session := store.NewSession("goal", 1000)

	args := map[string]any{"q": "x"}
	appendToolCall(session, "search", args)
	appendToolCall(session, "search", args)

	before := len(session.History)
	require.NoError(t, cap.OnPostExecute(context.Background(), session))
	assert.Equal(t, before, len(session.History))
}
