package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenUsageInvariants(t *testing.T) {
	u := TokenUsageWithBudget(100)
	assert.False(t, u.IsExceeded())

	u.Add(60, 60)
	assert.Equal(t, uint64(120), u.TotalTokens)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
	assert.True(t, u.IsExceeded())
}

func TestFileSessionStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSessionStore(t.TempDir())
	require.NoError(t, err)

	session := NewSession("test goal", 1000)
	session.UserID = "u1"
	session.Append("system", "prompt")
	session.Append("user", "hello")
	require.NoError(t, s.Save(ctx, session))

	loaded, err := s.Load(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Len(t, loaded.History, 2)
	assert.Equal(t, "test goal", loaded.TaskState.Goal)

	missing, err := s.Load(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// History monotonicity: repeated save/load cycles never reorder or drop
// prior entries, and iteration is non-decreasing.
func TestHistoryMonotonicityAcrossSaves(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSessionStore(t.TempDir())
	require.NoError(t, err)

	session := NewSession("goal", 1000)
	var wantContents []string
	lastIteration := -1

	for i := 0; i < 10; i++ {
		session.Append("assistant", time.Now().String())
		wantContents = append(wantContents, session.History[len(session.History)-1].Content)
		session.TaskState.Iteration = i
		require.NoError(t, s.Save(ctx, session))

		loaded, err := s.Load(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, loaded.History, len(wantContents))
		for j, want := range wantContents {
			assert.Equal(t, want, loaded.History[j].Content)
		}
		assert.Greater(t, loaded.TaskState.Iteration, lastIteration)
		lastIteration = loaded.TaskState.Iteration
		session = loaded
	}
}

func TestListRunningAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	running := NewSession("r", 100)
	require.NoError(t, s.Save(ctx, running))

	completed := NewSession("c", 100)
	completed.Status = StatusCompleted
	completed.UserID = "u2"
	require.NoError(t, s.Save(ctx, completed))

	ids, err := s.ListRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{running.ID}, ids)

	status := StatusCompleted
	sessions, err := s.ListSessions(ctx, SessionFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, completed.ID, sessions[0].ID)

	sessions, err = s.ListSessions(ctx, SessionFilter{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestPruneKeepsRunningSessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	old := NewSession("old", 100)
	old.Status = StatusCompleted
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Save(ctx, old))

	running := NewSession("running", 100)
	running.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Save(ctx, running))

	removed, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	still, err := s.Load(ctx, running.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestEraseUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	mine := NewSession("mine", 100)
	mine.UserID = "victim"
	require.NoError(t, s.Save(ctx, mine))

	other := NewSession("other", 100)
	other.UserID = "bystander"
	require.NoError(t, s.Save(ctx, other))

	removed, err := s.EraseUser(ctx, "victim")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gone, err := s.Load(ctx, mine.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestNamespacedSessionStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemorySessionStore()
	ns := NewNamespacedSessionStore(inner, "tenant1")

	session := NewSession("goal", 100)
	plainID := session.ID
	require.NoError(t, ns.Save(ctx, session))

	// The stored id carries the namespace prefix.
	loaded, err := ns.Load(ctx, "tenant1/"+plainID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// A foreign id is invisible.
	foreign, err := ns.Load(ctx, "tenant2/"+plainID)
	require.NoError(t, err)
	assert.Nil(t, foreign)

	ids, err := ns.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "tenant1/"+plainID, ids[0])
}
