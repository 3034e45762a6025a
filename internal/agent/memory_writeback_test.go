package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

func TestWritebackAppendsAndDedupes(t *testing.T) {
	dir := t.TempDir()
	wb := NewMemoryWriteback(dir)
	cap := NewMemoryWritebackCapability(wb)

	session := store.NewSession("summarize the report", 1000)
	result := TextResult("summary complete")

	require.NoError(t, cap.OnFinish(context.Background(), session, result))
	// Same session and result again: the line must not duplicate.
	require.NoError(t, cap.OnFinish(context.Background(), session, result))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var dailyName string
	for _, e := range entries {
		if e.Name() != "MEMORY.md" {
			dailyName = e.Name()
		}
	}
	require.NotEmpty(t, dailyName)

	daily, err := os.ReadFile(filepath.Join(dir, dailyName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(daily)), "\n")
	// Header plus exactly one entry line.
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "# Memory "))
	assert.Contains(t, lines[1], "[session:"+session.ID+"]")
	assert.Contains(t, lines[1], "[kind:finish]")
	assert.Contains(t, lines[1], "goal=summarize the report")
}

func TestMemoryMDMergesSorted(t *testing.T) {
	dir := t.TempDir()
	// Two daily files out of order.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-07-02.md"),
		[]byte("# Memory 2026-07-02\n- [2026-07-02][session:b][kind:finish] goal=later\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-07-01.md"),
		[]byte("# Memory 2026-07-01\n- [2026-07-01][session:a][kind:finish] goal=earlier\n"), 0o644))

	require.NoError(t, mergeIntoMemoryMD(dir))

	merged, err := os.ReadFile(filepath.Join(dir, "MEMORY.md"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(merged)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "# MEMORY", lines[0])
	assert.Contains(t, lines[1], "2026-07-01")
	assert.Contains(t, lines[2], "2026-07-02")
}

func TestPreCompactionCheckpoint(t *testing.T) {
	dir := t.TempDir()
	wb := NewMemoryWriteback(dir)

	session := store.NewSession("long running goal", 1000)
	for i := 0; i < 5; i++ {
		session.Append("user", "filler")
	}
	require.NoError(t, wb.FlushPreCompaction(session, 12345))

	merged, err := os.ReadFile(filepath.Join(dir, "MEMORY.md"))
	require.NoError(t, err)
	assert.Contains(t, string(merged), "[kind:PRE-COMPACTION]")
	assert.Contains(t, string(merged), "est_tokens=12345")
}

func TestSanitizeTextCollapsesAndCaps(t *testing.T) {
	long := strings.Repeat("word ", 100)
	out := sanitizeText("  a\n\nb\t c  " + long)
	assert.True(t, strings.HasPrefix(out, "a b c"))
	assert.LessOrEqual(t, len(out), 220)
}
