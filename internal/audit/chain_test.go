package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

func testEvent(i int) bus.EventEnvelope {
	return bus.NewEvent(protocol.EventToolExecFinished, map[string]any{"i": i})
}

func TestChainAppendsVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(testEvent(i)))
	}

	broken, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, -1, broken)

	// First entry chains off the genesis hash.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Len(t, first.Hash, 64)

	// prev_hash links each entry to its predecessor.
	var prev Entry = first
	for _, line := range lines[1:] {
		var entry Entry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, prev.Hash, entry.PrevHash)
		prev = entry
	}
}

func TestTamperDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, log.Append(testEvent(i)))
	}

	// Flip a byte inside the second envelope's payload.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	tampered := strings.Replace(lines[1], `"i":1`, `"i":9`, 1)
	require.NotEqual(t, lines[1], tampered)
	lines[1] = tampered
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	broken, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, broken)
}

func TestReopenRecoversHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(testEvent(0)))
	head := log.LastHash()

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, head, reopened.LastHash())

	require.NoError(t, reopened.Append(testEvent(1)))
	broken, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, -1, broken)
}

func TestCorruptTrailingLineAbortsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(testEvent(0)))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.Error(t, err)
}

func TestSubscriberFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	require.NoError(t, err)
	sub := NewSubscriber(log)

	require.NoError(t, sub.OnEvent(bus.NewEvent(protocol.EventToolExecFinished, nil)))
	require.NoError(t, sub.OnEvent(bus.NewEvent(protocol.EventRequestReceived, nil))) // not audited

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 1)
}
