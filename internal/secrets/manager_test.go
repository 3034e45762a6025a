package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSetGetRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := Open(path, testKey)
	require.NoError(t, err)

	require.NoError(t, m.Set("api_key", "sk-verysecret"))

	value, ok, err := m.Get("api_key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-verysecret", value)

	_, ok, err = m.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaintextNeverOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := Open(path, testKey)
	require.NoError(t, err)
	require.NoError(t, m.Set("api_key", "sk-verysecret"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-verysecret")
	assert.Contains(t, string(raw), "ciphertext")
	assert.Contains(t, string(raw), "nonce")
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := Open(path, testKey)
	require.NoError(t, err)
	require.NoError(t, m.Set("k", "v"))

	reopened, err := Open(path, testKey)
	require.NoError(t, err)
	value, ok, err := reopened.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestWrongKeyFailsDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := Open(path, testKey)
	require.NoError(t, err)
	require.NoError(t, m.Set("k", "v"))

	wrongKey := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	other, err := Open(path, wrongKey)
	require.NoError(t, err)
	_, _, err = other.Get("k")
	assert.Error(t, err)
}

func TestDeleteAndKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := Open(path, testKey)
	require.NoError(t, err)
	require.NoError(t, m.Set("a", "1"))
	require.NoError(t, m.Set("b", "2"))

	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())
	require.NoError(t, m.Delete("a"))
	assert.ElementsMatch(t, []string{"b"}, m.Keys())
}

func TestRejectsShortKey(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "s.json"), "abcd")
	assert.Error(t, err)
}
