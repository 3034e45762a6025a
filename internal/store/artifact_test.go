package store

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	tiered := NewTieredStore(NewMemoryArtifactStore())

	data := []byte("Hello, World!")
	id, err := tiered.Save(ctx, data)
	require.NoError(t, err)

	loaded, err := tiered.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	ok, err := tiered.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tiered.Delete(ctx, id))
	ok, err = tiered.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredPlacementBySize(t *testing.T) {
	ctx := context.Background()
	hot := NewMemoryArtifactStore()
	cold := NewMemoryArtifactStore()
	tiered := NewTieredStore(hot).WithCold(cold).WithHotThreshold(10)

	smallID, err := tiered.Save(ctx, []byte("tiny"))
	require.NoError(t, err)
	onHot, _ := hot.Exists(ctx, smallID)
	assert.True(t, onHot)

	bigID, err := tiered.Save(ctx, bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)
	onCold, _ := cold.Exists(ctx, bigID)
	assert.True(t, onCold)

	// Load probes hot then cold and finds both.
	for _, id := range []RefId{smallID, bigID} {
		data, err := tiered.Load(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, data)
	}
}

func TestDeleteIgnoresTierMisses(t *testing.T) {
	ctx := context.Background()
	tiered := NewTieredStore(NewMemoryArtifactStore()).WithCold(NewMemoryArtifactStore())
	assert.NoError(t, tiered.Delete(ctx, RefId("never-existed")))
}

func TestPassByReferenceLaw(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	small := strings.Repeat("a", LargeContentThreshold)
	content, refID, err := MaybeStoreByRef(ctx, s, small)
	require.NoError(t, err)
	assert.Equal(t, small, content)
	assert.Empty(t, refID)

	large := strings.Repeat("b", LargeContentThreshold+1)
	content, refID, err = MaybeStoreByRef(ctx, s, large)
	require.NoError(t, err)
	require.NotEmpty(t, refID)
	assert.Contains(t, content, "RefID: "+string(refID))

	loaded, err := s.Load(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, large, string(loaded))
}

func TestNamespacingIsolation(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryArtifactStore()
	alice := NewNamespacedArtifactStore(inner, "alice")
	bob := NewNamespacedArtifactStore(inner, "bob")

	id, err := alice.Save(ctx, []byte("alice's secret"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(id), "alice/"))

	// Alice sees her artifact.
	data, err := alice.Load(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, data)

	// Bob cannot observe or delete it, even knowing the full id.
	data, err = bob.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, data)

	ok, err := bob.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	meta, err := bob.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, meta)

	require.NoError(t, bob.Delete(ctx, id))
	stillThere, err := alice.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, stillThere)
}

func TestEncryptedRoundtrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryArtifactStore()
	key := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	enc, err := NewEncryptedArtifactStore(inner, key)
	require.NoError(t, err)

	data := []byte("SECRET DATA")
	id, err := enc.Save(ctx, data)
	require.NoError(t, err)

	// Via the encrypted store: plaintext.
	loaded, err := enc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	// Via the raw store: ciphertext with nonce + tag overhead.
	raw, err := inner.Load(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, data, raw)
	assert.Greater(t, len(raw), len(data))
}

func TestEncryptedRejectsBadKey(t *testing.T) {
	_, err := NewEncryptedArtifactStore(NewMemoryArtifactStore(), "deadbeef")
	assert.Error(t, err)
	_, err = NewEncryptedArtifactStore(NewMemoryArtifactStore(), "not hex at all")
	assert.Error(t, err)
}

func TestSQLiteArtifactStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteArtifactStore(t.TempDir() + "/artifacts.db")
	require.NoError(t, err)
	defer s.Close()

	id, err := s.SaveWithType(ctx, []byte("cold data"), "text/plain")
	require.NoError(t, err)

	data, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cold data", string(data))

	meta, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 9, meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, TierCold, meta.Tier)

	missing, err := s.Load(ctx, RefId("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.Delete(ctx, id))
	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectorStoreSearchOrdering(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVectorStore()
	require.NoError(t, v.Add(ctx, MemoryEntry{ID: "a", Content: "far", Embedding: []float32{0, 1}}))
	require.NoError(t, v.Add(ctx, MemoryEntry{ID: "b", Content: "near", Embedding: []float32{1, 0.01}}))

	results, err := v.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}
