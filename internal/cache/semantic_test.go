package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubEmbedder maps known strings to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestExactMatch(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	c.Set(ctx, "What is Rust?", "A language")
	got, ok := c.Get(ctx, "What is Rust?")
	assert.True(t, ok)
	assert.Equal(t, "A language", got)
}

func TestNormalization(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	c.Set(ctx, "What   IS  Rust?", "A language")
	got, ok := c.Get(ctx, "what is rust?")
	assert.True(t, ok)
	assert.Equal(t, "A language", got)
}

func TestFuzzyHitAboveThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"tell me about golang": {1, 0, 0},
		"describe golang":      {0.99, 0.14, 0}, // cosine ≈ 0.99 with the stored vector
	}}
	c := New(emb).WithThreshold(0.9)
	ctx := context.Background()

	c.Set(ctx, "tell me about golang", "Go is a language")
	got, ok := c.Get(ctx, "describe golang")
	assert.True(t, ok)
	assert.Equal(t, "Go is a language", got)
}

func TestFuzzyMissBelowThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"tell me about golang": {1, 0, 0},
		"weather in paris":     {0, 1, 0},
	}}
	c := New(emb).WithThreshold(0.9)
	ctx := context.Background()

	c.Set(ctx, "tell me about golang", "Go is a language")
	_, ok := c.Get(ctx, "weather in paris")
	assert.False(t, ok)
}

// The contract: return the maximum-similarity entry only when that
// maximum clears the threshold, never a lower-scoring entry that does.
func TestBestMatchIsMaximum(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"query a": {1, 0, 0},
		"query b": {0.95, 0.31, 0},
		"probe":   {1, 0, 0},
	}}
	c := New(emb).WithThreshold(0.9)
	ctx := context.Background()

	c.Set(ctx, "query b", "answer b")
	c.Set(ctx, "query a", "answer a")

	got, ok := c.Get(ctx, "probe")
	assert.True(t, ok)
	assert.Equal(t, "answer a", got)
}

func TestInvalidatePattern(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	c.Set(ctx, "Weather in Paris", "rainy")
	c.Set(ctx, "Weather in Rome", "sunny")
	c.Set(ctx, "Population of Rome", "2.8M")

	removed := c.Invalidate("weather")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, "Weather in Paris")
	assert.False(t, ok)
	got, ok := c.Get(ctx, "Population of Rome")
	assert.True(t, ok)
	assert.Equal(t, "2.8M", got)
}

func TestExpiry(t *testing.T) {
	c := New(nil).WithTTL(time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, "ephemeral", "gone soon")
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, "ephemeral")
	assert.False(t, ok)

	c.Cleanup()
	entries, _ := c.Stats()
	assert.Zero(t, entries)
}

func TestHitCountsMonotonic(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	c.Set(ctx, "q", "a")

	for i := 0; i < 3; i++ {
		c.Get(ctx, "q")
	}
	_, hits := c.Stats()
	assert.Equal(t, uint64(3), hits)
}
