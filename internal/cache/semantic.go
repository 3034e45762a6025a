// Package cache memoizes request→response pairs with exact-match and
// cosine-similarity lookup over query embeddings.
package cache

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// Embedder produces a vector for a query. The provider registry
// satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type entry struct {
	response  string
	embedding []float32
	createdAt time.Time
	ttl       time.Duration
	hitCount  uint64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// SemanticCache stores normalized-query keyed entries.
type SemanticCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	embedder   Embedder
	threshold  float32
	defaultTTL time.Duration
}

func New(embedder Embedder) *SemanticCache {
	return &SemanticCache{
		entries:    make(map[string]*entry),
		embedder:   embedder,
		threshold:  0.90,
		defaultTTL: time.Hour,
	}
}

// WithThreshold sets the minimum cosine similarity for fuzzy hits.
func (c *SemanticCache) WithThreshold(threshold float32) *SemanticCache {
	c.threshold = float32(math.Max(0, math.Min(1, float64(threshold))))
	return c
}

// WithTTL sets the default entry lifetime.
func (c *SemanticCache) WithTTL(ttl time.Duration) *SemanticCache {
	c.defaultTTL = ttl
	return c
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get probes exact matches first; on miss it embeds the query and
// returns the entry with the maximum similarity among non-expired
// entries, provided that maximum meets the threshold.
func (c *SemanticCache) Get(ctx context.Context, query string) (string, bool) {
	normalized := normalizeQuery(query)
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[normalized]; ok && !e.expired(now) {
		e.hitCount++
		c.mu.Unlock()
		slog.Debug("semantic cache exact hit", "query_len", len(query))
		return e.response, true
	}
	c.mu.Unlock()

	if c.embedder == nil {
		return "", false
	}
	queryEmb, err := c.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("semantic cache embed failed", "error", err)
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *entry
	var bestSim float32 = -1
	for _, e := range c.entries {
		if e.expired(now) || e.embedding == nil {
			continue
		}
		if sim := cosineSimilarity(queryEmb, e.embedding); sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	if best != nil && bestSim >= c.threshold {
		best.hitCount++
		slog.Debug("semantic cache fuzzy hit", "similarity", bestSim)
		return best.response, true
	}
	return "", false
}

// Set stores a response under the normalized query, embedding it when an
// embedder is available.
func (c *SemanticCache) Set(ctx context.Context, query, response string) {
	var emb []float32
	if c.embedder != nil {
		var err error
		emb, err = c.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("semantic cache embed on set failed", "error", err)
			emb = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeQuery(query)] = &entry{
		response:  response,
		embedding: emb,
		createdAt: time.Now(),
		ttl:       c.defaultTTL,
	}
}

// Invalidate removes entries whose key contains the lowercased pattern.
func (c *SemanticCache) Invalidate(pattern string) int {
	pattern = strings.ToLower(pattern)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Cleanup drops expired entries.
func (c *SemanticCache) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}

// Stats reports entry and hit counts.
func (c *SemanticCache) Stats() (entries int, hits uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		hits += e.hitCount
	}
	return len(c.entries), hits
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
