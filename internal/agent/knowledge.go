package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sovereignclaw/internal/cache"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// KnowledgeCapability is long-term memory over a vector store: on
// start it retrieves the top-K experiences similar to the goal and
// injects them as context; on finish it summarizes the mission,
// embeds it, and stores it with auto-extracted tags.
type KnowledgeCapability struct {
	BaseCapability
	vectors  store.VectorStore
	embedder cache.Embedder
	provider providers.Provider
	limit    int
}

func NewKnowledgeCapability(vectors store.VectorStore, embedder cache.Embedder, provider providers.Provider, limit int) *KnowledgeCapability {
	if limit <= 0 {
		limit = 5
	}
	return &KnowledgeCapability{
		vectors:  vectors,
		embedder: embedder,
		provider: provider,
		limit:    limit,
	}
}

func (k *KnowledgeCapability) Name() string { return "knowledge" }

func (k *KnowledgeCapability) OnStart(ctx context.Context, session *store.Session) error {
	if session.TaskState == nil || session.TaskState.Goal == "" {
		return nil
	}
	goal := session.TaskState.Goal

	embedding, err := k.embedder.Embed(ctx, goal)
	if err != nil {
		slog.Warn("knowledge retrieval: embed failed", "error", err)
		return nil // degrade, don't fail the mission
	}
	memories, err := k.vectors.Search(ctx, embedding, k.limit)
	if err != nil {
		slog.Warn("knowledge retrieval: search failed", "error", err)
		return nil
	}
	if len(memories) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Here are some relevant past experiences found in long-term memory:\n\n")
	for i, mem := range memories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, mem.Content)
	}
	b.WriteString("\nUse these insights to solve the current task more effectively.")
	session.Append("system", b.String())

	slog.Info("injected memories into context", "session", session.ID, "count", len(memories))
	return nil
}

func (k *KnowledgeCapability) OnFinish(ctx context.Context, session *store.Session, result AgentResult) error {
	if session.TaskState == nil || session.TaskState.Goal == "" || result.Type != "text" {
		return nil
	}
	goal := session.TaskState.Goal

	summary, err := k.summarize(ctx, goal, result.Text)
	if err != nil {
		slog.Warn("knowledge archive: summary failed", "error", err)
		summary = fmt.Sprintf("Goal: %s\nResult: %s", goal, sanitizeText(result.Text))
	}

	embedding, err := k.embedder.Embed(ctx, summary)
	if err != nil {
		slog.Warn("knowledge archive: embed failed", "error", err)
		return nil
	}

	entry := store.MemoryEntry{
		ID:        uuid.NewString(),
		Content:   summary,
		Embedding: embedding,
		Metadata: map[string]string{
			"type":       "experience",
			"session_id": session.ID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"tags":       strings.Join(extractTags(goal), ","),
		},
	}
	if err := k.vectors.Add(ctx, entry); err != nil {
		slog.Warn("knowledge archive: store failed", "error", err)
	}
	return nil
}

func (k *KnowledgeCapability) summarize(ctx context.Context, goal, result string) (string, error) {
	if k.provider == nil {
		return "", fmt.Errorf("no provider for summarization")
	}
	prompt := fmt.Sprintf(
		"Summarize this completed task in 1-2 sentences capturing what was asked and what was achieved.\n\nGoal: %s\n\nResult: %s",
		goal, truncate(result, 2000))
	resp, err := k.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// extractTags pulls significant lowercase words from the goal.
func extractTags(goal string) []string {
	stop := map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "from": true,
		"that": true, "this": true, "into": true, "then": true, "what": true,
	}
	var tags []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(goal)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) < 4 || stop[w] || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
		if len(tags) == 8 {
			break
		}
	}
	return tags
}
