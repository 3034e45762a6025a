package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// CompressionConfig tunes when and how history is compacted.
type CompressionConfig struct {
	MaxTokens        int     `json:"max_tokens"`
	TriggerThreshold float64 `json:"trigger_threshold"` // fraction of MaxTokens
	PreserveRecent   int     `json:"preserve_recent"`
	UseLLMSummary    bool    `json:"use_llm_summary"`
}

func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MaxTokens:        128_000,
		TriggerThreshold: 0.8,
		PreserveRecent:   10,
	}
}

// CompressionCapability rewrites history when the estimated token count
// crosses the trigger threshold: the system prompt (when first) and the
// last PreserveRecent entries survive; the removed span collapses into
// one summary message. A pre-compaction checkpoint line (goal, history
// length, token estimate) is appended to the memory write-back file
// first; the removed messages themselves are not written there.
type CompressionCapability struct {
	BaseCapability
	cfg       CompressionConfig
	provider  providers.Provider // nil = notice-only summaries
	writeback *MemoryWriteback   // nil = no pre-compaction checkpoint
}

func NewCompressionCapability(cfg CompressionConfig, provider providers.Provider, writeback *MemoryWriteback) *CompressionCapability {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultCompressionConfig()
	}
	return &CompressionCapability{cfg: cfg, provider: provider, writeback: writeback}
}

func (c *CompressionCapability) Name() string { return "context_compression" }

// EstimateTokens approximates tokens as chars/4.
func EstimateTokens(history []store.HistoryEntry) int {
	total := 0
	for _, entry := range history {
		total += len(entry.Content) / 4
	}
	return total
}

func (c *CompressionCapability) OnPreReasoning(ctx context.Context, session *store.Session) error {
	estimated := EstimateTokens(session.History)
	threshold := int(float64(c.cfg.MaxTokens) * c.cfg.TriggerThreshold)
	if estimated <= threshold {
		return nil
	}

	if c.writeback != nil {
		if err := c.writeback.FlushPreCompaction(session, estimated); err != nil {
			slog.Warn("pre-compaction memory flush failed", "session", session.ID, "error", err)
		}
	}

	total := len(session.History)
	preserveStart := 0
	var systemEntry *store.HistoryEntry
	if total > 0 && session.History[0].Role == "system" {
		systemEntry = &session.History[0]
		preserveStart = 1
	}

	keepFrom := total - c.cfg.PreserveRecent
	if keepFrom < preserveStart {
		keepFrom = preserveStart
	}
	old := session.History[preserveStart:keepFrom]
	if len(old) == 0 {
		return nil
	}

	summary := c.summarize(ctx, old)

	rewritten := make([]store.HistoryEntry, 0, 2+total-keepFrom)
	if systemEntry != nil {
		rewritten = append(rewritten, *systemEntry)
	}
	summaryEntry := store.HistoryEntry{
		Role:      "system",
		Content:   summary,
		Timestamp: old[len(old)-1].Timestamp,
	}
	rewritten = append(rewritten, summaryEntry)
	rewritten = append(rewritten, session.History[keepFrom:]...)

	slog.Info("history compressed",
		"session", session.ID,
		"before", total, "after", len(rewritten),
		"estimated_tokens", estimated)

	session.History = rewritten
	return nil
}

func (c *CompressionCapability) summarize(ctx context.Context, old []store.HistoryEntry) string {
	if !c.cfg.UseLLMSummary || c.provider == nil {
		return fmt.Sprintf("[Context compressed: %d earlier messages removed]", len(old))
	}

	var b strings.Builder
	for _, entry := range old {
		fmt.Fprintf(&b, "%s: %s\n", entry.Role, entry.Content)
	}
	prompt := "Summarize the following conversation history in 2-3 concise sentences, " +
		"preserving key facts, decisions, and context:\n\n" + b.String()

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.Warn("LLM summary failed, using notice", "error", err)
		return fmt.Sprintf("[Context compressed: %d earlier messages removed]", len(old))
	}
	return fmt.Sprintf("[Previous context summary: %s]", strings.TrimSpace(resp.Content))
}
