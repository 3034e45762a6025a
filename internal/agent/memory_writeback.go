package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// MemoryWriteback appends deduplicated experience lines to a daily
// markdown file and merge-sorts all daily lines into MEMORY.md.
type MemoryWriteback struct {
	baseDir string
}

// DefaultMemoryDir honors SOVEREIGN_MEMORY_DIR, defaulting to .memory.
func DefaultMemoryDir() string {
	if dir := os.Getenv("SOVEREIGN_MEMORY_DIR"); dir != "" {
		return dir
	}
	return ".memory"
}

func NewMemoryWriteback(baseDir string) *MemoryWriteback {
	if baseDir == "" {
		baseDir = DefaultMemoryDir()
	}
	return &MemoryWriteback{baseDir: baseDir}
}

func sanitizeText(input string) string {
	joined := strings.Join(strings.Fields(input), " ")
	if len(joined) > 220 {
		joined = joined[:220]
	}
	return joined
}

func currentDate() string {
	return time.Now().UTC().Format("2006-01-02")
}

// appendUniqueLine appends a line to path unless it is already present;
// new files get the header first.
func appendUniqueLine(path, header, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read writeback file: %w", err)
	}
	if strings.Contains(string(existing), line) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open writeback file: %w", err)
	}
	defer f.Close()

	if len(existing) == 0 {
		if _, err := fmt.Fprintln(f, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("append line: %w", err)
	}
	return nil
}

// mergeIntoMemoryMD rebuilds MEMORY.md as the sorted union of all
// dash-lines across daily files.
func mergeIntoMemoryMD(baseDir string) error {
	seen := make(map[string]bool)
	var lines []string

	memoryPath := filepath.Join(baseDir, "MEMORY.md")
	collect := func(content string) {
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "- [") && !seen[line] {
				seen[line] = true
				lines = append(lines, line)
			}
		}
	}

	if existing, err := os.ReadFile(memoryPath); err == nil {
		collect(string(existing))
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("read memory dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || name == "MEMORY.md" {
			continue
		}
		if content, err := os.ReadFile(filepath.Join(baseDir, name)); err == nil {
			collect(string(content))
		}
	}

	sort.Strings(lines)
	var b strings.Builder
	b.WriteString("# MEMORY\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(memoryPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write MEMORY.md: %w", err)
	}
	return nil
}

func (m *MemoryWriteback) appendEntry(kind, sessionID, detail string) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	today := currentDate()
	dailyPath := filepath.Join(m.baseDir, today+".md")
	line := fmt.Sprintf("- [%s][session:%s][kind:%s] %s", today, sessionID, kind, detail)
	if err := appendUniqueLine(dailyPath, "# Memory "+today, line); err != nil {
		return err
	}
	return mergeIntoMemoryMD(m.baseDir)
}

// FlushPreCompaction records a checkpoint before history is compacted.
func (m *MemoryWriteback) FlushPreCompaction(session *store.Session, estimatedTokens int) error {
	goal := ""
	if session.TaskState != nil {
		goal = session.TaskState.Goal
	}
	detail := fmt.Sprintf("goal=%s history_len=%d est_tokens=%d",
		sanitizeText(goal), len(session.History), estimatedTokens)
	return m.appendEntry("PRE-COMPACTION", session.ID, detail)
}

// MemoryWritebackCapability archives each finished mission.
type MemoryWritebackCapability struct {
	BaseCapability
	writeback *MemoryWriteback
}

func NewMemoryWritebackCapability(writeback *MemoryWriteback) *MemoryWritebackCapability {
	return &MemoryWritebackCapability{writeback: writeback}
}

func (m *MemoryWritebackCapability) Name() string { return "memory_writeback" }

func (m *MemoryWritebackCapability) OnFinish(_ context.Context, session *store.Session, result AgentResult) error {
	goal := ""
	if session.TaskState != nil {
		goal = session.TaskState.Goal
	}
	if goal == "" {
		return nil
	}

	resultText := result.Text
	if result.Type == "error" {
		resultText = "error: " + result.Message
	}
	detail := fmt.Sprintf("goal=%s result=%s", sanitizeText(goal), sanitizeText(resultText))
	return m.writeback.appendEntry("finish", session.ID, detail)
}
