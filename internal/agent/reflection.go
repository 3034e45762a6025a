package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// ReflectionCapability watches for the agent spinning: N identical
// consecutive tool calls trigger an injected CRITICAL WARNING so the
// model changes strategy.
type ReflectionCapability struct {
	BaseCapability
	threshold int
}

func NewReflectionCapability(threshold int) *ReflectionCapability {
	if threshold < 2 {
		threshold = 3
	}
	return &ReflectionCapability{threshold: threshold}
}

func (r *ReflectionCapability) Name() string { return "reflection" }

func (r *ReflectionCapability) OnPostExecute(_ context.Context, session *store.Session) error {
	calls := recentToolCalls(session.History)
	if len(calls) < r.threshold {
		return nil
	}

	last := calls[len(calls)-1]
	identical := 1
	for i := len(calls) - 2; i >= 0; i-- {
		if calls[i] != last {
			break
		}
		identical++
	}
	if identical < r.threshold {
		return nil
	}

	slog.Warn("repeated identical tool calls detected",
		"session", session.ID, "count", identical)
	session.Append("user", fmt.Sprintf(
		"CRITICAL WARNING: You have made %d identical tool calls in a row. "+
			"The repeated call is not making progress. Change your approach: "+
			"use a different tool, different arguments, or provide your FINAL ANSWER.",
		identical))
	return nil
}

// recentToolCalls renders every tool-call signature (name + canonical
// args) in history order.
func recentToolCalls(history []store.HistoryEntry) []string {
	var calls []string
	for _, entry := range history {
		if entry.ToolCall == nil {
			continue
		}
		args, _ := json.Marshal(entry.ToolCall.Arguments)
		calls = append(calls, entry.ToolCall.Name+string(args))
	}
	return calls
}
