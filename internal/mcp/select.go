package mcp

import (
	"strings"
)

// SelectServer picks the connected server best suited for a task by
// capability and keyword scoring: capability hits weigh 3, server
// description keyword hits weigh 1, and each tool whose name or
// description shares a word with the task adds 2 (once per tool).
// Returns "" when no server scores above zero.
func (r *Registry) SelectServer(taskDescription string) string {
	words := tokenize(taskDescription)
	if len(words) == 0 {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	bestName := ""
	bestScore := 0
	for _, serverName := range r.order {
		state := r.servers[serverName]
		if state == nil || !state.connected {
			continue
		}
		score := scoreServer(state, words)
		if score > bestScore {
			bestScore = score
			bestName = serverName
		}
	}
	return bestName
}

func scoreServer(state *serverState, words map[string]bool) int {
	score := 0
	for _, cap := range state.cfg.Capabilities {
		if words[strings.ToLower(cap)] {
			score += 3
		}
	}
	for _, w := range tokenizeList(state.cfg.Description) {
		if words[w] {
			score++
		}
	}
	for _, t := range state.tools {
		for _, w := range tokenizeList(t.name + " " + t.description) {
			if words[w] {
				score += 2
				break
			}
		}
	}
	return score
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range tokenizeList(s) {
		out[w] = true
	}
	return out
}

func tokenizeList(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
