// Package policy evaluates tool calls against a versioned rule set and
// assigns risk levels used by the approval gate.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
)

// PolicyFile is a versioned policy document.
type PolicyFile struct {
	Version    string     `yaml:"version" json:"version"`
	Name       string     `yaml:"name" json:"name"`
	Rules      []Rule     `yaml:"rules" json:"rules"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// Rule matches a tool call and assigns a risk level. A rule matches only
// when every present clause matches.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Match       Match  `yaml:"match_rule" json:"match_rule"`
	Action      Action `yaml:"action" json:"action"`
}

// Match holds the clauses of a rule.
type Match struct {
	Tool         string   `yaml:"tool,omitempty" json:"tool,omitempty"`
	ToolGlob     string   `yaml:"tool_glob,omitempty" json:"tool_glob,omitempty"`
	ArgsContain  []string `yaml:"args_contain,omitempty" json:"args_contain,omitempty"`
}

// Action is the consequence of a matched rule.
type Action struct {
	Risk   core.RiskLevel `yaml:"risk" json:"risk"`
	Reason string         `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Thresholds maps risk levels to scores and sets the approval cutoff.
type Thresholds struct {
	Low              uint32 `yaml:"low" json:"low"`
	Medium           uint32 `yaml:"medium" json:"medium"`
	High             uint32 `yaml:"high" json:"high"`
	Critical         uint32 `yaml:"critical" json:"critical"`
	ApprovalRequired uint32 `yaml:"approval_required" json:"approval_required"`
}

// DefaultThresholds mirrors the shipped baseline policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0, Medium: 25, High: 50, Critical: 75, ApprovalRequired: 50}
}

// Decision is the result of evaluating a tool call. Decisions are pure
// functions of (rules, tool, args).
type Decision struct {
	RiskLevel     core.RiskLevel `json:"risk_level"`
	RiskScore     uint32         `json:"risk_score"`
	MatchedRule   string         `json:"matched_rule,omitempty"`
	Reason        string         `json:"reason"`
	PolicyVersion string         `json:"policy_version"`
}

// RequiresApproval reports whether the score crosses the approval cutoff.
func (d Decision) RequiresApproval(t Thresholds) bool {
	return d.RiskScore >= t.ApprovalRequired
}

// Engine holds the merged policy. Reads take a snapshot under RLock;
// reloads go through the single writer lock.
type Engine struct {
	mu     sync.RWMutex
	policy PolicyFile
}

// NewEngine creates an engine from an in-memory policy.
func NewEngine(policy PolicyFile) *Engine {
	return &Engine{policy: policy}
}

// LoadFile reads a single YAML policy file.
func LoadFile(path string) (PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("parse policy yaml %s: %w", path, err)
	}
	return pf, nil
}

// LoadDir loads every *.yaml under dir, merged in filename order.
func LoadDir(dir string) (*Engine, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	yml, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, err
	}
	matches = append(matches, yml...)
	sort.Strings(matches)

	engine := NewEngine(PolicyFile{Version: "0", Name: "empty", Thresholds: DefaultThresholds()})
	for _, path := range matches {
		pf, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		engine.Merge(pf)
	}
	return engine, nil
}

// Evaluate scores a tool call. The highest risk among all matching rules
// wins; ties keep the earliest declared rule.
func (e *Engine) Evaluate(tool string, args map[string]any) Decision {
	e.mu.RLock()
	policy := e.policy
	e.mu.RUnlock()

	highest := core.RiskLow
	matchedRule := ""
	reason := "Default policy (no matching rules)"

	argsStr := serializeArgs(args)

	for _, rule := range policy.Rules {
		if !ruleMatches(rule, tool, argsStr) {
			continue
		}
		if rule.Action.Risk > highest || matchedRule == "" {
			highest = rule.Action.Risk
			matchedRule = rule.ID
			if rule.Action.Reason != "" {
				reason = rule.Action.Reason
			} else {
				reason = "Matched rule: " + rule.ID
			}
		}
	}

	return Decision{
		RiskLevel:     highest,
		RiskScore:     policy.Thresholds.score(highest),
		MatchedRule:   matchedRule,
		Reason:        reason,
		PolicyVersion: policy.Version,
	}
}

// Thresholds returns the current threshold snapshot.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Thresholds
}

// Version returns the current policy version.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Version
}

// Merge folds another policy into this one: rules with identical ids are
// replaced in place, new rules appended, thresholds and version
// overwritten.
func (e *Engine) Merge(other PolicyFile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range other.Rules {
		replaced := false
		for i := range e.policy.Rules {
			if e.policy.Rules[i].ID == rule.ID {
				e.policy.Rules[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			e.policy.Rules = append(e.policy.Rules, rule)
		}
	}
	e.policy.Thresholds = other.Thresholds
	e.policy.Version = other.Version
	if other.Name != "" {
		e.policy.Name = other.Name
	}
}

// Replace swaps the whole policy (used by the reload watcher).
func (e *Engine) Replace(policy PolicyFile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

func (t Thresholds) score(risk core.RiskLevel) uint32 {
	switch risk {
	case core.RiskMedium:
		return t.Medium
	case core.RiskHigh:
		return t.High
	case core.RiskCritical:
		return t.Critical
	default:
		return t.Low
	}
}

func ruleMatches(rule Rule, tool, argsStr string) bool {
	if rule.Match.Tool != "" && rule.Match.Tool != tool {
		return false
	}
	if rule.Match.ToolGlob != "" && !globMatch(rule.Match.ToolGlob, tool) {
		return false
	}
	for _, sub := range rule.Match.ArgsContain {
		if !strings.Contains(argsStr, strings.ToLower(sub)) {
			return false
		}
	}
	return true
}

// globMatch supports "*", leading "*", trailing "*", and both.
func globMatch(pattern, text string) bool {
	if pattern == "*" {
		return true
	}
	lead := strings.HasPrefix(pattern, "*")
	trail := strings.HasSuffix(pattern, "*")
	switch {
	case lead && trail:
		return strings.Contains(text, pattern[1:len(pattern)-1])
	case lead:
		return strings.HasSuffix(text, pattern[1:])
	case trail:
		return strings.HasPrefix(text, pattern[:len(pattern)-1])
	default:
		return pattern == text
	}
}

func serializeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return strings.ToLower(string(data))
}
