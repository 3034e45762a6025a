package policy

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
)

func testPolicy() PolicyFile {
	return PolicyFile{
		Version: "1.0",
		Name:    "Test Policy",
		Rules: []Rule{
			{
				ID: "block-rm-rf",
				Match: Match{
					Tool:        "sandbox_shell",
					ArgsContain: []string{"rm -rf"},
				},
				Action: Action{Risk: core.RiskCritical, Reason: "Destructive command detected"},
			},
			{
				ID:     "read-ops",
				Match:  Match{ToolGlob: "*_read"},
				Action: Action{Risk: core.RiskLow, Reason: "Read-only operation"},
			},
		},
		Thresholds: DefaultThresholds(),
	}
}

func TestExactMatchAndArgs(t *testing.T) {
	engine := NewEngine(testPolicy())

	decision := engine.Evaluate("sandbox_shell", map[string]any{"command": "rm -rf /"})
	assert.Equal(t, core.RiskCritical, decision.RiskLevel)
	assert.Equal(t, "block-rm-rf", decision.MatchedRule)
	assert.Equal(t, uint32(75), decision.RiskScore)
	assert.True(t, decision.RequiresApproval(engine.Thresholds()))

	// No rm -rf in args: the rule must not match.
	decision = engine.Evaluate("sandbox_shell", map[string]any{"command": "ls"})
	assert.Equal(t, core.RiskLow, decision.RiskLevel)
	assert.Empty(t, decision.MatchedRule)
	assert.False(t, decision.RequiresApproval(engine.Thresholds()))
}

func TestArgsContainCaseInsensitive(t *testing.T) {
	engine := NewEngine(testPolicy())
	decision := engine.Evaluate("sandbox_shell", map[string]any{"command": "RM -RF /tmp"})
	assert.Equal(t, core.RiskCritical, decision.RiskLevel)
}

func TestGlobMatch(t *testing.T) {
	engine := NewEngine(testPolicy())

	decision := engine.Evaluate("fs_read", map[string]any{})
	assert.Equal(t, core.RiskLow, decision.RiskLevel)
	assert.Equal(t, "read-ops", decision.MatchedRule)
}

func TestGlobForms(t *testing.T) {
	assert.True(t, globMatch("*", "anything"))
	assert.True(t, globMatch("sandbox_*", "sandbox_shell"))
	assert.True(t, globMatch("*_read", "fs_read"))
	assert.True(t, globMatch("*box*", "sandbox_shell"))
	assert.False(t, globMatch("sandbox_*", "fs_read"))
	assert.False(t, globMatch("exact", "other"))
}

func TestHighestRiskWins(t *testing.T) {
	pf := testPolicy()
	pf.Rules = append(pf.Rules, Rule{
		ID:     "shell-medium",
		Match:  Match{Tool: "sandbox_shell"},
		Action: Action{Risk: core.RiskMedium},
	})
	engine := NewEngine(pf)

	decision := engine.Evaluate("sandbox_shell", map[string]any{"command": "rm -rf /"})
	assert.Equal(t, core.RiskCritical, decision.RiskLevel)
	assert.Equal(t, "block-rm-rf", decision.MatchedRule)
}

func TestDeterminism(t *testing.T) {
	engine := NewEngine(testPolicy())
	args := map[string]any{"command": "rm -rf /", "cwd": "/tmp"}

	first := engine.Evaluate("sandbox_shell", args)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, engine.Evaluate("sandbox_shell", args))
	}
}

func TestMerge(t *testing.T) {
	engine := NewEngine(testPolicy())
	override := PolicyFile{
		Version: "1.1",
		Name:    "Override",
		Rules: []Rule{
			{
				ID:     "read-ops", // conflicting id replaces in place
				Match:  Match{ToolGlob: "*_read"},
				Action: Action{Risk: core.RiskMedium, Reason: "Elevated read risk"},
			},
		},
		Thresholds: Thresholds{Low: 0, Medium: 10, High: 50, Critical: 75, ApprovalRequired: 50},
	}

	engine.Merge(override)

	decision := engine.Evaluate("fs_read", map[string]any{})
	assert.Equal(t, core.RiskMedium, decision.RiskLevel)
	assert.Equal(t, uint32(10), decision.RiskScore)
	assert.Equal(t, "1.1", decision.PolicyVersion)
}

func TestLoadDirMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeYAML := func(name, content string) {
		require.NoError(t, writeFile(dir+"/"+name, content))
	}
	writeYAML("10-base.yaml", `
version: "1.0"
name: base
rules:
  - id: base-rule
    match_rule:
      tool: echo
    action:
      risk: Low
thresholds: {low: 0, medium: 25, high: 50, critical: 75, approval_required: 50}
`)
	writeYAML("20-extra.yaml", `
version: "2.0"
name: extra
rules:
  - id: base-rule
    match_rule:
      tool: echo
    action:
      risk: High
      reason: escalated
thresholds: {low: 0, medium: 25, high: 60, critical: 90, approval_required: 55}
`)

	engine, err := LoadDir(dir)
	require.NoError(t, err)

	decision := engine.Evaluate("echo", nil)
	assert.Equal(t, core.RiskHigh, decision.RiskLevel)
	assert.Equal(t, uint32(60), decision.RiskScore)
	assert.Equal(t, "2.0", decision.PolicyVersion)
	assert.Equal(t, uint32(55), engine.Thresholds().ApprovalRequired)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
