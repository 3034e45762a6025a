package agent

import (
	"context"
	"fmt"
	"regexp"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// CapabilitySecurityGuardrails is the chain name the controller looks
// up for the fast-action pre-check.
const CapabilitySecurityGuardrails = "security_guardrails"

// GuardrailResult reports one scanner's verdict.
type GuardrailResult struct {
	Passed        bool
	Reason        string
	ViolationType string
}

func guardrailPass() GuardrailResult { return GuardrailResult{Passed: true} }

func guardrailFail(reason, violationType string) GuardrailResult {
	return GuardrailResult{Passed: false, Reason: reason, ViolationType: violationType}
}

// Guardrail scans text on the way into and out of the LLM.
type Guardrail interface {
	CheckInput(input string) GuardrailResult
	CheckOutput(output string) GuardrailResult
}

// PiiScanner flags personally identifiable information by pattern.
type PiiScanner struct {
	patterns []struct {
		name string
		re   *regexp.Regexp
	}
}

func NewPiiScanner() *PiiScanner {
	mk := func(name, pattern string) struct {
		name string
		re   *regexp.Regexp
	} {
		return struct {
			name string
			re   *regexp.Regexp
		}{name, regexp.MustCompile(pattern)}
	}
	return &PiiScanner{patterns: []struct {
		name string
		re   *regexp.Regexp
	}{
		mk("email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		mk("phone_us", `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		mk("ssn", `\b\d{3}-\d{2}-\d{4}\b`),
		mk("credit_card", `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	}}
}

// Scan returns the names of detected PII categories.
func (s *PiiScanner) Scan(text string) []string {
	var found []string
	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			found = append(found, p.name)
		}
	}
	return found
}

func (s *PiiScanner) CheckInput(input string) GuardrailResult {
	if found := s.Scan(input); len(found) > 0 {
		return guardrailFail(fmt.Sprintf("PII detected: %v", found), "pii")
	}
	return guardrailPass()
}

func (s *PiiScanner) CheckOutput(output string) GuardrailResult {
	// PII leaking out is as bad as PII coming in.
	return s.CheckInput(output)
}

// InjectionDetector flags prompt-injection attempts.
type InjectionDetector struct {
	patterns []*regexp.Regexp
}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above)\s+instructions?`),
		regexp.MustCompile(`(?i)disregard\s+(all\s+|the\s+)?(previous|above)`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
		regexp.MustCompile(`(?i)pretend\s+you\s+are`),
		regexp.MustCompile(`(?i)forget\s+(everything|all)`),
		regexp.MustCompile(`(?i)system\s*:\s*`),
		regexp.MustCompile(`(?i)\[INST\]`),
		regexp.MustCompile(`(?i)<<SYS>>`),
	}}
}

func (d *InjectionDetector) Detect(text string) bool {
	for _, p := range d.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func (d *InjectionDetector) CheckInput(input string) GuardrailResult {
	if d.Detect(input) {
		return guardrailFail("potential prompt injection detected", "prompt_injection")
	}
	return guardrailPass()
}

func (d *InjectionDetector) CheckOutput(string) GuardrailResult {
	return guardrailPass()
}

// SecurityCapability runs a composable guardrail chain over the latest
// user input before each reasoning step and over the final answer.
// Violations terminate the iteration with SecurityViolation.
type SecurityCapability struct {
	BaseCapability
	guardrails []Guardrail
}

// NewSecurityCapability builds the default chain (PII + injection).
func NewSecurityCapability(guardrails ...Guardrail) *SecurityCapability {
	if len(guardrails) == 0 {
		guardrails = []Guardrail{NewPiiScanner(), NewInjectionDetector()}
	}
	return &SecurityCapability{guardrails: guardrails}
}

func (s *SecurityCapability) Name() string { return CapabilitySecurityGuardrails }

func (s *SecurityCapability) OnPreReasoning(_ context.Context, session *store.Session) error {
	// Scan the most recent user entry only; earlier entries were
	// checked on their own iterations.
	for i := len(session.History) - 1; i >= 0; i-- {
		entry := session.History[i]
		if entry.Role != "user" {
			continue
		}
		for _, g := range s.guardrails {
			if result := g.CheckInput(entry.Content); !result.Passed {
				return core.SecurityViolation("%s: %s", result.ViolationType, result.Reason)
			}
		}
		break
	}
	return nil
}

func (s *SecurityCapability) OnExecute(_ context.Context, action Action, _ *store.Session) (*AgentResult, error) {
	if action.Kind != ActionFinalAnswer {
		return nil, nil
	}
	for _, g := range s.guardrails {
		if result := g.CheckOutput(action.Text); !result.Passed {
			return nil, core.SecurityViolation("output blocked: %s: %s", result.ViolationType, result.Reason)
		}
	}
	return nil, nil
}
