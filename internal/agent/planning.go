package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// StepStatus tracks a plan step's lifecycle.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// PlanStep is one numbered step of a generated plan.
type PlanStep struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// PlanningCapability asks the LLM for a numbered plan at mission start,
// attaches it as context, and reminds the agent of the current step
// before each reasoning turn. Internal state is per-session behind a
// lock since capabilities are shared across requests.
type PlanningCapability struct {
	BaseCapability
	provider providers.Provider

	mu    sync.Mutex
	plans map[string][]PlanStep // session id → plan
}

func NewPlanningCapability(provider providers.Provider) *PlanningCapability {
	return &PlanningCapability{
		provider: provider,
		plans:    make(map[string][]PlanStep),
	}
}

func (p *PlanningCapability) Name() string { return "planning" }

func (p *PlanningCapability) OnStart(ctx context.Context, session *store.Session) error {
	if session.TaskState == nil || session.TaskState.Goal == "" || p.provider == nil {
		return nil
	}
	goal := session.TaskState.Goal

	prompt := fmt.Sprintf(
		"You are an expert planner. Break down the following goal into a clear, numbered list of steps.\n"+
			"Goal: %s\n"+
			"Return ONLY the numbered list, nothing else. Example:\n"+
			"1. Research the topic\n2. Write the code\n3. Test the solution", goal)

	resp, err := p.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.Warn("plan generation failed", "session", session.ID, "error", err)
		return nil // a mission without a plan still runs
	}

	steps := parsePlan(resp.Content)
	if len(steps) == 0 {
		steps = []PlanStep{{ID: 1, Description: "Execute goal: " + goal, Status: StepPending}}
	}

	p.mu.Lock()
	p.plans[session.ID] = steps
	p.mu.Unlock()

	var b strings.Builder
	b.WriteString("EXECUTION PLAN:\n")
	for _, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", step.ID, step.Description)
	}
	b.WriteString("Work through the plan step by step.")
	session.Append("system", b.String())

	slog.Info("plan generated", "session", session.ID, "steps", len(steps))
	return nil
}

func (p *PlanningCapability) OnPreReasoning(_ context.Context, session *store.Session) error {
	p.mu.Lock()
	steps, ok := p.plans[session.ID]
	p.mu.Unlock()
	if !ok || session.TaskState == nil {
		return nil
	}

	// Advance the pointer roughly with iterations and remind.
	current := session.TaskState.Iteration
	if current >= len(steps) {
		current = len(steps) - 1
	}
	session.Append("system", fmt.Sprintf(
		"Plan reminder - current step (%d of %d): %s",
		current+1, len(steps), steps[current].Description))
	return nil
}

func (p *PlanningCapability) OnFinish(_ context.Context, session *store.Session, _ AgentResult) error {
	p.mu.Lock()
	delete(p.plans, session.ID)
	p.mu.Unlock()
	return nil
}

func parsePlan(response string) []PlanStep {
	var steps []PlanStep
	id := 0
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		description := line
		if _, rest, ok := strings.Cut(line, "."); ok {
			if trimmed := strings.TrimSpace(rest); trimmed != "" {
				description = trimmed
			}
		}
		id++
		steps = append(steps, PlanStep{ID: id, Description: description, Status: StepPending})
	}
	return steps
}
