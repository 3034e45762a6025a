package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/approval"
	"github.com/nextlevelbuilder/sovereignclaw/internal/budget"
	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/metrics"
	"github.com/nextlevelbuilder/sovereignclaw/internal/policy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/scheduler"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/internal/tools"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// UserIntent selects the execution path.
type UserIntent struct {
	Type string `json:"type"` // protocol.IntentFastAction | protocol.IntentComplexMission

	// FastAction
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`

	// ComplexMission
	Goal           string   `json:"goal,omitempty"`
	ContextSummary string   `json:"context_summary,omitempty"`
	Refs           []string `json:"refs,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
}

// Config tunes the controller.
type Config struct {
	MaxIterations       int
	DefaultBudget       uint64
	Temperature         float64
	MaxTokens           int
	ApprovalTimeoutSecs int
	LLMTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:       10,
		DefaultBudget:       50_000,
		Temperature:         0.7,
		MaxTokens:           8192,
		ApprovalTimeoutSecs: 300,
		LLMTimeout:          2 * time.Minute,
	}
}

// Controller executes user intents through the reasoning loop. Tool
// dispatch is gated by the policy engine and the approval gate; state
// is checkpointed to the session store after every iteration.
type Controller struct {
	cfg       Config
	provider  providers.Provider
	model     string
	registry  tools.Registry
	sessions  store.SessionStore
	artifacts store.ArtifactStore
	policies  *policy.Engine
	gate      *approval.Gate
	emitter   *bus.Emitter
	budgets   *budget.Controller

	capabilities []Capability
	parser       *ActionParser

	// Per-session cancel functions for Cancel().
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewController wires the loop. Use the Builder for optional pieces.
func NewController(cfg Config, provider providers.Provider, registry tools.Registry, sessions store.SessionStore) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.DefaultBudget == 0 {
		cfg.DefaultBudget = 50_000
	}
	c := &Controller{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		sessions: sessions,
		cancels:  make(map[string]context.CancelFunc),
	}
	c.parser = NewActionParser(nil)
	if provider != nil {
		c.model = provider.DefaultModel()
	}
	return c
}

// Execute runs a user intent to completion.
func (c *Controller) Execute(ctx context.Context, intent UserIntent) (AgentResult, error) {
	switch intent.Type {
	case protocol.IntentFastAction:
		return c.executeFastAction(ctx, intent)
	case protocol.IntentComplexMission:
		return c.executeMission(ctx, intent)
	default:
		return AgentResult{}, core.InvalidRequest("unknown intent type: %s", intent.Type)
	}
}

// executeFastAction runs the security pre-check, then dispatches
// directly to the registry.
func (c *Controller) executeFastAction(ctx context.Context, intent UserIntent) (AgentResult, error) {
	if err := c.validateFastActionSecurity(ctx, intent.Args); err != nil {
		return AgentResult{}, err
	}

	slog.Info("fast path execution", "tool", intent.ToolName)

	output, err := c.registry.Execute(ctx, intent.ToolName, intent.Args)
	if err != nil {
		var notFound *core.ToolNotFoundError
		if errors.As(err, &notFound) {
			return ErrorResult("TOOL_NOT_FOUND", err.Error()), nil
		}
		return ErrorResult("TOOL_ERROR", err.Error()), nil
	}
	if !output.Success {
		return ErrorResult("TOOL_ERROR", output.Content), nil
	}
	return TextResult(output.Content), nil
}

// validateFastActionSecurity routes the raw args through the guardrail
// capability using a throwaway session.
func (c *Controller) validateFastActionSecurity(ctx context.Context, args map[string]any) error {
	for _, cap := range c.capabilities {
		if cap.Name() != CapabilitySecurityGuardrails {
			continue
		}
		temp := c.createSession("fast_action_check", "")
		argsJSON := fmt.Sprintf("%v", args)
		temp.Append("user", argsJSON)
		if err := cap.OnPreReasoning(ctx, temp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) executeMission(ctx context.Context, intent UserIntent) (AgentResult, error) {
	session := c.createSession(intent.Goal, intent.UserID)
	return c.runMission(ctx, intent, session)
}

// StartDetached launches a mission in the background and returns its
// session id immediately. The mission runs through the scheduler's
// session lane like any other.
func (c *Controller) StartDetached(intent UserIntent, sched *scheduler.Scheduler) string {
	session := c.createSession(intent.Goal, intent.UserID)
	sessionID := session.ID

	go func() {
		ctx := context.Background()
		err := sched.Run(ctx, sessionID, func(ctx context.Context) error {
			_, err := c.runMission(ctx, intent, session)
			return err
		})
		if err != nil {
			slog.Warn("detached mission failed", "session", sessionID, "error", err)
		}
	}()
	return sessionID
}

func (c *Controller) runMission(ctx context.Context, intent UserIntent, session *store.Session) (AgentResult, error) {

	ctx, cancel := context.WithCancel(ctx)
	c.trackCancel(session.ID, cancel)
	defer c.untrackCancel(session.ID)

	ctx = tools.WithSessionID(ctx, session.ID)

	for _, cap := range c.capabilities {
		if err := cap.OnStart(ctx, session); err != nil {
			return AgentResult{}, fmt.Errorf("capability %s on_start: %w", cap.Name(), err)
		}
	}

	userContext := intent.ContextSummary
	if len(intent.Refs) > 0 {
		userContext = fmt.Sprintf("%s\n\nReferences: %v", userContext, intent.Refs)
	}
	if userContext != "" {
		session.Append("user", userContext)
	}

	slog.Info("starting reasoning loop",
		"session", session.ID, "goal", intent.Goal, "max_iterations", c.cfg.MaxIterations)

	return c.runLoop(ctx, session, session.TaskState.Iteration)
}

// runLoop drives iterations until a terminal state. startIteration is
// non-zero on resume.
func (c *Controller) runLoop(ctx context.Context, session *store.Session, startIteration int) (AgentResult, error) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	for iteration := startIteration; iteration < c.cfg.MaxIterations; iteration++ {
		session.TaskState.Iteration = iteration
		metrics.Iterations.WithLabelValues("executed").Inc()

		result, err := c.executeIteration(ctx, session, iteration)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return c.pauseSession(session)
			}
			session.Status = store.StatusFailed
			session.UpdatedAt = time.Now().UTC()
			c.finalSave(ctx, session)
			return AgentResult{}, err
		}

		if result != nil {
			session.Status = store.StatusCompleted
			session.Result = result.Text
			session.UpdatedAt = time.Now().UTC()
			if err := c.finalSave(ctx, session); err != nil {
				return AgentResult{}, err
			}
			c.runFinishHooks(ctx, session, *result)
			return *result, nil
		}

		// Checkpoint: failures are logged, never fatal mid-loop.
		session.UpdatedAt = time.Now().UTC()
		c.checkpoint(ctx, session)

		if session.Usage.IsExceeded() {
			session.Status = store.StatusFailed
			c.finalSave(ctx, session)
			c.emitSession(session, protocol.EventBudgetExceeded, map[string]any{
				"used": session.Usage.TotalTokens, "limit": session.Usage.BudgetLimit,
			})
			return AgentResult{}, &core.BudgetExceededError{
				Used:  session.Usage.TotalTokens,
				Limit: session.Usage.BudgetLimit,
			}
		}
	}

	session.Status = store.StatusFailed
	session.UpdatedAt = time.Now().UTC()
	c.finalSave(ctx, session)
	return AgentResult{}, &core.MaxIterationsError{Iterations: c.cfg.MaxIterations}
}

// executeIteration runs one reason-act-observe cycle. A nil result
// means continue; a non-nil result terminates the mission.
func (c *Controller) executeIteration(ctx context.Context, session *store.Session, iteration int) (*AgentResult, error) {
	slog.Debug("iteration", "session", session.ID, "iteration", iteration, "history_len", len(session.History))

	// Hook errors abort the iteration and surface as-is (a guardrail's
	// SecurityViolation must keep its kind).
	for _, cap := range c.capabilities {
		if err := cap.OnPreReasoning(ctx, session); err != nil {
			return nil, fmt.Errorf("capability %s on_pre_reasoning: %w", cap.Name(), err)
		}
	}

	// History may have been rewritten by compression.
	messages := BuildMessages(session)

	llmCtx := ctx
	if c.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, c.cfg.LLMTimeout)
		defer cancel()
	}

	// Reserve the response ceiling against the session budget; the
	// reservation converts to usage (or releases) after the call.
	reserved := uint64(c.cfg.MaxTokens)
	if c.budgets != nil {
		if err := c.budgets.Reserve(session.ID, reserved); err != nil {
			return nil, err
		}
	}

	resp, err := c.provider.Chat(llmCtx, providers.ChatRequest{
		Messages: messages,
		Tools:    c.registry.List(),
		Model:    c.model,
		Options: map[string]any{
			providers.OptMaxTokens:   c.cfg.MaxTokens,
			providers.OptTemperature: c.cfg.Temperature,
		},
	})
	if err != nil {
		if c.budgets != nil {
			c.budgets.Release(session.ID, reserved)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ModelProvider("LLM call failed (iteration %d): %v", iteration, err)
	}

	if resp.Usage != nil {
		session.Usage.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		metrics.TokensUsed.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.TokensUsed.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))
		if c.budgets != nil {
			c.budgets.RecordUsage(session.ID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			spent := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
			if spent < reserved {
				c.budgets.Release(session.ID, reserved-spent)
			}
		}
	} else if c.budgets != nil {
		c.budgets.Release(session.ID, reserved)
	}

	session.Append("assistant", resp.Content)

	// Native tool calls from the provider take precedence over text
	// parsing; otherwise interpret the assistant text.
	var action Action
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		action = ToolCallAction(tc.Name, tc.Arguments)
	} else {
		action = c.parser.Parse(resp.Content)
	}

	switch action.Kind {
	case ActionFinalAnswer:
		// Let guardrails veto the final answer.
		for _, cap := range c.capabilities {
			result, err := cap.OnExecute(ctx, action, session)
			if err != nil {
				return nil, err
			}
			if result != nil && result.Type == "error" {
				return result, nil
			}
		}
		slog.Info("mission completed", "session", session.ID, "answer_len", len(action.Text))
		result := TextResult(action.Text)
		return &result, nil

	case ActionToolCall:
		return nil, c.handleToolCall(ctx, session, action)

	case ActionThink:
		slog.Debug("agent thinking", "session", session.ID, "thought_len", len(action.Text))
		session.Append("user", "Please take an action using a tool, or provide your FINAL ANSWER if the task is complete.")
		return nil, c.runPostExecuteHooks(ctx, session)

	default:
		// Delegate / McpSelect / custom capability actions.
		for _, cap := range c.capabilities {
			result, err := cap.OnExecute(ctx, action, session)
			if err != nil {
				return nil, err
			}
			if result != nil {
				if result.Type == "text" {
					observation := "OBSERVATION: " + result.Text
					session.Append("user", observation)
					session.TaskState.Observations = append(session.TaskState.Observations, result.Text)
				}
				return nil, c.runPostExecuteHooks(ctx, session)
			}
		}
		// No capability claimed it; nudge like a Think.
		session.Append("user", "Please take an action using a tool, or provide your FINAL ANSWER if the task is complete.")
		return nil, nil
	}
}

// handleToolCall runs policy evaluation, the approval gate, and the
// registry dispatch, then records the observation.
func (c *Controller) handleToolCall(ctx context.Context, session *store.Session, action Action) error {
	name, args := action.ToolName, action.Args

	if c.policies == nil {
		observation := c.dispatchTool(ctx, session, name, args)
		session.AppendToolCall("OBSERVATION: "+observation, &store.ToolCallInfo{
			Name: name, Arguments: args, Result: observation,
		})
		session.TaskState.Observations = append(session.TaskState.Observations, observation)
		return c.runPostExecuteHooks(ctx, session)
	}

	decision := c.policies.Evaluate(name, args)
	c.emitSession(session, protocol.EventPolicyEvaluated, bus.PolicyEvaluatedPayload{
		ToolName:      name,
		RiskLevel:     decision.RiskLevel.String(),
		RiskScore:     decision.RiskScore,
		MatchedRule:   decision.MatchedRule,
		Reason:        decision.Reason,
		PolicyVersion: decision.PolicyVersion,
	})

	if c.gate != nil && decision.RequiresApproval(c.policies.Thresholds()) {
		req := approval.NewRequest(session.ID, name, args, decision.RiskLevel, decision.Reason, c.cfg.ApprovalTimeoutSecs)
		resp, err := c.gate.RequestApproval(ctx, req)
		if err != nil {
			return core.Governance("approval gate: %v", err)
		}
		if resp.Verdict != approval.VerdictApproved {
			reason := resp.Reason
			if reason == "" {
				reason = string(resp.Verdict)
			}
			observation := fmt.Sprintf("Tool '%s' rejected: %s", name, reason)
			session.AppendToolCall("OBSERVATION: "+observation, &store.ToolCallInfo{
				Name: name, Arguments: args, Result: observation,
			})
			session.TaskState.Observations = append(session.TaskState.Observations, observation)
			session.TaskState.ConsecutiveRejections++
			slog.Warn("tool call not approved",
				"session", session.ID, "tool", name, "verdict", resp.Verdict)
			return c.runPostExecuteHooks(ctx, session)
		}
	}
	session.TaskState.ConsecutiveRejections = 0

	observation := c.dispatchTool(ctx, session, name, args)

	session.AppendToolCall("OBSERVATION: "+observation, &store.ToolCallInfo{
		Name: name, Arguments: args, Result: observation,
	})
	session.TaskState.Observations = append(session.TaskState.Observations, observation)

	return c.runPostExecuteHooks(ctx, session)
}

// dispatchTool executes through the registry and renders the
// observation text. Tool errors degrade to observations; they never
// terminate the loop. Oversized outputs are stored by reference.
func (c *Controller) dispatchTool(ctx context.Context, session *store.Session, name string, args map[string]any) string {
	slog.Info("executing tool", "session", session.ID, "tool", name)
	c.emitSession(session, protocol.EventToolExecStarted, bus.ToolExecPayload{ToolName: name, Input: args})

	start := time.Now()
	output, err := c.registry.Execute(ctx, name, args)
	durationMs := time.Since(start).Milliseconds()

	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.ToolExecutions.WithLabelValues(name, fmt.Sprintf("%t", err == nil && output != nil && output.Success)).Inc()

	var observation string
	switch {
	case err != nil:
		observation = fmt.Sprintf("Tool '%s' error: %v", name, err)
	case output.Success:
		observation = fmt.Sprintf("Tool '%s' succeeded:\n%s", name, output.Content)
	default:
		observation = fmt.Sprintf("Tool '%s' failed:\n%s", name, output.Content)
	}

	if c.artifacts != nil && len(observation) > store.LargeContentThreshold {
		if replaced, refID, storeErr := store.MaybeStoreByRef(ctx, c.artifacts, observation); storeErr == nil && refID != "" {
			observation = fmt.Sprintf("Tool '%s' output stored by reference. %s", name, replaced)
		}
	}

	payload := bus.ToolExecPayload{ToolName: name, DurationMs: durationMs}
	if err != nil {
		payload.Error = err.Error()
	} else {
		payload.Output = truncate(observation, 500)
	}
	c.emitSession(session, protocol.EventToolExecFinished, payload)

	return observation
}

// Resume continues a stored session. Terminal sessions return the
// stored result; Running sessions continue from the saved iteration.
func (c *Controller) Resume(ctx context.Context, sessionID string) (AgentResult, error) {
	session, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		return AgentResult{}, core.Storage("load session %s: %v", sessionID, err)
	}
	if session == nil {
		return AgentResult{}, core.InvalidRequest("session not found: %s", sessionID)
	}

	switch session.Status {
	case store.StatusCompleted:
		return TextResult(session.Result), nil
	case store.StatusFailed:
		return ErrorResult("SESSION_FAILED", "session previously failed"), nil
	}

	if session.TaskState == nil {
		return AgentResult{}, core.Controller("session %s has no task state", sessionID)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.trackCancel(session.ID, cancel)
	defer c.untrackCancel(session.ID)
	ctx = tools.WithSessionID(ctx, session.ID)

	// Crash-mid-tool recovery: re-issue the last tool call only when
	// the tool declares itself idempotent; otherwise record a synthetic
	// failure observation and reason onward.
	c.recoverPendingToolCall(ctx, session)

	session.Status = store.StatusRunning
	slog.Info("resuming session", "session", session.ID, "iteration", session.TaskState.Iteration)

	return c.runLoop(ctx, session, session.TaskState.Iteration)
}

func (c *Controller) recoverPendingToolCall(ctx context.Context, session *store.Session) {
	if len(session.History) == 0 {
		return
	}
	last := session.History[len(session.History)-1]
	// An assistant turn without a following observation means the
	// process died mid-tool.
	if last.Role != "assistant" {
		return
	}
	action := c.parser.Parse(last.Content)
	if action.Kind != ActionToolCall {
		return
	}

	def, ok := c.registry.Definition(action.ToolName)
	if ok && def.Idempotent {
		slog.Info("re-issuing idempotent tool call after crash",
			"session", session.ID, "tool", action.ToolName)
		observation := c.dispatchTool(ctx, session, action.ToolName, action.Args)
		session.AppendToolCall("OBSERVATION: "+observation, &store.ToolCallInfo{
			Name: action.ToolName, Arguments: action.Args, Result: observation,
		})
		session.TaskState.Observations = append(session.TaskState.Observations, observation)
		return
	}

	observation := fmt.Sprintf("Tool '%s' was interrupted by a restart; its outcome is unknown. Re-check state before retrying.", action.ToolName)
	session.AppendToolCall("OBSERVATION: "+observation, &store.ToolCallInfo{
		Name: action.ToolName, Arguments: action.Args, Result: observation,
	})
}

// Cancel pauses a running session: the in-flight suspension returns a
// cancelled error, the session is marked Paused and persisted.
func (c *Controller) Cancel(ctx context.Context, sessionID string) error {
	c.cancelMu.Lock()
	cancel, ok := c.cancels[sessionID]
	c.cancelMu.Unlock()
	if !ok {
		return core.InvalidRequest("no running session: %s", sessionID)
	}
	cancel()
	slog.Info("cancel requested", "session", sessionID)
	return nil
}

func (c *Controller) pauseSession(session *store.Session) (AgentResult, error) {
	session.Status = store.StatusPaused
	session.UpdatedAt = time.Now().UTC()
	// Persist with a fresh context: the run context is already dead.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.sessions.Save(saveCtx, session); err != nil {
		return AgentResult{}, core.Storage("save paused session: %v", err)
	}
	return ErrorResult("CANCELLED", "session paused"), nil
}

// --- internals ---

func (c *Controller) createSession(goal, userID string) *store.Session {
	session := store.NewSession(goal, c.cfg.DefaultBudget)
	session.UserID = userID
	session.Append("system", c.buildSystemPrompt(goal))
	return session
}

func (c *Controller) buildSystemPrompt(goal string) string {
	return fmt.Sprintf(`You are an AI assistant that solves tasks by reasoning and acting.

GOAL: %s

INSTRUCTIONS:
1. Think step by step about what needs to be done
2. Use tools when needed by responding with ACTION
3. After receiving tool results, continue reasoning
4. When done, provide your FINAL ANSWER

RESPONSE FORMAT:
Use exactly one of these formats in each response:

For thinking/reasoning:
THOUGHT: <your reasoning here>

For tool calls:
ACTION: <tool_name>
ARGS: <json arguments>

For final answer (when task is complete):
FINAL ANSWER: <your complete answer>

Always think before acting. Be concise and focused on the goal.`, goal)
}

// BuildMessages converts session history to provider messages,
// preserving order. Exported for capabilities that rebuild context.
func BuildMessages(session *store.Session) []providers.Message {
	messages := make([]providers.Message, 0, len(session.History))
	for _, entry := range session.History {
		messages = append(messages, providers.Message{
			Role:    entry.Role,
			Content: entry.Content,
		})
	}
	return messages
}

func (c *Controller) runPostExecuteHooks(ctx context.Context, session *store.Session) error {
	for _, cap := range c.capabilities {
		if err := cap.OnPostExecute(ctx, session); err != nil {
			return fmt.Errorf("capability %s on_post_execute: %w", cap.Name(), err)
		}
	}
	return nil
}

func (c *Controller) runFinishHooks(ctx context.Context, session *store.Session, result AgentResult) {
	for _, cap := range c.capabilities {
		if err := cap.OnFinish(ctx, session, result); err != nil {
			slog.Warn("capability on_finish failed", "capability", cap.Name(), "error", err)
		}
	}
}

// checkpoint saves mid-loop state; failures are logged, not fatal.
func (c *Controller) checkpoint(ctx context.Context, session *store.Session) {
	if err := c.sessions.Save(ctx, session); err != nil {
		slog.Warn("session checkpoint failed", "session", session.ID, "error", err)
	}
}

// finalSave persists terminal state; failure here is fatal.
func (c *Controller) finalSave(ctx context.Context, session *store.Session) error {
	if err := c.sessions.Save(ctx, session); err != nil {
		return core.Storage("final session save for %s: %v", session.ID, err)
	}
	return nil
}

func (c *Controller) trackCancel(sessionID string, cancel context.CancelFunc) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.cancels[sessionID] = cancel
}

func (c *Controller) untrackCancel(sessionID string) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	delete(c.cancels, sessionID)
}

func (c *Controller) emitSession(session *store.Session, eventType string, payload any) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(bus.NewEvent(eventType, payload).
		WithTrace(session.TraceID).
		WithSession(session.ID))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
