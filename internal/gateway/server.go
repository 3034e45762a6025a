// Package gateway exposes the HTTP surface consumed by the external
// gateway and the admin dashboard. The controller stays transport
// agnostic; this layer translates error kinds into stable API codes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/sovereignclaw/internal/agent"
	"github.com/nextlevelbuilder/sovereignclaw/internal/approval"
	"github.com/nextlevelbuilder/sovereignclaw/internal/cache"
	"github.com/nextlevelbuilder/sovereignclaw/internal/config"
	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/metrics"
	"github.com/nextlevelbuilder/sovereignclaw/internal/ratelimit"
	"github.com/nextlevelbuilder/sovereignclaw/internal/retention"
	"github.com/nextlevelbuilder/sovereignclaw/internal/scheduler"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// Server wires the HTTP routes to the execution plane.
type Server struct {
	cfg         config.GatewayConfig
	controller  *agent.Controller
	gate        *approval.Gate
	semCache    *cache.SemanticCache
	sched       *scheduler.Scheduler
	limiter     *ratelimit.Limiter
	retention   *retention.Controller
	idempotency *IdempotencyStore
}

func NewServer(
	cfg config.GatewayConfig,
	controller *agent.Controller,
	gate *approval.Gate,
	semCache *cache.SemanticCache,
	sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	retentionCtl *retention.Controller,
) *Server {
	return &Server{
		cfg:         cfg,
		controller:  controller,
		gate:        gate,
		semCache:    semCache,
		sched:       sched,
		limiter:     limiter,
		retention:   retentionCtl,
		idempotency: NewIdempotencyStore(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/intent", s.rateLimited(s.handleIntent))
	mux.HandleFunc("POST /v1/chat", s.rateLimited(s.handleChat))
	mux.HandleFunc("POST /v1/research", s.rateLimited(s.handleResearch))
	mux.HandleFunc("POST /admin/approvals/{nonce}", s.adminOnly(s.handleApprovalDecision))
	mux.HandleFunc("POST /admin/forget_user", s.adminOnly(s.handleForgetUser))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("gateway listening", "addr", s.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type intentRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// handleIntent classifies the message. The real classifier is an
// external collaborator; this heuristic keeps the endpoint honest:
// "tool:<name> <json args>" is a fast action, anything else a mission.
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, core.InvalidRequest("message is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": classifyIntent(req.Message, req.UserID)})
}

func classifyIntent(message, userID string) agent.UserIntent {
	if rest, ok := strings.CutPrefix(message, "tool:"); ok {
		name, argsJSON, _ := strings.Cut(strings.TrimSpace(rest), " ")
		args := map[string]any{}
		if argsJSON != "" {
			_ = json.Unmarshal([]byte(argsJSON), &args)
		}
		return agent.UserIntent{Type: protocol.IntentFastAction, ToolName: name, Args: args, UserID: userID}
	}
	return agent.UserIntent{
		Type:           protocol.IntentComplexMission,
		Goal:           message,
		ContextSummary: message,
		UserID:         userID,
	}
}

type chatRequest struct {
	Message string            `json:"message,omitempty"`
	Intent  *agent.UserIntent `json:"intent,omitempty"`
	UserID  string            `json:"user_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, core.InvalidRequest("read body: %v", err))
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	requestHash := HashPayload(body)
	if idemKey != "" {
		switch lookup, record := s.idempotency.Check(protocol.IdempotencyScopeChat, idemKey, requestHash); lookup {
		case IdempotencyReplay:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.Status)
			w.Write(record.Body)
			return
		case IdempotencyConflict:
			writeJSON(w, http.StatusConflict, apiError(protocol.APIConflict, "idempotency key reused with a different request", false))
			return
		}
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, core.InvalidRequest("parse body: %v", err))
		return
	}

	intent := req.Intent
	if intent == nil {
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, core.InvalidRequest("message or intent is required"))
			return
		}
		classified := classifyIntent(req.Message, req.UserID)
		intent = &classified
	}

	// Semantic cache fronts missions keyed on the goal.
	cacheKey := intent.Goal
	if s.semCache != nil && cacheKey != "" {
		if cached, ok := s.semCache.Get(r.Context(), cacheKey); ok {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			s.respondChat(w, idemKey, requestHash, http.StatusOK, map[string]any{
				"result": map[string]any{"type": protocol.ResultText, "payload": cached, "cached": true},
			})
			return
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	var result agent.AgentResult
	var execErr error
	schedErr := s.sched.Run(r.Context(), "", func(ctx context.Context) error {
		result, execErr = s.controller.Execute(ctx, *intent)
		return nil
	})
	if schedErr != nil {
		writeError(w, schedErr)
		return
	}
	if execErr != nil {
		writeError(w, execErr)
		return
	}

	if s.semCache != nil && cacheKey != "" && result.Type == protocol.ResultText {
		s.semCache.Set(r.Context(), cacheKey, result.Text)
	}

	s.respondChat(w, idemKey, requestHash, http.StatusOK, map[string]any{
		"result": map[string]any{"type": result.Type, "payload": result},
	})
}

func (s *Server) respondChat(w http.ResponseWriter, idemKey, requestHash string, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, core.Internal("marshal response: %v", err))
		return
	}
	if idemKey != "" {
		s.idempotency.Store(protocol.IdempotencyScopeChat, idemKey, requestHash, status, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

type researchRequest struct {
	Goal    string `json:"goal"`
	Context string `json:"context,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// handleResearch launches a mission in the background and returns the
// report (session) id immediately.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		writeError(w, core.InvalidRequest("goal is required"))
		return
	}

	reportID := s.controller.StartDetached(agent.UserIntent{
		Type:           protocol.IntentComplexMission,
		Goal:           req.Goal,
		ContextSummary: req.Context,
		UserID:         req.UserID,
	}, s.sched)
	writeJSON(w, http.StatusAccepted, map[string]string{"report_id": reportID})
}

type approvalDecisionRequest struct {
	Approve    bool   `json:"approve"`
	ApproverID string `json:"approver_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	nonce := r.PathValue("nonce")
	var req approvalDecisionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.gate.SubmitDecision(nonce, req.Approve, req.ApproverID, req.Reason); err != nil {
		writeJSON(w, http.StatusConflict, apiError(protocol.APIConflict, err.Error(), false))
		return
	}
	verdict := "rejected"
	if req.Approve {
		verdict = "approved"
	}
	metrics.Approvals.WithLabelValues(verdict).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type forgetUserRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleForgetUser(w http.ResponseWriter, r *http.Request) {
	var req forgetUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, core.InvalidRequest("user_id is required"))
		return
	}
	report := s.retention.ForgetUser(r.Context(), req.UserID)
	writeJSON(w, http.StatusOK, report)
}

// --- middleware ---

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			principal := r.Header.Get("X-Principal")
			if principal == "" {
				principal = r.RemoteAddr
			}
			ok, err := s.limiter.Allow(r.Context(), principal)
			if err != nil {
				slog.Warn("rate limiter backend error", "error", err)
			} else if !ok {
				writeJSON(w, http.StatusTooManyRequests,
					apiError(protocol.APIForbidden, "rate limit exceeded", true))
				return
			}
		}
		next(w, r)
	}
}

// adminOnly enforces the Bearer token. Role checks beyond token
// validity belong to the external RBAC adapter.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, apiError(protocol.APIUnauthorized, "missing bearer token", false))
			return
		}
		if s.cfg.AdminJWTSecret == "" {
			writeJSON(w, http.StatusForbidden, apiError(protocol.APIForbidden, "admin access is not configured", false))
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.AdminJWTSecret), nil
		})
		if err != nil {
			writeJSON(w, http.StatusForbidden, apiError(protocol.APIForbidden, "invalid token", false))
			return
		}
		next(w, r)
	}
}

// --- helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, core.InvalidRequest("parse body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func apiError(code, message string, retryable bool) map[string]any {
	return map[string]any{
		"error": map[string]any{"code": code, "message": message, "retryable": retryable},
	}
}

// writeError maps internal error kinds onto stable API codes. Messages
// never include secret material: they carry only what the error type
// itself exposes.
func writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	status := http.StatusInternalServerError
	apiCode := protocol.APIInternal
	retryable := false

	switch code {
	case core.CodeInvalidRequest:
		status, apiCode = http.StatusBadRequest, protocol.APIInvalidRequest
	case core.CodeRoutingFailed:
		status, apiCode = http.StatusBadGateway, protocol.APIRoutingFailed
		retryable = true
	case core.CodeController, core.CodeMaxIterations, core.CodeBudgetExceeded:
		status, apiCode = http.StatusUnprocessableEntity, protocol.APIController
	case core.CodeSecurity:
		status, apiCode = http.StatusForbidden, protocol.APIForbidden
	case core.CodeToolNotFound:
		status, apiCode = http.StatusNotFound, protocol.APIInvalidRequest
	case core.CodeTimeout, core.CodeModelProvider, core.CodeAllProvidersDown, core.CodeStorage:
		retryable = true
	}

	var ce *core.Error
	if errors.As(err, &ce) {
		retryable = retryable || ce.Retryable()
	}
	writeJSON(w, status, apiError(apiCode, err.Error(), retryable))
}
