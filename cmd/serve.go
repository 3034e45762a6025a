package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sovereignclaw/internal/agent"
	"github.com/nextlevelbuilder/sovereignclaw/internal/approval"
	"github.com/nextlevelbuilder/sovereignclaw/internal/audit"
	"github.com/nextlevelbuilder/sovereignclaw/internal/budget"
	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/cache"
	"github.com/nextlevelbuilder/sovereignclaw/internal/config"
	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/gateway"
	"github.com/nextlevelbuilder/sovereignclaw/internal/mcp"
	"github.com/nextlevelbuilder/sovereignclaw/internal/netpolicy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/policy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/ratelimit"
	"github.com/nextlevelbuilder/sovereignclaw/internal/retention"
	"github.com/nextlevelbuilder/sovereignclaw/internal/sandbox"
	"github.com/nextlevelbuilder/sovereignclaw/internal/scheduler"
	"github.com/nextlevelbuilder/sovereignclaw/internal/secrets"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	pgstore "github.com/nextlevelbuilder/sovereignclaw/internal/store/pg"
	"github.com/nextlevelbuilder/sovereignclaw/internal/tools"
	"github.com/nextlevelbuilder/sovereignclaw/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent execution plane",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shCtx)
	}()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		slog.Error("create data dir failed", "dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}

	// Event bus + audit chain
	emitter := bus.NewEmitter()
	auditLog, err := audit.Open(cfg.Storage.AuditLog)
	if err != nil {
		slog.Error("audit log open failed", "path", cfg.Storage.AuditLog, "error", err)
		os.Exit(1)
	}
	emitter.Subscribe(audit.NewSubscriber(auditLog))

	// Artifact store: memory hot tier, optional redis warm, sqlite or
	// S3 cold, optional encryption wrapper.
	artifacts, cleanupArtifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		slog.Error("artifact store setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanupArtifacts()

	// Session store: Postgres in managed mode, files otherwise.
	sessions, sessionPrunable, sessionErasable, err := buildSessionStore(cfg)
	if err != nil {
		slog.Error("session store setup failed", "error", err)
		os.Exit(1)
	}

	// Policy engine + network policy
	policyEngine, err := policy.LoadDir(cfg.Policy.Dir)
	if err != nil {
		slog.Error("policy load failed", "dir", cfg.Policy.Dir, "error", err)
		os.Exit(1)
	}
	if cfg.Policy.WatchForReload {
		go func() {
			if err := policy.Watch(ctx, cfg.Policy.Dir, policyEngine); err != nil && ctx.Err() == nil {
				slog.Warn("policy watcher stopped", "error", err)
			}
		}()
	}

	netGuard := netpolicy.NewGuard(netpolicy.Default())
	if netPolicy, err := netpolicy.Load(cfg.Policy.NetworkPolicy); err == nil {
		netGuard.Replace(netPolicy)
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("network policy load failed, using deny-all default", "error", err)
	}

	// Approval gate
	gateFloor, err := core.ParseRiskLevel(cfg.Approval.GateFloor)
	if err != nil {
		slog.Error("invalid approval gate floor", "value", cfg.Approval.GateFloor)
		os.Exit(1)
	}
	gate := approval.NewGate(gateFloor, emitter)

	// Secrets: provider keys fall back to the encrypted store when the
	// environment does not supply them.
	if cfg.Storage.MasterKey != "" {
		if secretStore, err := secrets.Open("secrets.json", cfg.Storage.MasterKey); err != nil {
			slog.Warn("secrets store unavailable", "error", err)
		} else {
			fill := func(dst *string, key string) {
				if *dst != "" {
					return
				}
				if v, ok, err := secretStore.Get(key); err == nil && ok {
					*dst = v
				}
			}
			fill(&cfg.Providers.Anthropic.APIKey, "anthropic_api_key")
			fill(&cfg.Providers.OpenAI.APIKey, "openai_api_key")
			fill(&cfg.Gateway.AdminJWTSecret, "admin_jwt_secret")
		}
	}

	// Providers
	providerRegistry := providers.NewRegistry()
	if cfg.Providers.Anthropic.APIKey != "" {
		opts := []providers.AnthropicOption{providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase)}
		if cfg.Providers.Anthropic.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.Providers.Anthropic.Model))
		}
		providerRegistry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		opts := []providers.OpenAIOption{providers.WithOpenAIBaseURL(cfg.Providers.OpenAI.APIBase)}
		if cfg.Providers.OpenAI.Model != "" {
			opts = append(opts, providers.WithOpenAIModel(cfg.Providers.OpenAI.Model))
		}
		providerRegistry.Register(providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, opts...))
	}
	provider, err := providerRegistry.Resolve(cfg.Agent.Provider)
	if err != nil {
		slog.Error("no usable LLM provider", "error", err)
		os.Exit(1)
	}

	// Tools: local + MCP behind a composite.
	localTools := tools.NewLocalRegistry()
	mustRegister := func(t tools.Tool) {
		if err := localTools.Register(t); err != nil {
			slog.Error("tool registration failed", "tool", t.Name(), "error", err)
			os.Exit(1)
		}
	}
	mustRegister(tools.EchoTool{})
	mustRegister(tools.NewReadArtifactTool(artifacts))
	mustRegister(tools.NewWebFetchTool(netGuard, artifacts, emitter))

	var sandboxMgr *sandbox.Manager
	if cfg.Sandbox.Enabled {
		sbCfg := sandbox.DefaultConfig()
		sbCfg.Image = cfg.Sandbox.Image
		if cfg.Sandbox.MemoryLimitMB > 0 {
			sbCfg.MemoryLimitMB = cfg.Sandbox.MemoryLimitMB
		}
		if cfg.Sandbox.CPULimit > 0 {
			sbCfg.CPULimit = cfg.Sandbox.CPULimit
		}
		if cfg.Sandbox.PidsLimit > 0 {
			sbCfg.PidsLimit = cfg.Sandbox.PidsLimit
		}
		if cfg.Sandbox.ExecTimeout > 0 {
			sbCfg.ExecTimeout = time.Duration(cfg.Sandbox.ExecTimeout) * time.Second
		}
		sandboxMgr = sandbox.NewManager(sandbox.NewDockerEngine(), sbCfg)
		defer sandboxMgr.Shutdown(context.Background())

		mustRegister(tools.NewShellTool(sandboxMgr))
		mustRegister(tools.NewWriteFileTool(sandboxMgr, emitter))
		mustRegister(tools.NewReadFileTool(sandboxMgr, emitter))
		mustRegister(tools.NewListFilesTool(sandboxMgr))
	}

	mcpRegistry := mcp.NewRegistry()
	defer mcpRegistry.Close()
	for _, server := range cfg.MCP {
		if err := mcpRegistry.Connect(ctx, mcp.ServerConfig(server)); err != nil {
			slog.Warn("mcp server connect failed", "server", server.Name, "error", err)
		}
	}

	registry := tools.NewCompositeRegistry(localTools, mcpRegistry)

	// Capabilities, then the controller.
	writeback := agent.NewMemoryWriteback(cfg.Agent.MemoryDir)
	vectors := store.NewMemoryVectorStore()

	compressionCfg := agent.DefaultCompressionConfig()
	if cfg.Agent.CompressionTrigger > 0 {
		compressionCfg.TriggerThreshold = cfg.Agent.CompressionTrigger
	}
	if cfg.Agent.CompressionPreserve > 0 {
		compressionCfg.PreserveRecent = cfg.Agent.CompressionPreserve
	}
	compressionCfg.UseLLMSummary = true

	budgetCtl := budget.NewController(cfg.Agent.DefaultBudget)
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				budgetCtl.Cleanup()
			}
		}
	}()

	agentCfg := agent.Config{
		MaxIterations:       cfg.Agent.MaxIterations,
		DefaultBudget:       cfg.Agent.DefaultBudget,
		Temperature:         cfg.Agent.Temperature,
		MaxTokens:           cfg.Agent.MaxTokens,
		ApprovalTimeoutSecs: cfg.Approval.TimeoutSecs,
		LLMTimeout:          2 * time.Minute,
	}

	buildController := func(caps []agent.Capability) *agent.Controller {
		b := agent.NewBuilder().
			WithConfig(agentCfg).
			WithProvider(provider).
			WithModel(cfg.Agent.Model).
			WithRegistry(registry).
			WithSessions(sessions).
			WithArtifacts(artifacts).
			WithPolicy(policyEngine).
			WithApprovalGate(gate).
			WithEmitter(emitter).
			WithBudget(budgetCtl)
		for _, c := range caps {
			b.WithCapability(c)
		}
		return b.Build()
	}

	baseCaps := []agent.Capability{
		agent.NewSecurityCapability(),
		agent.NewCompressionCapability(compressionCfg, provider, writeback),
		agent.NewReflectionCapability(3),
		agent.NewPlanningCapability(provider),
		agent.NewKnowledgeCapability(vectors, providerRegistry, provider, 5),
		agent.NewMemoryWritebackCapability(writeback),
		agent.NewMcpSelectCapability(mcpRegistry),
	}
	// Children run without planning/delegation to bound recursion.
	childCaps := []agent.Capability{
		agent.NewSecurityCapability(),
		agent.NewCompressionCapability(compressionCfg, provider, writeback),
		agent.NewReflectionCapability(3),
	}
	caps := append(baseCaps, agent.NewDelegationCapability(func() *agent.Controller {
		childCfg := agentCfg
		childCfg.MaxIterations = 5
		b := agent.NewBuilder().
			WithConfig(childCfg).
			WithProvider(provider).
			WithModel(cfg.Agent.Model).
			WithRegistry(registry).
			WithSessions(sessions).
			WithArtifacts(artifacts).
			WithPolicy(policyEngine).
			WithApprovalGate(gate).
			WithEmitter(emitter).
			WithBudget(budgetCtl)
		for _, c := range childCaps {
			b.WithCapability(c)
		}
		return b.Build()
	}))
	controller := buildController(caps)

	// Scheduler, rate limiter, semantic cache, retention
	sched := scheduler.Default()

	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	if cfg.Storage.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		counter = ratelimit.NewRedisCounter(redis.NewClient(redisOpts))
	}
	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerWindow = cfg.Gateway.RateLimit
	limiter := ratelimit.NewLimiter(counter, limiterCfg)

	semCache := cache.New(providerRegistry)

	retentionCfg := retention.DefaultConfig()
	if cfg.Retention.Schedule != "" {
		retentionCfg.Schedule = cfg.Retention.Schedule
	}
	retentionCfg.MaxAge = cfg.Retention.MaxAgeDuration()
	retentionCtl, err := retention.NewController(retentionCfg, emitter)
	if err != nil {
		slog.Error("retention setup failed", "error", err)
		os.Exit(1)
	}
	if sessionPrunable != nil {
		retentionCtl.AddPrunable("sessions", sessionPrunable)
	}
	if sessionErasable != nil {
		retentionCtl.AddErasable("sessions", sessionErasable)
	}
	go retentionCtl.Run(ctx)

	server := gateway.NewServer(cfg.Gateway, controller, gate, semCache, sched, limiter, retentionCtl)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// buildArtifactStore assembles the tiered store from config.
func buildArtifactStore(ctx context.Context, cfg *config.Config) (store.ArtifactStore, func(), error) {
	hot := store.NewMemoryArtifactStore()
	tiered := store.NewTieredStore(hot)
	cleanup := func() {}

	if cfg.Storage.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		tiered.WithWarm(store.NewRedisArtifactStore(client))
	}

	if cfg.Storage.S3.Bucket != "" {
		s3Store, err := store.NewS3ArtifactStore(ctx, store.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			Prefix:       cfg.Storage.S3.Prefix,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		tiered.WithCold(s3Store)
	} else {
		sqlitePath := filepath.Join(cfg.Storage.DataDir, "artifacts.db")
		sqliteStore, err := store.NewSQLiteArtifactStore(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		tiered.WithCold(sqliteStore)
		cleanup = func() { _ = sqliteStore.Close() }
	}

	var artifacts store.ArtifactStore = tiered
	if cfg.Storage.Encrypt {
		encrypted, err := store.NewEncryptedArtifactStore(artifacts, cfg.Storage.MasterKey)
		if err != nil {
			return nil, nil, err
		}
		artifacts = encrypted
	}
	return artifacts, cleanup, nil
}

// buildSessionStore picks Postgres when a DSN is present, files
// otherwise. Returns the prune/erase views for retention.
func buildSessionStore(cfg *config.Config) (store.SessionStore, store.Prunable, store.Erasable, error) {
	if cfg.Storage.PostgresDSN != "" {
		db, err := pgstore.OpenDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		s := pgstore.NewSessionStore(db)
		slog.Info("session store: postgres")
		return s, s, s, nil
	}

	dir := filepath.Join(cfg.Storage.DataDir, "sessions")
	s, err := store.NewFileSessionStore(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("session store: files", "dir", dir)
	return s, s, s, nil
}
