// Package config holds the root configuration for the execution plane.
// The file format is JSON5 (comments and trailing commas allowed);
// secrets are never read from or written to this file: they come from
// the environment, and serve falls back to the encrypted secrets store
// (secrets.json) for provider keys and the admin JWT secret.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Env       string          `json:"env,omitempty"` // "development" (default) or "production"
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	Policy    PolicyConfig    `json:"policy"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Approval  ApprovalConfig  `json:"approval"`
	Retention RetentionConfig `json:"retention,omitempty"`
	MCP       []MCPServer     `json:"mcp_servers,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	Provider            string  `json:"provider,omitempty"` // default: first configured
	Model               string  `json:"model,omitempty"`
	MaxIterations       int     `json:"max_iterations,omitempty"`
	DefaultBudget       uint64  `json:"default_budget,omitempty"`
	Temperature         float64 `json:"temperature,omitempty"`
	MaxTokens           int     `json:"max_tokens,omitempty"`
	CompressionTrigger  float64 `json:"compression_trigger,omitempty"`
	CompressionPreserve int     `json:"compression_preserve,omitempty"`
	MemoryDir           string  `json:"memory_dir,omitempty"`
}

// ProvidersConfig holds per-provider settings. API keys are not read
// from the config file: they come from env (SOVEREIGN_ANTHROPIC_API_KEY,
// SOVEREIGN_OPENAI_API_KEY), else from the encrypted secrets store.
type ProvidersConfig struct {
	Anthropic ProviderSpec `json:"anthropic,omitempty"`
	OpenAI    ProviderSpec `json:"openai,omitempty"`
}

type ProviderSpec struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Listen         string   `json:"listen,omitempty"` // default ":8420"
	AdminJWTSecret string   `json:"-"`                // env SOVEREIGN_ADMIN_JWT_SECRET
	CORSOrigins    []string `json:"cors_origins,omitempty"`
	OIDCIssuer     string   `json:"oidc_issuer,omitempty"`
	RateLimit      int      `json:"rate_limit,omitempty"` // requests per minute per principal
}

// StorageConfig selects artifact tiers and the session backend.
type StorageConfig struct {
	DataDir     string   `json:"data_dir,omitempty"` // default ".sovereign_claw"
	PostgresDSN string   `json:"-"`                  // env SOVEREIGN_POSTGRES_DSN
	RedisURL    string   `json:"-"`                  // env REDIS_URL
	MasterKey   string   `json:"-"`                  // env SOVEREIGN_MASTER_KEY (64 hex chars)
	Encrypt     bool     `json:"encrypt,omitempty"`
	S3          S3Spec   `json:"s3,omitempty"`
	AuditLog    string   `json:"audit_log,omitempty"` // default "audit.jsonl"
}

type S3Spec struct {
	Bucket       string `json:"bucket,omitempty"`
	Region       string `json:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
}

// PolicyConfig locates the rule files.
type PolicyConfig struct {
	Dir            string `json:"dir,omitempty"`          // default ".sovereign_claw/policies"
	NetworkPolicy  string `json:"network_policy,omitempty"` // default "network_policy.yaml"
	WatchForReload bool   `json:"watch_for_reload,omitempty"`
}

// SandboxConfig caps isolated execution.
type SandboxConfig struct {
	Enabled       bool    `json:"enabled,omitempty"`
	Image         string  `json:"image,omitempty"`
	MemoryLimitMB int     `json:"memory_limit_mb,omitempty"`
	CPULimit      float64 `json:"cpu_limit,omitempty"`
	PidsLimit     int     `json:"pids_limit,omitempty"`
	ExecTimeout   int     `json:"exec_timeout_secs,omitempty"`
}

// ApprovalConfig tunes the HITL gate.
type ApprovalConfig struct {
	GateFloor   string `json:"gate_floor,omitempty"` // minimum risk requiring a human; default "High"
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

// RetentionConfig tunes pruning.
type RetentionConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron; default hourly
	MaxAge   string `json:"max_age,omitempty"`  // duration; default "720h"
}

// MaxAgeDuration parses MaxAge with a 30-day default.
func (r RetentionConfig) MaxAgeDuration() time.Duration {
	if r.MaxAge == "" {
		return 30 * 24 * time.Hour
	}
	d, err := time.ParseDuration(r.MaxAge)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// MCPServer configures one MCP server connection.
type MCPServer struct {
	Name         string            `json:"name"`
	Transport    string            `json:"transport"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	URL          string            `json:"url,omitempty"`
	TimeoutSec   int               `json:"timeout_sec,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"-"` // env OTEL_EXPORTER_OTLP_ENDPOINT
	ServiceName  string `json:"service_name,omitempty"`
}

// IsProduction reports whether the secure-default checks apply.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Validate enforces secure defaults. In production a wildcard CORS
// origin or a missing OIDC issuer is a startup failure (non-zero exit).
func (c *Config) Validate() error {
	if c.IsProduction() {
		for _, origin := range c.Gateway.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("wildcard CORS origin is not allowed in production")
			}
		}
		if c.Gateway.OIDCIssuer == "" {
			return fmt.Errorf("an OIDC issuer is required in production")
		}
	}
	if c.Storage.Encrypt && c.Storage.MasterKey == "" {
		return fmt.Errorf("storage encryption enabled but SOVEREIGN_MASTER_KEY is not set")
	}
	return nil
}
