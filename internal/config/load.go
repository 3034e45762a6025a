package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "config.json"

// Load reads the JSON5 config file and overlays environment variables.
// A missing file yields a default config (env-only operation).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SOVEREIGN_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SOVEREIGN_ENV", &c.Env)
	envStr("MULTIAGENT_ENV", &c.Env)
	envStr("SOVEREIGN_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("SOVEREIGN_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("SOVEREIGN_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("SOVEREIGN_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)
	envStr("SOVEREIGN_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("REDIS_URL", &c.Storage.RedisURL)
	envStr("SOVEREIGN_MASTER_KEY", &c.Storage.MasterKey)
	envStr("SOVEREIGN_ADMIN_JWT_SECRET", &c.Gateway.AdminJWTSecret)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
}

func (c *Config) applyDefaults() {
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = ":8420"
	}
	if c.Gateway.RateLimit <= 0 {
		c.Gateway.RateLimit = 120
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = ".sovereign_claw"
	}
	if c.Storage.AuditLog == "" {
		c.Storage.AuditLog = "audit.jsonl"
	}
	if c.Policy.Dir == "" {
		c.Policy.Dir = ".sovereign_claw/policies"
	}
	if c.Policy.NetworkPolicy == "" {
		c.Policy.NetworkPolicy = "network_policy.yaml"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.DefaultBudget == 0 {
		c.Agent.DefaultBudget = 50_000
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.7
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 8192
	}
	if c.Approval.GateFloor == "" {
		c.Approval.GateFloor = "High"
	}
	if c.Approval.TimeoutSecs <= 0 {
		c.Approval.TimeoutSecs = 300
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "python:3.12-slim"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "sovereignclaw"
	}
}
