// Package metrics exposes the execution plane's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Iterations counts reasoning iterations; the loop records each one
	// under outcome="executed".
	Iterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sovereignclaw",
		Name:      "iterations_total",
		Help:      "Reasoning loop iterations executed.",
	}, []string{"outcome"})

	// ToolExecutions counts tool dispatches.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sovereignclaw",
		Name:      "tool_executions_total",
		Help:      "Tool executions by tool name and success.",
	}, []string{"tool", "success"})

	// ToolDuration observes tool latency.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sovereignclaw",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// Approvals counts approval gate outcomes.
	Approvals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sovereignclaw",
		Name:      "approvals_total",
		Help:      "Approval gate decisions.",
	}, []string{"verdict"})

	// CacheHits counts semantic cache outcomes.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sovereignclaw",
		Name:      "semantic_cache_requests_total",
		Help:      "Semantic cache lookups by outcome.",
	}, []string{"outcome"})

	// TokensUsed accumulates token consumption.
	TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sovereignclaw",
		Name:      "tokens_total",
		Help:      "Tokens consumed by kind.",
	}, []string{"kind"})

	// SessionsActive gauges running sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sovereignclaw",
		Name:      "sessions_active",
		Help:      "Sessions currently running.",
	})
)
