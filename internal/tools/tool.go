// Package tools defines the tool contract, the local and composite
// registries, and the built-in side-effect tools.
package tools

import (
	"context"

	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
)

// Tool is a named side-effectful operation with a JSON-schema parameter
// contract. Tool instances are shared read-only across requests; any
// internal mutation sits behind a lock.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Output, error)
}

// IdempotentTool marks tools whose calls may be safely re-issued on
// crash-recovery resume.
type IdempotentTool interface {
	Idempotent() bool
}

// StreamingTool marks tools that can stream partial output.
type StreamingTool interface {
	SupportsStreaming() bool
}

// Output is the unified tool result.
type Output struct {
	Success bool           `json:"success"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

func Ok(content string) *Output {
	return &Output{Success: true, Content: content}
}

func Fail(content string) *Output {
	return &Output{Success: false, Content: content}
}

// Definition builds the provider-facing description of a tool.
func Definition(t Tool) providers.ToolDefinition {
	def := providers.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
	if it, ok := t.(IdempotentTool); ok {
		def.Idempotent = it.Idempotent()
	}
	if st, ok := t.(StreamingTool); ok {
		def.SupportsStreaming = st.SupportsStreaming()
	}
	return def
}
