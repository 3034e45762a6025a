package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
)

// EchoTool returns its message argument. Kept for wiring checks and the
// fast-action path.
type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Idempotent() bool    { return true }
func (EchoTool) Description() string { return "Echo the given message back" }

func (EchoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string", "description": "Message to echo"},
		},
		"required": []string{"message"},
	}
}

func (EchoTool) Execute(_ context.Context, args map[string]interface{}) (*Output, error) {
	message, _ := args["message"].(string)
	return Ok(message), nil
}

// ReadArtifactTool loads content previously stored by reference, the
// other half of the pass-by-reference contract.
type ReadArtifactTool struct {
	artifacts store.ArtifactStore
}

func NewReadArtifactTool(artifacts store.ArtifactStore) *ReadArtifactTool {
	return &ReadArtifactTool{artifacts: artifacts}
}

func (t *ReadArtifactTool) Name() string     { return "read_artifact" }
func (t *ReadArtifactTool) Idempotent() bool { return true }

func (t *ReadArtifactTool) Description() string {
	return "Load the content of an artifact by its RefID (used for large tool outputs stored by reference)."
}

func (t *ReadArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ref_id": map[string]interface{}{"type": "string", "description": "Artifact reference ID"},
		},
		"required": []string{"ref_id"},
	}
}

func (t *ReadArtifactTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	refID, _ := args["ref_id"].(string)
	if refID == "" {
		return Fail("ref_id is required"), nil
	}
	data, err := t.artifacts.Load(ctx, store.RefId(refID))
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", refID, err)
	}
	if data == nil {
		return Fail(fmt.Sprintf("artifact not found: %s", refID)), nil
	}
	return Ok(string(data)), nil
}
