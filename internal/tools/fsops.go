package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/sandbox"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// sandboxFile resolves the session container and a validated path.
func sandboxFile(ctx context.Context, manager *sandbox.Manager, rawPath string) (sandbox.SandboxID, string, error) {
	sessionID := SessionIDFromContext(ctx)
	if sessionID == "" {
		sessionID = "adhoc"
	}
	id, err := manager.GetOrCreate(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("acquire sandbox: %w", err)
	}
	rel, err := sandbox.ValidatePath(manager.Config().WorkspaceDir, rawPath)
	if err != nil {
		return "", "", err
	}
	return id, manager.Config().WorkspaceDir + "/" + rel, nil
}

// WriteFileTool writes a file inside the sandbox workspace.
type WriteFileTool struct {
	manager *sandbox.Manager
	emitter *bus.Emitter
}

func NewWriteFileTool(manager *sandbox.Manager, emitter *bus.Emitter) *WriteFileTool {
	return &WriteFileTool{manager: manager, emitter: emitter}
}

func (t *WriteFileTool) Name() string { return "sandbox_write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file inside the sandbox workspace. Paths are relative to /workspace."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Relative path within the workspace"},
			"content": map[string]interface{}{"type": "string", "description": "File content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return Fail("path is required"), nil
	}

	id, fullPath, err := sandboxFile(ctx, t.manager, path)
	if err != nil {
		return Fail(err.Error()), nil
	}
	if err := t.manager.Engine().WriteFile(ctx, id, fullPath, []byte(content)); err != nil {
		return nil, err
	}

	if t.emitter != nil {
		t.emitter.Emit(bus.NewEvent(protocol.EventFsWrite, map[string]any{
			"path": path, "size_bytes": len(content), "operation": "write", "success": true,
		}).WithSession(SessionIDFromContext(ctx)))
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// ReadFileTool reads a file from the sandbox workspace.
type ReadFileTool struct {
	manager *sandbox.Manager
	emitter *bus.Emitter
}

func NewReadFileTool(manager *sandbox.Manager, emitter *bus.Emitter) *ReadFileTool {
	return &ReadFileTool{manager: manager, emitter: emitter}
}

func (t *ReadFileTool) Name() string { return "sandbox_read_file" }

// Idempotent: reads may be re-issued on crash-recovery resume.
func (t *ReadFileTool) Idempotent() bool { return true }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file inside the sandbox workspace."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Relative path within the workspace"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return Fail("path is required"), nil
	}

	id, fullPath, err := sandboxFile(ctx, t.manager, path)
	if err != nil {
		return Fail(err.Error()), nil
	}
	data, err := t.manager.Engine().ReadFile(ctx, id, fullPath)
	if err != nil {
		return Fail(fmt.Sprintf("read %s: %v", path, err)), nil
	}

	if t.emitter != nil {
		t.emitter.Emit(bus.NewEvent(protocol.EventFsRead, map[string]any{
			"path": path, "size_bytes": len(data), "operation": "read", "success": true,
		}).WithSession(SessionIDFromContext(ctx)))
	}
	return Ok(string(data)), nil
}

// ListFilesTool lists a directory in the sandbox workspace.
type ListFilesTool struct {
	manager *sandbox.Manager
}

func NewListFilesTool(manager *sandbox.Manager) *ListFilesTool {
	return &ListFilesTool{manager: manager}
}

func (t *ListFilesTool) Name() string { return "sandbox_list_files" }

func (t *ListFilesTool) Idempotent() bool { return true }

func (t *ListFilesTool) Description() string {
	return "List files in a directory inside the sandbox workspace."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Relative directory path (default: workspace root)"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	id, fullPath, err := sandboxFile(ctx, t.manager, path)
	if err != nil {
		return Fail(err.Error()), nil
	}
	entries, err := t.manager.Engine().ListFiles(ctx, id, fullPath)
	if err != nil {
		return Fail(fmt.Sprintf("list %s: %v", path, err)), nil
	}

	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\n", kind, e.Name, e.Size)
	}
	if b.Len() == 0 {
		return Ok("(empty directory)"), nil
	}
	return Ok(strings.TrimSpace(b.String())), nil
}
