package tools

import "context"

type sessionIDKey struct{}
type workspaceIDKey struct{}

// WithSessionID tags the context with the executing session so sandbox
// tools can reuse the session's container.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithWorkspaceID tags the context with the tenant workspace for
// namespaced artifact access.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey{}, workspaceID)
}

func WorkspaceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceIDKey{}).(string); ok {
		return v
	}
	return ""
}
