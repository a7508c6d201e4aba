package tools

import "context"

type ctxKey int

const (
	sessionIDKey ctxKey = iota
	namespaceKey
)

// WithSessionID attaches the calling session's id to the context so tools can
// scope their side effects.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromCtx returns the session id attached by the dispatcher, or "".
func SessionIDFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(sessionIDKey).(string)
	return s
}

// WithNamespace pins the working-memory namespace tools write under
// (subagents are confined to subagent/{taskId}/).
func WithNamespace(ctx context.Context, ns string) context.Context {
	return context.WithValue(ctx, namespaceKey, ns)
}

// NamespaceFromCtx returns the pinned namespace, or "".
func NamespaceFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(namespaceKey).(string)
	return s
}
