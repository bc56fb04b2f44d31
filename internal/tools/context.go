package tools

import "context"

type contextKey string

const (
	ownerIDKey    contextKey = "owner_id"
	threadIDKey   contextKey = "thread_id"
	toolCallIDKey contextKey = "tool_call_id"
)

// WithOwnerID adds the acting user's ID to the context. Domain tools pass
// it to their services, which enforce ownership.
func WithOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

// OwnerIDFromContext extracts the owner ID from the context. Returns ""
// if not set.
func OwnerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ownerIDKey).(string); ok {
		return id
	}
	return ""
}

// WithThreadID adds the conversation thread ID to the context.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadIDFromContext extracts the thread ID from the context.
// Returns "default" if not set.
func ThreadIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(threadIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithToolCallID adds the ID of the tool call being executed.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext extracts the tool call ID. Returns "" if not set.
func ToolCallIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(toolCallIDKey).(string); ok {
		return id
	}
	return ""
}
