package ai

import (
	"context"

	"github.com/spaquet/listopia-sub005/internal/service/catalog"
)

// Tool invocations run deep inside the agent graph, far from the HTTP
// handler that knows who is asking. The session and the trace recorder
// travel through the context instead of through tool arguments, so the
// model can never speak for another user.

type toolSessionKey struct{}

// ToolSession identifies the turn a tool call executes under.
type ToolSession struct {
	UserID         int64
	ConversationID int64
	FocusListID    int64
}

func WithToolSession(ctx context.Context, sess ToolSession) context.Context {
	return context.WithValue(ctx, toolSessionKey{}, sess)
}

func toolSessionFromContext(ctx context.Context) (ToolSession, bool) {
	sess, ok := ctx.Value(toolSessionKey{}).(ToolSession)
	return sess, ok && sess.UserID > 0
}

// ToolRecorder receives one trace entry per executed tool call, before the
// model sees the result.
type ToolRecorder interface {
	RecordToolCall(ctx context.Context, sess ToolSession, toolName, callID string, result catalog.Result)
}

type toolRecorderKey struct{}

func WithToolRecorder(ctx context.Context, rec ToolRecorder) context.Context {
	return context.WithValue(ctx, toolRecorderKey{}, rec)
}

func recorderFromContext(ctx context.Context) (ToolRecorder, bool) {
	rec, ok := ctx.Value(toolRecorderKey{}).(ToolRecorder)
	return rec, ok && rec != nil
}

func (s ToolSession) catalogSession() catalog.Session {
	return catalog.Session{
		UserID:         s.UserID,
		ConversationID: s.ConversationID,
		FocusListID:    s.FocusListID,
	}
}
