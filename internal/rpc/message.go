package rpc

import (
	"context"

	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// messageRouter implements the message.* procedures (spec §4.11).
type messageRouter struct{ r *Router }

// TriggerStream is a mutation: starts or continues an assistant turn.
func (m *messageRouter) TriggerStream(ctx context.Context, req stream.TriggerRequest) (stream.TriggerResult, error) {
	return m.r.engine.TriggerStream(ctx, req)
}

// MessageSubscribeInput is message.subscribe's input.
type MessageSubscribeInput struct {
	SessionID  string
	ReplayLast int
}

// Subscribe is a subscription: the session's StreamEvent sequence.
func (m *messageRouter) Subscribe(ctx context.Context, in MessageSubscribeInput) (*events.Subscription, []types.Event, error) {
	return m.r.engine.Subscribe(ctx, in.SessionID, in.ReplayLast)
}
