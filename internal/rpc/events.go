package rpc

import (
	"context"
	"path"

	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// eventsRouter implements the events.* procedures (spec §4.11).
type eventsRouter struct{ r *Router }

// PatternSubscribeInput is events.subscribe's input. pattern is matched
// against each event's channel with path.Match semantics ("session:*"
// matches every session channel); the exact literal channel "*" subscribes
// to events.BroadcastChannel directly without filtering.
type PatternSubscribeInput struct {
	Pattern    string
	FromCursor *types.Cursor
}

// Subscribe is a subscription: every event whose channel matches pattern.
// A non-glob pattern is just the channel name, so this also serves as the
// single-channel case.
func (e *eventsRouter) Subscribe(ctx context.Context, in PatternSubscribeInput) (*events.Subscription, []types.Event, error) {
	if in.Pattern == events.BroadcastChannel || in.Pattern == "" {
		return e.r.bus.Subscribe(ctx, events.BroadcastChannel, in.FromCursor)
	}
	if !containsGlobMeta(in.Pattern) {
		return e.r.bus.Subscribe(ctx, in.Pattern, in.FromCursor)
	}

	sub, replay, err := e.r.bus.Subscribe(ctx, events.BroadcastChannel, in.FromCursor)
	if err != nil {
		return nil, nil, err
	}
	return filterSubscription(sub, in.Pattern), filterReplay(replay, in.Pattern), nil
}

// SubscribeToSession is a subscription: shorthand for message.subscribe,
// kept as its own procedure because spec §4.11 lists it as a distinct
// events.* entry point. It delivers the same full StreamEvent sequence as
// message.subscribe; no event types are filtered out.
func (e *eventsRouter) SubscribeToSession(ctx context.Context, sessionID string, replayLast int) (*events.Subscription, []types.Event, error) {
	return e.r.engine.Subscribe(ctx, sessionID, replayLast)
}

func containsGlobMeta(pattern string) bool {
	for _, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func filterReplay(in []types.Event, pattern string) []types.Event {
	out := make([]types.Event, 0, len(in))
	for _, ev := range in {
		if ok, _ := path.Match(pattern, ev.Channel); ok {
			out = append(out, ev)
		}
	}
	return out
}

// filterSubscription wraps sub with a goroutine that drops events whose
// channel does not match pattern, presenting the same *events.Subscription
// shape to the caller.
func filterSubscription(sub *events.Subscription, pattern string) *events.Subscription {
	out := make(chan types.Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				if matched, _ := path.Match(pattern, ev.Channel); matched {
					select {
					case out <- ev:
					case <-done:
						return
					}
				}
			case <-done:
				return
			}
		}
	}()
	return events.NewSubscription(out, func() {
		close(done)
		sub.Close()
	})
}
