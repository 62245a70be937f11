// Package events implements the Event Bus (spec L2): an in-memory,
// per-channel fan-out with a bounded replay buffer, composed with the
// durable internal/eventlog for cursor-based and history-based replay.
//
// The in-memory fan-out is built on watermill's gochannel infrastructure,
// following the same dual structure the teacher's internal/event package
// used (a watermill GoChannel for the pub/sub primitive, plus a direct
// subscriber map that preserves full Go type information for callers).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// replayBufferSize is the bounded in-memory replay buffer per channel
// (spec §4.2: size 50, retention 5 minutes).
const replayBufferSize = 50

const replayBufferRetention = 5 * time.Minute

// BroadcastChannel is a reserved channel name every published event is
// additionally mirrored onto, so a caller that wants every channel (spec
// §4.11 events.subscribe with a wildcard pattern) can subscribe to one
// place instead of the Bus tracking a dynamic per-caller fan-out list.
const BroadcastChannel = "*"

// Log is the durable backing store a Bus persists to. eventlog.Store
// satisfies it; tests may substitute a fake.
type Log interface {
	Save(ctx context.Context, event types.Event) error
	ReadFrom(ctx context.Context, channel string, cursor *types.Cursor, limit int) ([]types.Event, error)
	ReadLatest(ctx context.Context, channel string, n int) ([]types.Event, error)
}

// Bus is the in-memory Event Bus. A zero-value Bus is not usable; build one
// with New.
type Bus struct {
	log Log

	mu       sync.Mutex
	channels map[string]*channelState
	pubsub   *gochannel.GoChannel
	logger   zerolog.Logger
}

type channelState struct {
	mu       sync.Mutex
	nextSeq  map[int64]int64 // last-used sequence per timestamp millisecond
	lastSeq  int64
	lastTS   int64
	buffer   []bufferedEvent
	subs     map[uint64]chan types.Event
	nextSub  uint64
}

type bufferedEvent struct {
	event   types.Event
	storeAt time.Time
}

// New creates an Event Bus that persists through log (may be nil, in which
// case durable replay is unavailable and subscribeWithHistory falls back to
// the in-memory buffer only, per spec §4.2 "Failure").
func New(log Log, logger zerolog.Logger) *Bus {
	b := &Bus{
		log:      log,
		channels: make(map[string]*channelState),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		logger: logger,
	}
	return b
}

func (b *Bus) state(channel string) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[channel]
	if !ok {
		cs = &channelState{
			nextSeq: make(map[int64]int64),
			subs:    make(map[uint64]chan types.Event),
		}
		b.channels[channel] = cs
	}
	return cs
}

// Publish assigns (timestamp, sequence) to the event, forwards it to live
// subscribers and the bounded replay buffer synchronously, and persists it
// to the durable log asynchronously. Publish never blocks on persistence,
// and persistence errors are logged, not returned.
func (b *Bus) Publish(ctx context.Context, channel, eventType string, payload []byte) types.Event {
	cs := b.state(channel)

	cs.mu.Lock()
	ts := time.Now().UnixMilli()
	if ts <= cs.lastTS {
		ts = cs.lastTS
		cs.lastSeq++
	} else {
		cs.lastTS = ts
		cs.lastSeq = 0
	}
	seq := cs.lastSeq

	evt := types.Event{
		ID:        types.EventID(ts, seq),
		Channel:   channel,
		Type:      eventType,
		Timestamp: ts,
		Sequence:  seq,
		Payload:   payload,
	}

	cs.buffer = append(cs.buffer, bufferedEvent{event: evt, storeAt: time.Now()})
	cs.pruneLocked()

	subs := make([]chan types.Event, 0, len(cs.subs))
	for _, ch := range cs.subs {
		subs = append(subs, ch)
	}
	cs.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn().Str("channel", channel).Msg("subscriber channel full, dropping event")
		}
	}

	if channel != BroadcastChannel {
		b.mirrorToBroadcast(evt)
	}

	if b.log != nil {
		go func() {
			if err := b.log.Save(context.Background(), evt); err != nil {
				b.logger.Error().Err(err).Str("channel", channel).Msg("event log persistence failed")
			}
		}()
	}

	return evt
}

// mirrorToBroadcast forwards evt, unchanged, to BroadcastChannel's live
// subscribers. It does not buffer into the broadcast channel's own replay
// window; a reconnecting wildcard subscriber replays from the origin
// channel it cares about, not from the broadcast mirror.
func (b *Bus) mirrorToBroadcast(evt types.Event) {
	cs := b.state(BroadcastChannel)
	cs.mu.Lock()
	subs := make([]chan types.Event, 0, len(cs.subs))
	for _, ch := range cs.subs {
		subs = append(subs, ch)
	}
	cs.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn().Str("channel", BroadcastChannel).Msg("broadcast subscriber channel full, dropping event")
		}
	}
}

func (cs *channelState) pruneLocked() {
	cutoff := time.Now().Add(-replayBufferRetention)
	start := 0
	for start < len(cs.buffer) && (len(cs.buffer)-start > replayBufferSize || cs.buffer[start].storeAt.Before(cutoff)) {
		start++
	}
	if start > 0 {
		cs.buffer = cs.buffer[start:]
	}
}

// Subscription is a live handle on a channel's events.
type Subscription struct {
	Events <-chan types.Event
	cancel func()
}

// Close unsubscribes and releases the channel reference.
func (s *Subscription) Close() { s.cancel() }

// NewSubscription builds a Subscription from an already-live channel and
// its teardown function, for callers (e.g. the RPC Router's pattern-filter
// wrapper) that adapt a Bus subscription rather than open one directly.
func NewSubscription(ch <-chan types.Event, cancel func()) *Subscription {
	return &Subscription{Events: ch, cancel: cancel}
}

// Subscribe yields a live subscription. If fromCursor is non-nil, the
// caller first receives a replay from the durable log (readFrom) in order,
// then live events; otherwise the replay is whatever the bounded in-memory
// buffer still holds for the channel, followed by live events.
func (b *Bus) Subscribe(ctx context.Context, channel string, fromCursor *types.Cursor) (*Subscription, []types.Event, error) {
	var replay []types.Event
	if fromCursor != nil && b.log != nil {
		events, err := b.log.ReadFrom(ctx, channel, fromCursor, 100)
		if err != nil {
			return nil, nil, err
		}
		replay = events
	}

	cs := b.state(channel)
	cs.mu.Lock()
	if fromCursor == nil {
		cs.pruneLocked()
		for _, be := range cs.buffer {
			replay = append(replay, be.event)
		}
	}
	id := cs.nextSub
	cs.nextSub++
	ch := make(chan types.Event, 64)
	cs.subs[id] = ch
	cs.mu.Unlock()

	sub := &Subscription{
		Events: ch,
		cancel: func() {
			cs.mu.Lock()
			delete(cs.subs, id)
			cs.mu.Unlock()
		},
	}
	return sub, replay, nil
}

// SubscribeWithHistory replays EventLog.readLatest(channel, lastN) in
// chronological order, then switches to live. Clients may observe
// duplicates where the persisted tail overlaps the in-memory replay
// buffer window opened between the history read and the live subscribe;
// clients must deduplicate by event id (spec §4.2, known property).
func (b *Bus) SubscribeWithHistory(ctx context.Context, channel string, lastN int) (*Subscription, []types.Event, error) {
	var history []types.Event
	if b.log != nil {
		events, err := b.log.ReadLatest(ctx, channel, lastN)
		if err != nil {
			return nil, nil, err
		}
		history = events
	} else {
		cs := b.state(channel)
		cs.mu.Lock()
		n := lastN
		if n > len(cs.buffer) {
			n = len(cs.buffer)
		}
		for _, be := range cs.buffer[len(cs.buffer)-n:] {
			history = append(history, be.event)
		}
		cs.mu.Unlock()
	}

	cs := b.state(channel)
	cs.mu.Lock()
	id := cs.nextSub
	cs.nextSub++
	ch := make(chan types.Event, 64)
	cs.subs[id] = ch
	cs.mu.Unlock()

	sub := &Subscription{
		Events: ch,
		cancel: func() {
			cs.mu.Lock()
			delete(cs.subs, id)
			cs.mu.Unlock()
		},
	}
	return sub, history, nil
}

// Destroy releases all subscribers and in-memory channel state.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cs := range b.channels {
		cs.mu.Lock()
		for _, ch := range cs.subs {
			close(ch)
		}
		cs.subs = nil
		cs.mu.Unlock()
	}
	b.channels = make(map[string]*channelState)
	_ = b.pubsub.Close()
}
