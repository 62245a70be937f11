package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-ai/agentcore/internal/eventlog"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	store, err := eventlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, zerolog.Nop())
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	b := newTestBus(t)
	e1 := b.Publish(context.Background(), "session:a", "text-delta", []byte("1"))
	e2 := b.Publish(context.Background(), "session:a", "text-delta", []byte("2"))

	require.True(t, types.Cursor{Timestamp: e1.Timestamp, Sequence: e1.Sequence}.Before(
		types.Cursor{Timestamp: e2.Timestamp, Sequence: e2.Sequence}))
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	b := newTestBus(t)
	sub, replay, err := b.Subscribe(context.Background(), "session:a", nil)
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, replay)

	b.Publish(context.Background(), "session:a", "text-delta", []byte("hi"))

	select {
	case evt := <-sub.Events:
		require.Equal(t, "text-delta", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeWithHistoryReplaysPersistedTail(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.Publish(ctx, "session:a", "text-delta", []byte("x"))
		time.Sleep(time.Millisecond)
	}

	// allow async persistence to land
	time.Sleep(50 * time.Millisecond)

	sub, history, err := b.SubscribeWithHistory(ctx, "session:a", 3)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, history, 3)
}

func TestSubscribeWithHistoryZeroIsEmpty(t *testing.T) {
	b := newTestBus(t)
	sub, history, err := b.SubscribeWithHistory(context.Background(), "empty-channel", 0)
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, history)
}
