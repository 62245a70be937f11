package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndReadFrom(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		evt := types.Event{
			ID:        types.EventID(1000, i),
			Channel:   "session:abc",
			Type:      "text-delta",
			Timestamp: 1000,
			Sequence:  i,
			Payload:   []byte(`{"n":1}`),
		}
		require.NoError(t, s.Save(ctx, evt))
	}

	events, err := s.ReadFrom(ctx, "session:abc", &types.Cursor{Timestamp: 1000, Sequence: 2}, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(3), events[0].Sequence)
	require.Equal(t, int64(5), events[2].Sequence)
}

func TestReadLatestEmptyChannel(t *testing.T) {
	s := openTestStore(t)
	events, err := s.ReadLatest(context.Background(), "nothing", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestSaveIdempotentOnRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	evt := types.Event{ID: "evt_1_1", Channel: "c", Type: "t", Timestamp: 1, Sequence: 1, Payload: []byte("{}")}

	require.NoError(t, s.Save(ctx, evt))
	require.NoError(t, s.Save(ctx, evt)) // same id, must not error

	events, err := s.ReadLatest(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCleanupChannelKeepsLastN(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, s.Save(ctx, types.Event{
			ID: types.EventID(i, 0), Channel: "c", Type: "t", Timestamp: i, Sequence: 0, Payload: []byte("{}"),
		}))
	}

	removed, err := s.CleanupChannel(ctx, "c", 3)
	require.NoError(t, err)
	require.Equal(t, int64(7), removed)

	info, err := s.Info(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Length)
}
