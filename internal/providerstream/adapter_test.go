package providerstream

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

type fakeProvider struct {
	chunks  []*schema.Message
	failN   int // CreateCompletion fails this many times before succeeding
	calls   int
}

func (f *fakeProvider) ID() string                          { return "fake" }
func (f *fakeProvider) Name() string                         { return "Fake" }
func (f *fakeProvider) Models() []types.Model                { return nil }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }

func (f *fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, errors.New("connection reset")
	}
	return provider.NewCompletionStream(schema.StreamReaderFromArray(f.chunks)), nil
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestOpenCompletionStreamsTextDeltas(t *testing.T) {
	p := &fakeProvider{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "hello"},
		{Role: schema.Assistant, Content: "hello world"},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}},
	}}

	events, err := OpenCompletion(context.Background(), p, "fake-model", nil, nil, CompletionOptions{})
	require.NoError(t, err)

	got := collect(t, events)
	require.Contains(t, eventTypes(got), "text-start")
	require.Contains(t, eventTypes(got), "text-delta")
	require.Contains(t, eventTypes(got), "text-end")
	require.Equal(t, "finish", got[len(got)-1].EventType())
}

func TestOpenCompletionRetriesOnNetworkError(t *testing.T) {
	p := &fakeProvider{failN: 2, chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "ok"},
	}}

	events, err := OpenCompletion(context.Background(), p, "fake-model", nil, nil, CompletionOptions{})
	require.NoError(t, err)
	collect(t, events)
	require.Equal(t, 3, p.calls)
}

func TestOpenCompletionFailsAfterExhaustingRetries(t *testing.T) {
	p := &fakeProvider{failN: 10}
	_, err := OpenCompletion(context.Background(), p, "fake-model", nil, nil, CompletionOptions{})
	require.Error(t, err)
}

func TestMarshalEventIncludesTypeTag(t *testing.T) {
	data, err := MarshalEvent(TextDelta{Text: "hi"})
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"text-delta"`)
	require.Contains(t, string(data), `"text":"hi"`)
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}
