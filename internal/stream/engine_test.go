package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-ai/agentcore/internal/agent"
	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/internal/trigger"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

const testModelID = "fake-model"
const testProviderID = "fake"

// fakeProvider is a canned provider: each call to CreateCompletion pops the
// next response off responses, repeating the last one once they run out.
type fakeProvider struct {
	responses [][]*schema.Message
	calls     int
}

func (f *fakeProvider) ID() string                          { return testProviderID }
func (f *fakeProvider) Name() string                         { return "Fake" }
func (f *fakeProvider) Models() []types.Model                { return nil }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }

func (f *fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return provider.NewCompletionStream(schema.StreamReaderFromArray(f.responses[i])), nil
}

func textResponse(text string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.Assistant, Content: text},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}},
	}
}

func toolCallResponse(toolName, callID string, input map[string]any) []*schema.Message {
	args, _ := json.Marshal(input)
	idx := 0
	return []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    &idx,
			ID:       callID,
			Function: schema.FunctionCall{Name: toolName, Arguments: string(args)},
		}}},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "tool_use"}},
	}
}

func newTestEngine(t *testing.T, p provider.Provider) (*Engine, *sessionstore.Store) {
	t.Helper()
	store, err := sessionstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.New(nil, zerolog.Nop())

	providers := provider.NewRegistry(nil)
	providers.Register(p)

	models := modelregistry.New()
	models.RegisterProvider(modelregistry.Provider{
		ID:   testProviderID,
		Name: "Fake",
		Models: []types.Model{{
			ID:            testModelID,
			Name:          "Fake Model",
			ProviderID:    testProviderID,
			ContextLength: 100000,
			SupportsTools: true,
		}},
	})

	tools := tool.NewRegistry(t.TempDir(), nil)
	triggers := trigger.New()
	agents := agent.NewRegistry()

	return New(store, bus, providers, models, tools, triggers, agents, zerolog.Nop()), store
}

// drainUntil reads events off sub.Events() until one matching want is seen
// (inclusive), collecting every event type observed along the way. It fails
// the test if want never arrives within the timeout.
func drainUntil(t *testing.T, ch <-chan types.Event, want string, timeout time.Duration) []string {
	t.Helper()
	var types_ []string
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			types_ = append(types_, ev.Type)
			if ev.Type == want {
				return types_
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q, saw: %v", want, types_)
			return nil
		}
	}
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestTriggerStreamRunsTurnToCompletion(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{textResponse("hello there")}}
	e, store := newTestEngine(t, p)
	ctx := context.Background()

	sess := types.Session{ID: "ses_turn", ProviderID: testProviderID, ModelID: testModelID, Flags: map[string]bool{}}
	require.NoError(t, store.CreateSession(ctx, sess))

	// Subscribe before triggering so the turn's own events (published from a
	// background goroutine) are not missed between TriggerStream returning
	// and the subscription being established.
	sub, _, err := e.Subscribe(ctx, sess.ID, 0)
	require.NoError(t, err)
	defer sub.Close()

	res, err := e.TriggerStream(ctx, TriggerRequest{
		SessionID: sess.ID,
		Content:   []types.Part{types.TextPart{Content: "hi", Status: types.PartCompleted}},
	})
	require.NoError(t, err)
	require.Equal(t, sess.ID, res.SessionID)

	seen := drainUntil(t, sub.Events, "complete", 2*time.Second)

	require.Less(t, indexOf(seen, "user-message-created"), indexOf(seen, "assistant-message-created"))
	require.Less(t, indexOf(seen, "assistant-message-created"), indexOf(seen, "step-start"))
	require.Less(t, indexOf(seen, "step-start"), indexOf(seen, "text-start"))
	require.Less(t, indexOf(seen, "text-start"), indexOf(seen, "text-delta"))
	require.Less(t, indexOf(seen, "text-delta"), indexOf(seen, "text-end"))
	require.Less(t, indexOf(seen, "text-end"), indexOf(seen, "step-complete"))
	require.Less(t, indexOf(seen, "step-complete"), indexOf(seen, "message-status-updated"))
	require.Less(t, indexOf(seen, "message-status-updated"), indexOf(seen, "complete"))
}

func TestTriggerStreamRejectsConcurrentTurn(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{textResponse("hello")}}
	e, store := newTestEngine(t, p)
	ctx := context.Background()

	sess := types.Session{ID: "ses_busy", ProviderID: testProviderID, ModelID: testModelID, Flags: map[string]bool{}}
	require.NoError(t, store.CreateSession(ctx, sess))

	turnCtx, cancel, err := e.reserve("ses_busy")
	require.NoError(t, err)
	defer cancel()

	_, err = e.TriggerStream(ctx, TriggerRequest{SessionID: "ses_busy"})
	require.Error(t, err)

	_ = turnCtx
}

func TestReleaseCancelsTurnContext(t *testing.T) {
	e, _ := newTestEngine(t, &fakeProvider{responses: [][]*schema.Message{textResponse("x")}})

	turnCtx, _, err := e.reserve("ses_rel")
	require.NoError(t, err)

	e.release("ses_rel")

	select {
	case <-turnCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("release did not cancel the turn context")
	}

	e.mu.Lock()
	_, stillActive := e.active["ses_rel"]
	e.mu.Unlock()
	require.False(t, stillActive)
}

func TestAbortCancelsActiveTurn(t *testing.T) {
	e, _ := newTestEngine(t, &fakeProvider{responses: [][]*schema.Message{textResponse("x")}})

	turnCtx, _, err := e.reserve("ses_abort")
	require.NoError(t, err)

	e.Abort("ses_abort")

	select {
	case <-turnCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("Abort did not cancel the turn context")
	}
}

func TestTurnExecutesToolCallAndContinuesStepLoop(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{
		toolCallResponse("echo", "call_1", map[string]any{"text": "hi"}),
		textResponse("done"),
	}}
	e, store := newTestEngine(t, p)
	ctx := context.Background()

	e.tools.Register(tool.NewBaseTool("echo", "echoes its input", json.RawMessage(`{}`),
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			return &tool.Result{Output: "echoed"}, nil
		}))

	sess := types.Session{ID: "ses_tool", ProviderID: testProviderID, ModelID: testModelID, Flags: map[string]bool{}}
	require.NoError(t, store.CreateSession(ctx, sess))

	sub, _, err := e.Subscribe(ctx, sess.ID, 0)
	require.NoError(t, err)
	defer sub.Close()

	res, err := e.TriggerStream(ctx, TriggerRequest{
		SessionID: sess.ID,
		Content:   []types.Part{types.TextPart{Content: "use the tool", Status: types.PartCompleted}},
	})
	require.NoError(t, err)

	seen := drainUntil(t, sub.Events, "complete", 2*time.Second)
	require.Contains(t, seen, "tool-call")
	require.Contains(t, seen, "tool-result")
	require.Equal(t, 2, p.calls, "step loop should continue after a tool call and stop once the model replies without one")

	messages, err := store.GetMessages(ctx, res.SessionID)
	require.NoError(t, err)
	var sawToolPart bool
	for _, msg := range messages {
		for _, step := range msg.Steps {
			for _, part := range step.Parts {
				if tp, ok := part.(types.ToolPart); ok {
					sawToolPart = true
					require.Equal(t, types.ToolCompleted, tp.Status)
				}
			}
		}
	}
	require.True(t, sawToolPart)
}

func TestExecuteToolCallPassesSessionWorkDir(t *testing.T) {
	e, store := newTestEngine(t, &fakeProvider{responses: [][]*schema.Message{textResponse("x")}})
	ctx := context.Background()

	var gotWorkDir string
	e.tools.Register(tool.NewBaseTool("pwd", "reports its working dir", json.RawMessage(`{}`),
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			gotWorkDir = toolCtx.WorkDir
			return &tool.Result{Output: toolCtx.WorkDir}, nil
		}))

	sess := types.Session{ID: "ses_wd", ProviderID: testProviderID, ModelID: testModelID, Directory: "/work/project", Flags: map[string]bool{}}
	require.NoError(t, store.CreateSession(ctx, sess))

	call := providerstream.ToolCall{ToolCallID: "call_1", ToolName: "pwd", Input: map[string]any{}}
	part := e.executeToolCall(ctx, sess.ID, sess.Directory, "msg_1", call)
	tp, ok := part.(types.ToolPart)
	require.True(t, ok)
	require.Nil(t, tp.Error)
	require.Equal(t, "/work/project", gotWorkDir)
}

func TestMessageTokensCountsTextAndTextualFileContent(t *testing.T) {
	e, store := newTestEngine(t, &fakeProvider{})
	ctx := context.Background()

	require.NoError(t, store.StoreFileContent(ctx, types.FileContent{
		ID:        "fc_1",
		Content:   []byte("textual file body"),
		MediaType: "text/plain",
	}))

	model := &types.Model{ID: testModelID, ProviderID: testProviderID}

	msg := types.Message{
		ID:   "msg_1",
		Role: types.RoleAssistant,
		Steps: []types.Step{{StepIndex: 0, Parts: []types.Part{
			types.TextPart{Content: "hello world", Status: types.PartCompleted},
			types.FilePart{MediaType: "text/plain", Base64: base64.StdEncoding.EncodeToString([]byte("embedded text")), Status: types.PartCompleted},
			types.FilePart{MediaType: "image/png", Base64: base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47}), Status: types.PartCompleted},
			types.FileRefPart{MediaType: "text/plain", FileContentID: "fc_1", Status: types.PartCompleted},
		}}},
	}

	textOnly, err := modelregistry.CountTokens(*model, "hello world")
	require.NoError(t, err)

	total := e.messageTokens(ctx, model, msg)
	require.Greater(t, total, textOnly, "textual file and file-ref content must add to the token total")
}
