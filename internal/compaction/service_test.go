package compaction

import (
	"context"
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
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/internal/trigger"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

const testProviderID = "fake"
const testModelID = "fake-model"

// fakeProvider mirrors internal/stream's engine_test.go fakeProvider: each
// call to CreateCompletion pops the next canned response off responses.
type fakeProvider struct {
	responses [][]*schema.Message
	calls     int
	failOpen  bool
}

func (f *fakeProvider) ID() string                           { return testProviderID }
func (f *fakeProvider) Name() string                          { return "Fake" }
func (f *fakeProvider) Models() []types.Model                 { return nil }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }

func (f *fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	if f.failOpen {
		return nil, context.DeadlineExceeded
	}
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

func newTestService(t *testing.T, p provider.Provider) (*Service, *sessionstore.Store, *events.Bus) {
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

	engine := stream.New(store, bus, providers, models, tools, triggers, agents, zerolog.Nop())
	svc := New(store, bus, providers, engine, zerolog.Nop())
	return svc, store, bus
}

func seedSession(t *testing.T, store *sessionstore.Store, id, title string) types.Session {
	t.Helper()
	sess := types.Session{
		ID:         id,
		ProviderID: testProviderID,
		ModelID:    testModelID,
		Title:      title,
		Created:    time.Now().UnixMilli(),
		Updated:    time.Now().UnixMilli(),
		Flags:      map[string]bool{},
	}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess
}

func seedUserMessage(t *testing.T, store *sessionstore.Store, sessionID, text string) {
	t.Helper()
	msg := types.Message{
		ID:        "msg_" + sessionID + "_" + text,
		SessionID: sessionID,
		Role:      types.RoleUser,
		Status:    types.MessageCompleted,
		Timestamp: time.Now().UnixMilli(),
		Steps: []types.Step{{StepIndex: 0, Parts: []types.Part{
			types.TextPart{Content: text, Status: types.PartCompleted},
		}}},
	}
	require.NoError(t, store.AddMessage(context.Background(), msg))
}

func TestCompactCreatesContinuationSession(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{
		textResponse("summary of the conversation"),
		textResponse("acknowledged"),
	}}
	svc, store, _ := newTestService(t, p)
	ctx := context.Background()

	sess := seedSession(t, store, "ses_old", "Debugging the parser")
	seedUserMessage(t, store, sess.ID, "please fix the parser")

	res, err := svc.Compact(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.NewSessionID)
	require.Equal(t, "summary of the conversation", res.Summary)

	// Step 8's implicit continuation turn runs on a background goroutine;
	// give it a moment to finish before the test tears the store down.
	time.Sleep(50 * time.Millisecond)

	oldSess, err := store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, oldSess.Metadata.Compacted)
	require.Equal(t, res.NewSessionID, oldSess.Metadata.CompactedTo)

	newSess, err := store.GetSessionByID(ctx, res.NewSessionID)
	require.NoError(t, err)
	require.Equal(t, "Debugging the parser (continued)", newSess.Title)
	require.Equal(t, sess.ID, newSess.Metadata.CompactedFrom)
	require.Equal(t, "Debugging the parser", newSess.Metadata.OriginalTitle)
	require.Equal(t, 1, newSess.Metadata.OriginalMessageCount)
	require.Greater(t, newSess.BaseContextTokens, 0, "continuation session's tokens must be primed")

	messages, err := store.GetMessages(ctx, res.NewSessionID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	firstPart, ok := messages[0].Steps[0].Parts[0].(types.TextPart)
	require.True(t, ok)
	require.Contains(t, firstPart.Content, "summary of the conversation")
	require.Contains(t, firstPart.Content, continuationPreamble)
}

func TestCompactRejectsEmptySession(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{textResponse("x")}}
	svc, store, _ := newTestService(t, p)
	ctx := context.Background()

	sess := seedSession(t, store, "ses_empty", "")

	_, err := svc.Compact(ctx, sess.ID)
	require.Error(t, err)
}

func TestCompactRejectsUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeProvider{})
	_, err := svc.Compact(context.Background(), "ses_missing")
	require.Error(t, err)
}

func TestCompactRollsBackOnSummaryFailure(t *testing.T) {
	p := &fakeProvider{failOpen: true}
	svc, store, _ := newTestService(t, p)
	ctx := context.Background()

	sess := seedSession(t, store, "ses_fail", "Some title")
	seedUserMessage(t, store, sess.ID, "hello")

	before, err := store.GetSessionCount(ctx)
	require.NoError(t, err)

	_, err = svc.Compact(ctx, sess.ID)
	require.Error(t, err)

	after, err := store.GetSessionCount(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after, "a failed compaction must not leave behind a half-built continuation session")

	oldSess, err := store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, oldSess.Metadata.Compacted, "source session must not be marked compacted when compaction failed")
}

func TestCompactHoldsPerSessionLockAgainstConcurrentTurn(t *testing.T) {
	p := &fakeProvider{responses: [][]*schema.Message{textResponse("summary")}}
	svc, store, _ := newTestService(t, p)
	ctx := context.Background()

	sess := seedSession(t, store, "ses_locked", "Title")
	seedUserMessage(t, store, sess.ID, "hello")

	release, err := svc.engine.Lock(sess.ID)
	require.NoError(t, err)
	defer release()

	_, err = svc.Compact(ctx, sess.ID)
	require.Error(t, err, "Compact must respect the same per-session mutex TriggerStream uses")
}
