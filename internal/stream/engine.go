// Package stream implements the Streaming Engine (spec L8 / §4.8): the
// critical path that drives one assistant turn from triggerStream through
// the provider's token stream to a terminal complete/error/abort, publishing
// StreamEvents on the session's Event Bus channel as it goes.
//
// Grounded on the teacher's internal/session/processor.go for the
// per-session concurrency boundary and internal/session/loop.go for the
// provider-stream-to-store translation loop, generalized onto
// internal/providerstream's provider-agnostic event sequence and
// internal/context's Context Assembler instead of the teacher's bespoke,
// session-package-internal equivalents.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/agent"
	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/internal/trigger"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Engine drives assistant turns and fans their events out through bus. A
// zero-value Engine is not usable; build one with New.
type Engine struct {
	store     *sessionstore.Store
	bus       *events.Bus
	providers *provider.Registry
	models    *modelregistry.Registry
	tools     *tool.Registry
	triggers  *trigger.Registry
	agents    *agent.Registry
	logger    zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New wires an Engine from its collaborators.
func New(
	store *sessionstore.Store,
	bus *events.Bus,
	providers *provider.Registry,
	models *modelregistry.Registry,
	tools *tool.Registry,
	triggers *trigger.Registry,
	agents *agent.Registry,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:     store,
		bus:       bus,
		providers: providers,
		models:    models,
		tools:     tools,
		triggers:  triggers,
		agents:    agents,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

func channelFor(sessionID string) string { return "session:" + sessionID }

// Channel returns the Event Bus channel name for a session, exported so
// other components (e.g. the Compaction Service) that publish to a
// session's channel without an Engine instance of their own name it
// consistently.
func Channel(sessionID string) string { return channelFor(sessionID) }

func newID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

// TriggerRequest is the triggerStream mutation's input (spec §4.8).
type TriggerRequest struct {
	SessionID string
	Provider  string
	Model     string
	AgentID   string
	Content   []types.Part
}

// TriggerResult is triggerStream's immediate return value; the turn itself
// runs asynchronously and is observed via Subscribe.
type TriggerResult struct {
	SessionID string
}

// TriggerStream starts (or continues) one assistant turn on a session. If
// req.SessionID is empty, a new session is created using req.Provider/Model.
// If req.Content is non-empty, a user message carrying those parts is
// appended before the turn starts. The turn runs on a background goroutine;
// TriggerStream returns as soon as it has been queued.
func (e *Engine) TriggerStream(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	sessionID := req.SessionID
	var sess *types.Session

	if sessionID == "" {
		now := time.Now().UnixMilli()
		sessionID = newID("ses")
		sess = &types.Session{
			ID:         sessionID,
			ProviderID: req.Provider,
			ModelID:    req.Model,
			AgentID:    req.AgentID,
			Created:    now,
			Updated:    now,
			Flags:      map[string]bool{},
		}
		if err := e.store.CreateSession(ctx, *sess); err != nil {
			return TriggerResult{}, fmt.Errorf("create session: %w", err)
		}
		e.publish(sessionID, SessionCreated{SessionID: sessionID, Provider: sess.ProviderID, Model: sess.ModelID})
		e.InitializeTokens(ctx, sessionID)
	} else {
		var err error
		sess, err = e.store.GetSessionByID(ctx, sessionID)
		if err != nil {
			return TriggerResult{}, fmt.Errorf("load session: %w", err)
		}
	}

	turnCtx, cancel, err := e.reserve(sessionID)
	if err != nil {
		return TriggerResult{}, err
	}

	if len(req.Content) > 0 {
		msgID := newID("msg")
		msg := types.Message{
			ID:        msgID,
			SessionID: sessionID,
			Role:      types.RoleUser,
			Status:    types.MessageCompleted,
			Timestamp: time.Now().UnixMilli(),
			Steps:     []types.Step{{StepIndex: 0, Parts: req.Content}},
		}
		if err := e.store.AddMessage(ctx, msg); err != nil {
			e.release(sessionID)
			cancel()
			return TriggerResult{}, fmt.Errorf("append user message: %w", err)
		}
		e.publish(sessionID, UserMessageCreated{MessageID: msgID, Content: firstText(req.Content)})
	}

	go e.runTurn(turnCtx, sessionID)

	return TriggerResult{SessionID: sessionID}, nil
}

// Subscribe wraps the Event Bus subscription for a session's channel.
// replayLast <= 0 subscribes without history: the replay is whatever the
// bounded in-memory buffer still holds, followed by live events.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, replayLast int) (*events.Subscription, []types.Event, error) {
	if replayLast > 0 {
		return e.bus.SubscribeWithHistory(ctx, channelFor(sessionID), replayLast)
	}
	return e.bus.Subscribe(ctx, channelFor(sessionID), nil)
}

// Abort cancels the active turn on a session, if any. It is a no-op if no
// turn is running.
func (e *Engine) Abort(sessionID string) {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// reserve atomically asserts no other turn is active on sessionID (spec
// §4.8 step 1: reject with SessionBusy) and, if free, claims it with a
// fresh cancelable context derived from background — the turn must outlive
// the RPC call that started it.
func (e *Engine) reserve(sessionID string) (context.Context, context.CancelFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[sessionID]; busy {
		return nil, nil, apperr.New(apperr.SessionBusy, "session "+sessionID+" is already streaming")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.active[sessionID] = cancel
	return ctx, cancel, nil
}

// release clears a session's reservation and cancels its turn context, so
// goroutines waiting on ctx.Done() (e.g. toolContextFor's abort-channel
// closer) unblock even when the turn ended normally rather than via Abort.
func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	delete(e.active, sessionID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// InitializeTokens computes and persists a freshly created session's fixed
// base-context token count (spec §4.8.2), publishing SessionTokensUpdated.
// Shared by TriggerStream's own session-creation path and by the
// Compaction Service when it creates a continuation session.
func (e *Engine) InitializeTokens(ctx context.Context, sessionID string) {
	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return
	}
	model, err := e.models.GetModel(sess.ProviderID, sess.ModelID)
	if err != nil {
		return
	}
	base := e.baseContextTokens(*sess, *model)
	if err := e.store.UpdateSessionTokens(ctx, sessionID, base, base); err != nil {
		e.logger.Warn().Err(err).Str("session", sessionID).Msg("persist initial token accounting")
		return
	}
	e.publish(sessionID, SessionTokensUpdated{SessionID: sessionID, BaseContextTokens: base, TotalTokens: base})
}

// Lock acquires the per-session mutex spec §5 requires of both the
// Streaming Engine and the Compaction Service ("Locks: Per-session mutex
// (for streaming and compaction)"). It returns SessionBusy if a turn is
// already active, and a release function the caller must call exactly once
// on success.
func (e *Engine) Lock(sessionID string) (func(), error) {
	if _, _, err := e.reserve(sessionID); err != nil {
		return nil, err
	}
	return func() { e.release(sessionID) }, nil
}

func (e *Engine) publish(sessionID string, ev Event) {
	payload, err := MarshalEvent(ev)
	if err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("marshal stream event")
		return
	}
	e.bus.Publish(context.Background(), channelFor(sessionID), ev.EventType(), payload)
}

// lookupAgent resolves an agent by id, returning nil if unset or unknown so
// callers fall back to the default system prompt.
func (e *Engine) lookupAgent(agentID string) *agent.Agent {
	if agentID == "" || e.agents == nil {
		return nil
	}
	a, err := e.agents.Get(agentID)
	if err != nil {
		return nil
	}
	return a
}

func firstText(parts []types.Part) string {
	for _, p := range parts {
		if tp, ok := p.(types.TextPart); ok {
			return tp.Content
		}
	}
	return ""
}

// baseContextTokens computes the fixed, session-creation-time portion of
// token accounting (spec §4.8.2): the system prompt plus the serialized
// tool schemas, counted with modelregistry.CountTokens (cl100k_base for
// every model).
func (e *Engine) baseContextTokens(sess types.Session, model types.Model) int {
	prompt := buildSystemPrompt(sess, e.lookupAgent(sess.AgentID))

	toolInfos, err := e.tools.ToolInfos()
	var schemaJSON string
	if err == nil {
		if b, merr := json.Marshal(toolInfos); merr == nil {
			schemaJSON = string(b)
		}
	}

	n, err := modelregistry.CountTokens(model, prompt+schemaJSON)
	if err != nil {
		return 0
	}
	return n
}
