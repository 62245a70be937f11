// Package compaction implements the Compaction Service (spec L10 / §4.10):
// summarizing a session's transcript into a fresh continuation session so a
// long-running conversation can keep going without the provider's full
// context window.
//
// Grounded on the teacher's internal/session/compact.go for the
// summarize-then-spawn-continuation shape, generalized onto this repo's
// internal/stream.Engine (for the shared per-session mutex and new-session
// token priming) and internal/providerstream (for the provider-agnostic
// one-shot completion), rather than the teacher's bespoke in-package
// provider calls.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Service drives the Compact operation.
type Service struct {
	store     *sessionstore.Store
	bus       publisher
	providers *provider.Registry
	engine    *stream.Engine
	logger    zerolog.Logger
}

// publisher is the narrow slice of internal/events.Bus this package needs,
// named locally so compaction does not import internal/events just to
// spell out a struct field type.
type publisher interface {
	Publish(ctx context.Context, channel, eventType string, payload []byte) types.Event
}

// New wires a Service from its collaborators. engine supplies the
// per-session mutex (spec §5: "Per-session mutex (for streaming and
// compaction)") and the new session's initial token accounting.
func New(store *sessionstore.Store, bus publisher, providers *provider.Registry, engine *stream.Engine, logger zerolog.Logger) *Service {
	return &Service{store: store, bus: bus, providers: providers, engine: engine, logger: logger}
}

// Result is what Compact returns on success.
type Result struct {
	NewSessionID string
	Summary      string
}

const fallbackTitle = "Untitled conversation"

// Compact summarizes sessionID's transcript and spawns a continuation
// session, per spec §4.10's eight-step algorithm. It runs under the same
// per-session mutex the Streaming Engine uses, so it cannot race a
// concurrent turn on the source session.
func (s *Service) Compact(ctx context.Context, sessionID string) (Result, error) {
	release, err := s.engine.Lock(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Result{}, apperr.New(apperr.NotFound, "session "+sessionID+" not found")
	}

	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load messages: %w", err)
	}
	if len(messages) == 0 {
		return Result{}, apperr.New(apperr.InvariantViolated, "session has no messages to compact")
	}

	prov, err := s.providers.Get(sess.ProviderID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve provider: %w", err)
	}

	summary, err := s.summarize(ctx, sessionID, prov, sess.ModelID, messages)
	if err != nil {
		return Result{}, fmt.Errorf("summarize transcript: %w", err)
	}

	newSessionID, err := s.spawnContinuation(ctx, *sess, summary, len(messages))
	if err != nil {
		return Result{}, fmt.Errorf("spawn continuation session: %w", err)
	}

	now := time.Now().UnixMilli()
	oldMeta := sess.Metadata
	oldMeta.Compacted = true
	oldMeta.CompactedTo = newSessionID
	oldMeta.CompactedAt = now
	if err := s.store.UpdateSessionMetadata(ctx, sessionID, oldMeta, now); err != nil {
		s.rollback(ctx, newSessionID)
		return Result{}, fmt.Errorf("mark source session compacted: %w", err)
	}

	s.publish(sessionID, Compacted{
		OldSessionID: sessionID,
		NewSessionID: newSessionID,
		Summary:      summary,
		MessageCount: len(messages),
	})

	// Step 8 (optional): kick off an implicit assistant turn in the new
	// session acknowledging the summary. Best-effort: a failure here does
	// not invalidate the compaction that already succeeded.
	if _, err := s.engine.TriggerStream(ctx, stream.TriggerRequest{SessionID: newSessionID}); err != nil {
		s.logger.Warn().Err(err).Str("session", newSessionID).Msg("compaction: implicit continuation turn")
	}

	return Result{NewSessionID: newSessionID, Summary: summary}, nil
}

// summarize issues a one-shot, uncapped completion over the serialized
// transcript, streaming Progress events as text arrives (spec §4.10 step 3).
func (s *Service) summarize(ctx context.Context, sessionID string, prov provider.Provider, modelID string, messages []types.Message) (string, error) {
	transcript := serializeTranscript(messages)

	prompt := []providerstream.ModelMessage{
		{Role: "system", Content: []providerstream.ContentPart{{Kind: "text", Text: summaryPreamble}}},
		{Role: "user", Content: []providerstream.ContentPart{{Kind: "text", Text: transcript}}},
	}

	events, err := providerstream.OpenCompletion(ctx, prov, modelID, prompt, nil, providerstream.CompletionOptions{})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for ev := range events {
		switch e := ev.(type) {
		case providerstream.TextDelta:
			out.WriteString(e.Text)
			s.publish(sessionID, Progress{SessionID: sessionID, Text: e.Text})
		}
	}

	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", apperr.New(apperr.ProviderProtocol, "summary completion produced no text")
	}
	return summary, nil
}

// spawnContinuation creates the new session, inserts the summary as its
// first user message, and primes its token accounting (spec §4.10 step 4-5).
// It deletes the new session and returns an error if any step after
// creation fails, so a caller never observes a half-built continuation.
func (s *Service) spawnContinuation(ctx context.Context, old types.Session, summary string, oldMessageCount int) (string, error) {
	now := time.Now().UnixMilli()
	newSessionID := "ses_" + ulid.Make().String()

	title := old.Title
	if title == "" {
		title = fallbackTitle
	}

	newSess := types.Session{
		ID:             newSessionID,
		ProjectID:      old.ProjectID,
		Directory:      old.Directory,
		ProviderID:     old.ProviderID,
		ModelID:        old.ModelID,
		AgentID:        old.AgentID,
		EnabledRuleIDs: append([]string(nil), old.EnabledRuleIDs...),
		Title:          title + " (continued)",
		Created:        now,
		Updated:        now,
		Flags:          map[string]bool{},
		Metadata: types.SessionMetadata{
			CompactedFrom:        old.ID,
			OriginalTitle:        old.Title,
			OriginalMessageCount: oldMessageCount,
		},
	}
	if err := s.store.CreateSession(ctx, newSess); err != nil {
		return "", fmt.Errorf("create continuation session: %w", err)
	}

	msg := types.Message{
		ID:        "msg_" + ulid.Make().String(),
		SessionID: newSessionID,
		Role:      types.RoleUser,
		Status:    types.MessageCompleted,
		Timestamp: now,
		Steps: []types.Step{{StepIndex: 0, Parts: []types.Part{
			types.TextPart{Content: continuationPreamble + summary, Status: types.PartCompleted},
		}}},
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		s.rollback(ctx, newSessionID)
		return "", fmt.Errorf("insert summary message: %w", err)
	}

	s.engine.InitializeTokens(ctx, newSessionID)

	return newSessionID, nil
}

// rollback deletes a continuation session that failed to fully initialize
// (spec §4.10: "any created new session must be rolled back on failure").
// The teacher's compact.go does not do this; it is a deliberate fix.
func (s *Service) rollback(ctx context.Context, sessionID string) {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.logger.Error().Err(err).Str("session", sessionID).Msg("compaction: rollback delete failed")
	}
}

func (s *Service) publish(sessionID string, ev marshalable) {
	payload, err := marshalEvent(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("session", sessionID).Msg("marshal compaction event")
		return
	}
	s.bus.Publish(context.Background(), stream.Channel(sessionID), ev.EventType(), payload)
}
