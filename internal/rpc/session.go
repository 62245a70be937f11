package rpc

import (
	"context"
	"time"

	"github.com/agentcore-ai/agentcore/internal/compaction"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// sessionRouter implements the session.* procedures (spec §4.11).
type sessionRouter struct{ r *Router }

// GetRecentInput is session.getRecent's input.
type GetRecentInput struct {
	Limit  int
	Cursor *types.Cursor
}

// GetRecent is a query: lists sessions newest-first.
func (s *sessionRouter) GetRecent(ctx context.Context, in GetRecentInput) (sessionstore.SessionPage, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.r.store.GetRecentSessionsMetadata(ctx, limit, in.Cursor)
}

// GetByID is a query: loads one session's metadata.
func (s *sessionRouter) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.r.store.GetSessionByID(ctx, sessionID)
}

// CreateInput is session.create's input.
type CreateInput struct {
	Provider       string
	Model          string
	AgentID        string
	EnabledRuleIDs []string
}

// Create is a mutation: makes a new, empty session. It does not start a
// turn; pair it with message.triggerStream to do that in one round trip,
// or call Create then TriggerStream separately.
func (s *sessionRouter) Create(ctx context.Context, in CreateInput) (*types.Session, error) {
	now := time.Now().UnixMilli()
	sess := types.Session{
		ID:             "ses_" + newULID(),
		ProviderID:     in.Provider,
		ModelID:        in.Model,
		AgentID:        in.AgentID,
		EnabledRuleIDs: in.EnabledRuleIDs,
		Created:        now,
		Updated:        now,
		Flags:          map[string]bool{},
	}
	if err := s.r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.r.engine.InitializeTokens(ctx, sess.ID)
	return s.r.store.GetSessionByID(ctx, sess.ID)
}

// UpdateTitle is a mutation.
func (s *sessionRouter) UpdateTitle(ctx context.Context, sessionID, title string) error {
	return s.r.store.UpdateSessionTitle(ctx, sessionID, title, time.Now().UnixMilli())
}

// UpdateModel is a mutation.
func (s *sessionRouter) UpdateModel(ctx context.Context, sessionID, modelID string) error {
	return s.r.store.UpdateSessionModel(ctx, sessionID, modelID, time.Now().UnixMilli())
}

// UpdateProvider is a mutation.
func (s *sessionRouter) UpdateProvider(ctx context.Context, sessionID, providerID string) error {
	return s.r.store.UpdateSessionProvider(ctx, sessionID, providerID, time.Now().UnixMilli())
}

// UpdateRules is a mutation.
func (s *sessionRouter) UpdateRules(ctx context.Context, sessionID string, ruleIDs []string) error {
	return s.r.store.UpdateSessionRules(ctx, sessionID, ruleIDs, time.Now().UnixMilli())
}

// Delete is a mutation.
func (s *sessionRouter) Delete(ctx context.Context, sessionID string) error {
	return s.r.store.DeleteSession(ctx, sessionID)
}

// Compact is a mutation: spec §4.10, dispatched through the Compaction
// Service. strict security level (spec §4.11): it spends a full provider
// completion per call.
func (s *sessionRouter) Compact(ctx context.Context, sessionID string) (compaction.Result, error) {
	if s.r.compactor == nil {
		return compaction.Result{}, apperr.New(apperr.InvariantViolated, "compaction service not wired")
	}
	return s.r.compactor.Compact(ctx, sessionID)
}
