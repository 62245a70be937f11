package stream

import (
	"context"
	"strings"
	"time"

	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// titleSystemPrompt instructs the model to produce a short title and
// nothing else. Grounded on the teacher's internal/session/title.go
// titleSystemPrompt, rewritten fresh rather than reused because that
// function's ensureTitle referenced a Session.ParentID field that no
// longer exists on this repo's Session type.
const titleSystemPrompt = "Generate a concise 3-6 word title summarizing this conversation. Respond with only the title itself — no punctuation, quotes, or explanation."

const maxTitleLength = 80

// maybeGenerateTitle spawns a background title-generation task if the
// session has no title yet and has at least one message (spec §4.8.1).
// Failures are swallowed: the title remains empty and generation is
// retried on the next completed turn.
func (e *Engine) maybeGenerateTitle(ctx context.Context, sessionID string) {
	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil || sess.Title != "" {
		return
	}
	messages, err := e.store.GetMessages(ctx, sessionID)
	if err != nil || len(messages) == 0 {
		return
	}
	userContent := firstUserText(messages)
	if userContent == "" {
		return
	}
	prov, err := e.providers.Get(sess.ProviderID)
	if err != nil {
		return
	}

	go e.generateTitle(sessionID, prov, sess.ModelID, userContent)
}

func (e *Engine) generateTitle(sessionID string, prov provider.Provider, modelID, userContent string) {
	ctx := context.Background()
	e.publish(sessionID, SessionTitleUpdatedStart{SessionID: sessionID})

	prompt := []providerstream.ModelMessage{
		{Role: "system", Content: []providerstream.ContentPart{{Kind: "text", Text: titleSystemPrompt}}},
		{Role: "user", Content: []providerstream.ContentPart{{Kind: "text", Text: userContent}}},
	}

	events, err := providerstream.OpenCompletion(ctx, prov, modelID, prompt, nil, providerstream.CompletionOptions{MaxTokens: 32})
	if err != nil {
		e.logger.Debug().Err(err).Str("session", sessionID).Msg("title generation: open completion")
		return
	}

	var raw strings.Builder
	for ev := range events {
		if delta, ok := ev.(providerstream.TextDelta); ok {
			raw.WriteString(delta.Text)
			e.publish(sessionID, SessionTitleUpdatedDelta{SessionID: sessionID, Text: delta.Text})
		}
	}

	title := cleanTitle(raw.String())
	if title == "" {
		return
	}

	if err := e.store.UpdateSessionTitle(ctx, sessionID, title, time.Now().UnixMilli()); err != nil {
		e.logger.Debug().Err(err).Str("session", sessionID).Msg("title generation: persist title")
		return
	}
	e.publish(sessionID, SessionTitleUpdatedEnd{SessionID: sessionID, Title: title})
	e.publish(sessionID, SessionTitleUpdated{SessionID: sessionID, Title: title})
}

func firstUserText(messages []types.Message) string {
	for _, msg := range messages {
		if msg.Role != types.RoleUser {
			continue
		}
		for _, step := range msg.Steps {
			for _, part := range step.Parts {
				if tp, ok := part.(types.TextPart); ok && tp.Content != "" {
					return tp.Content
				}
			}
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxTitleLength {
		s = strings.TrimSpace(s[:maxTitleLength])
	}
	return s
}
