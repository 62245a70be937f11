package stream

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	assembler "github.com/agentcore-ai/agentcore/internal/context"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/internal/trigger"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// maxSteps bounds the agentic tool-call loop within one turn (teacher's
// internal/session/loop.go default), absent a per-agent override.
const maxSteps = 50

// runTurn drives one assistant turn end-to-end (spec §4.8 steps 2-9). It
// always releases the session's reservation on return, however the turn
// ends.
func (e *Engine) runTurn(ctx context.Context, sessionID string) {
	defer e.release(sessionID)

	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("load session for turn")
		return
	}
	model, err := e.models.GetModel(sess.ProviderID, sess.ModelID)
	if err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("resolve model for turn")
		return
	}
	prov, err := e.providers.Get(sess.ProviderID)
	if err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("resolve provider for turn")
		return
	}

	e.consultTriggers(ctx, sess, *model)

	assistantID := newID("msg")
	assistantMsg := types.Message{
		ID:        assistantID,
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Status:    types.MessageActive,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := e.store.AddMessage(ctx, assistantMsg); err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("create assistant message")
		return
	}
	e.publish(sessionID, AssistantMessageCreated{MessageID: assistantID})

	toolDefs := e.toolDefinitions()

	limit := maxSteps
	var finalUsage *types.TokenUsage
	var finalFinish string
	var turnErr error
	aborted := false

stepLoop:
	for stepIndex := 0; stepIndex < limit; stepIndex++ {
		messages, err := e.store.GetMessages(ctx, sessionID)
		if err != nil {
			turnErr = err
			break
		}
		prompt, err := e.assemblePrompt(ctx, *sess, *model, messages)
		if err != nil {
			turnErr = err
			break
		}

		events, err := providerstream.OpenCompletion(ctx, prov, sess.ModelID, prompt, toolDefs, providerstream.CompletionOptions{})
		if err != nil {
			turnErr = err
			break
		}

		usage, finish, sawToolCall, err := e.runStep(ctx, sess, assistantID, stepIndex, events)
		if err != nil {
			if ctx.Err() != nil {
				aborted = true
			} else {
				turnErr = err
			}
			break
		}
		finalUsage = usage
		finalFinish = finish

		if ctx.Err() != nil {
			aborted = true
			break stepLoop
		}
		if !sawToolCall {
			break
		}
	}

	switch {
	case aborted:
		e.finishAborted(context.Background(), sessionID, assistantID)
	case turnErr != nil:
		e.finishError(context.Background(), sessionID, assistantID, turnErr)
	default:
		e.finishCompleted(context.Background(), sessionID, assistantID, finalUsage, finalFinish)
	}

	e.recomputeTokens(context.Background(), sessionID)
	e.maybeGenerateTitle(context.Background(), sessionID)
}

// consultTriggers runs the Trigger Layer against the session's current
// token budget and the most recent message's resource snapshot, applies any
// flag updates, and inserts each advisory as a system-role message (spec
// §4.8 step 2 / §4.9).
func (e *Engine) consultTriggers(ctx context.Context, sess *types.Session, model types.Model) {
	var resource *types.MessageMeta
	if messages, err := e.store.GetMessages(ctx, sess.ID); err == nil {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Metadata != nil {
				resource = messages[i].Metadata
				break
			}
		}
	}

	eval := e.triggers.Evaluate(sess, trigger.Inputs{
		Budget:   trigger.TokenBudget{Current: sess.TotalTokens, Max: model.ContextLength},
		Resource: resource,
	})

	if len(eval.FlagUpdates) > 0 {
		now := time.Now().UnixMilli()
		if err := e.store.UpdateSessionFlags(ctx, sess.ID, eval.FlagUpdates, now); err != nil {
			e.logger.Warn().Err(err).Str("session", sess.ID).Msg("persist trigger flag updates")
		}
		if sess.Flags == nil {
			sess.Flags = map[string]bool{}
		}
		for k, v := range eval.FlagUpdates {
			sess.Flags[k] = v
		}
	}

	for _, sm := range eval.SystemMessages {
		e.insertSystemMessage(ctx, sess.ID, sm)
	}
}

func (e *Engine) insertSystemMessage(ctx context.Context, sessionID, content string) {
	msgID := newID("msg")
	msg := types.Message{
		ID:        msgID,
		SessionID: sessionID,
		Role:      types.RoleSystem,
		Status:    types.MessageCompleted,
		Timestamp: time.Now().UnixMilli(),
		Steps: []types.Step{{StepIndex: 0, Parts: []types.Part{
			types.SystemMessagePart{Content: content, MessageType: "trigger", Timestamp: time.Now().UnixMilli(), Status: types.PartCompleted},
		}}},
	}
	if err := e.store.AddMessage(ctx, msg); err != nil {
		e.logger.Warn().Err(err).Str("session", sessionID).Msg("insert trigger system message")
		return
	}
	e.publish(sessionID, SystemMessageCreated{MessageID: msgID, Content: content})
}

func (e *Engine) assemblePrompt(ctx context.Context, sess types.Session, model types.Model, messages []types.Message) ([]providerstream.ModelMessage, error) {
	systemPrompt := buildSystemPrompt(sess, e.lookupAgent(sess.AgentID))

	assembled, err := assembler.Assemble(ctx, messages, model, e.store)
	if err != nil {
		return nil, err
	}

	prompt := make([]providerstream.ModelMessage, 0, len(assembled)+1)
	prompt = append(prompt, providerstream.ModelMessage{
		Role:    "system",
		Content: []providerstream.ContentPart{{Kind: "text", Text: systemPrompt}},
	})
	return append(prompt, assembled...), nil
}

func (e *Engine) toolDefinitions() []providerstream.ToolDefinition {
	list := e.tools.List()
	defs := make([]providerstream.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, providerstream.ToolDefinition{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func (e *Engine) recomputeTokens(ctx context.Context, sessionID string) {
	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return
	}
	model, err := e.models.GetModel(sess.ProviderID, sess.ModelID)
	if err != nil {
		return
	}
	messages, err := e.store.GetMessages(ctx, sessionID)
	if err != nil {
		return
	}

	total := sess.BaseContextTokens
	for _, msg := range messages {
		total += e.messageTokens(ctx, model, msg)
	}

	if err := e.store.UpdateSessionTokens(ctx, sessionID, sess.BaseContextTokens, total); err != nil {
		e.logger.Warn().Err(err).Str("session", sessionID).Msg("persist recomputed token usage")
		return
	}
	e.publish(sessionID, SessionTokensUpdated{SessionID: sessionID, BaseContextTokens: sess.BaseContextTokens, TotalTokens: total})
}

// messageTokens sums token counts across a message's parts (spec §4.8.2:
// text and base64-decoded textual file content count, binary content counts
// as zero).
func (e *Engine) messageTokens(ctx context.Context, model *types.Model, msg types.Message) int {
	total := 0
	for _, step := range msg.Steps {
		for _, part := range step.Parts {
			switch p := part.(type) {
			case types.TextPart:
				total += tokensOf(*model, p.Content)
			case types.ReasoningPart:
				total += tokensOf(*model, p.Content)
			case types.ToolPart:
				if p.Result != nil {
					total += tokensOf(*model, *p.Result)
				}
			case types.SystemMessagePart:
				total += tokensOf(*model, p.Content)
			case types.FilePart:
				total += tokensOf(*model, decodeTextualFile(p.MediaType, p.Base64))
			case types.FileRefPart:
				if !isTextualMediaType(p.MediaType) {
					continue
				}
				fc, err := e.store.GetFileContent(ctx, p.FileContentID)
				if err != nil {
					continue
				}
				total += tokensOf(*model, string(fc.Content))
			}
		}
	}
	return total
}

// isTextualMediaType reports whether a media type's content should count
// toward token accounting; binary content counts as zero (spec §4.8.2).
func isTextualMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "json") || strings.Contains(mediaType, "xml")
}

func decodeTextualFile(mediaType, b64 string) string {
	if !isTextualMediaType(mediaType) || b64 == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func tokensOf(model types.Model, text string) int {
	n, err := modelregistry.CountTokens(model, text)
	if err != nil {
		return 0
	}
	return n
}

func (e *Engine) finishCompleted(ctx context.Context, sessionID, assistantID string, usage *types.TokenUsage, finishReason string) {
	if err := e.store.UpdateMessageStatus(ctx, assistantID, types.MessageCompleted, usage, finishReason); err != nil {
		e.logger.Warn().Err(err).Str("message", assistantID).Msg("mark message completed")
	}
	e.publish(sessionID, MessageStatusUpdated{MessageID: assistantID, Status: types.MessageCompleted, Usage: usage, FinishReason: finishReason})
	e.publish(sessionID, Complete{Usage: usage, FinishReason: finishReason})
}

func (e *Engine) finishAborted(ctx context.Context, sessionID, assistantID string) {
	if err := e.store.UpdateMessageStatus(ctx, assistantID, types.MessageAbort, nil, ""); err != nil {
		e.logger.Warn().Err(err).Str("message", assistantID).Msg("mark message aborted")
	}
	e.publish(sessionID, MessageStatusUpdated{MessageID: assistantID, Status: types.MessageAbort})
	e.publish(sessionID, Abort{})
}

func (e *Engine) finishError(ctx context.Context, sessionID, assistantID string, cause error) {
	if err := e.store.UpdateMessageStatus(ctx, assistantID, types.MessageError, nil, ""); err != nil {
		e.logger.Warn().Err(err).Str("message", assistantID).Msg("mark message errored")
	}
	e.publish(sessionID, MessageStatusUpdated{MessageID: assistantID, Status: types.MessageError})
	e.publish(sessionID, Error{Error: cause.Error()})
	e.logger.Error().Err(cause).Str("session", sessionID).Msg("turn ended with error")
}

// toolContextFor builds a tool.Context whose AbortCh closes when ctx is
// canceled, propagating turn cancellation into any in-flight tool.
func toolContextFor(ctx context.Context, sessionID, assistantID, callID, workDir string) *tool.Context {
	abort := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abort)
	}()
	return &tool.Context{
		SessionID: sessionID,
		MessageID: assistantID,
		CallID:    callID,
		WorkDir:   workDir,
		AbortCh:   abort,
	}
}

