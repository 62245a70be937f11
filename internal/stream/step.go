package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// runStep consumes one provider round's event sequence, forwarding content
// events live, executing any tool calls it observes, and persisting the
// fully assembled step (with any tool results already resolved) once the
// provider's Finish event closes the sequence (spec §4.8 step 5). It
// reports whether a tool call was observed, since that determines whether
// the agentic loop continues with another step.
func (e *Engine) runStep(ctx context.Context, sess *types.Session, assistantID string, stepIndex int, events <-chan providerstream.Event) (*types.TokenUsage, string, bool, error) {
	stepID := newID("step")
	started := false
	start := time.Now()

	var parts []types.Part
	var textAcc, reasoningAcc string
	var reasoningStart time.Time
	var usage *types.TokenUsage
	var finishReason string
	sawToolCall := false

	ensureStarted := func() {
		if started {
			return
		}
		started = true
		todos, _ := e.store.GetTodos(ctx, sess.ID)
		e.publish(sess.ID, StepStart{StepID: stepID, StepIndex: stepIndex, TodoSnapshot: todos})
	}

	for ev := range events {
		ensureStarted()
		switch pe := ev.(type) {
		case providerstream.TextStart:
			textAcc = ""
			e.publish(sess.ID, TextStart{})
		case providerstream.TextDelta:
			textAcc += pe.Text
			e.publish(sess.ID, TextDelta{Text: pe.Text})
		case providerstream.TextEnd:
			e.publish(sess.ID, TextEnd{})
			parts = append(parts, types.TextPart{Content: textAcc, Status: types.PartCompleted})
			textAcc = ""

		case providerstream.ReasoningStart:
			reasoningAcc = ""
			reasoningStart = time.Now()
			e.publish(sess.ID, ReasoningStart{})
		case providerstream.ReasoningDelta:
			reasoningAcc += pe.Text
			e.publish(sess.ID, ReasoningDelta{Text: pe.Text})
		case providerstream.ReasoningEnd:
			e.publish(sess.ID, ReasoningEnd{Duration: pe.Duration})
			end := time.Now().UnixMilli()
			duration := pe.Duration
			parts = append(parts, types.ReasoningPart{
				Content:   reasoningAcc,
				Status:    types.PartCompleted,
				StartTime: reasoningStart.UnixMilli(),
				EndTime:   &end,
				Duration:  &duration,
			})
			reasoningAcc = ""

		case providerstream.ToolInputStart:
			e.publish(sess.ID, ToolInputStart{ToolCallID: pe.ToolCallID})
		case providerstream.ToolInputDelta:
			e.publish(sess.ID, ToolInputDelta{ToolCallID: pe.ToolCallID, InputTextDelta: pe.InputTextDelta})
		case providerstream.ToolInputEnd:
			e.publish(sess.ID, ToolInputEnd{ToolCallID: pe.ToolCallID})

		case providerstream.ToolCall:
			sawToolCall = true
			e.publish(sess.ID, ToolCall{ToolCallID: pe.ToolCallID, ToolName: pe.ToolName, Input: pe.Input})
			parts = append(parts, e.executeToolCall(ctx, sess.ID, sess.Directory, assistantID, pe))

		case providerstream.File:
			e.publish(sess.ID, File{MediaType: pe.MediaType, Base64: pe.Base64})
			parts = append(parts, types.FilePart{
				MediaType: pe.MediaType,
				Base64:    pe.Base64,
				Status:    types.PartCompleted,
			})

		case providerstream.Finish:
			usage = &types.TokenUsage{Input: pe.Usage.Input, Output: pe.Usage.Output, Reasoning: pe.Usage.Reasoning}
			finishReason = pe.FinishReason
		}
	}

	ensureStarted()

	if err := ctx.Err(); err != nil {
		return usage, finishReason, sawToolCall, err
	}

	duration := time.Since(start).Milliseconds()
	if err := e.store.AppendStep(ctx, assistantID, stepIndex, types.Step{
		StepIndex: stepIndex,
		Parts:     parts,
		Usage:     usage,
		Duration:  duration,
	}); err != nil {
		return usage, finishReason, sawToolCall, err
	}
	e.publish(sess.ID, StepComplete{StepID: stepID, Usage: usage, Duration: duration, FinishReason: finishReason})

	return usage, finishReason, sawToolCall, nil
}

// executeToolCall runs one tool call to completion via the Tool Executor,
// returning the fully resolved ToolPart (never left in an active status —
// the in-place active-to-completed transition spec §4.8 describes is
// observed by stream subscribers via the tool-call/tool-result event pair,
// not by a provisional store write).
func (e *Engine) executeToolCall(ctx context.Context, sessionID, workDir, assistantID string, call providerstream.ToolCall) types.Part {
	started := time.Now().UnixMilli()

	input, err := json.Marshal(call.Input)
	if err != nil {
		errMsg := err.Error()
		e.publish(sessionID, ToolError{ToolCallID: call.ToolCallID, ToolName: call.ToolName, Error: errMsg, Duration: 0})
		return types.ToolPart{
			ToolCallID: call.ToolCallID, Name: call.ToolName, Input: call.Input,
			Error: &errMsg, Status: types.ToolError, StartTime: started,
		}
	}

	toolCtx := toolContextFor(ctx, sessionID, assistantID, call.ToolCallID, workDir)
	inv := e.tools.Invoke(ctx, call.ToolName, input, toolCtx)
	durationMS := inv.Duration.Milliseconds()

	if inv.Err != nil {
		errMsg := inv.Err.Error()
		e.publish(sessionID, ToolError{ToolCallID: call.ToolCallID, ToolName: call.ToolName, Error: errMsg, Duration: durationMS})
		return types.ToolPart{
			ToolCallID: call.ToolCallID, Name: call.ToolName, Input: call.Input,
			Error: &errMsg, Status: types.ToolError, StartTime: started, Duration: &durationMS,
		}
	}

	output := inv.Result.Output
	e.publish(sessionID, ToolResult{ToolCallID: call.ToolCallID, ToolName: call.ToolName, Result: output, Duration: durationMS})
	return types.ToolPart{
		ToolCallID: call.ToolCallID, Name: call.ToolName, Input: call.Input,
		Result: &output, Status: types.ToolCompleted, StartTime: started, Duration: &durationMS,
	}
}
