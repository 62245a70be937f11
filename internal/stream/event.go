package stream

import (
	"encoding/json"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Event is the session-level tagged union published to a session's channel
// (spec §4.8 StreamEvent). Mirrors pkg/types.Part and
// internal/providerstream.Event's tagged-union idiom: a literal "type"
// discriminator injected alongside each variant's own fields.
type Event interface {
	EventType() string
}

// Lifecycle events.

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

func (SessionCreated) EventType() string { return "session-created" }

type SessionDeleted struct {
	SessionID string `json:"sessionId"`
}

func (SessionDeleted) EventType() string { return "session-deleted" }

type SessionModelUpdated struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

func (SessionModelUpdated) EventType() string { return "session-model-updated" }

type SessionProviderUpdated struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
}

func (SessionProviderUpdated) EventType() string { return "session-provider-updated" }

type SessionTitleUpdatedStart struct {
	SessionID string `json:"sessionId"`
}

func (SessionTitleUpdatedStart) EventType() string { return "session-title-updated-start" }

type SessionTitleUpdatedDelta struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func (SessionTitleUpdatedDelta) EventType() string { return "session-title-updated-delta" }

type SessionTitleUpdatedEnd struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (SessionTitleUpdatedEnd) EventType() string { return "session-title-updated-end" }

type SessionTitleUpdated struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (SessionTitleUpdated) EventType() string { return "session-title-updated-updated" }

type SessionTokensUpdated struct {
	SessionID         string `json:"sessionId"`
	BaseContextTokens int    `json:"baseContextTokens"`
	TotalTokens       int    `json:"totalTokens"`
}

func (SessionTokensUpdated) EventType() string { return "session-tokens-updated" }

// Message events.

type UserMessageCreated struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

func (UserMessageCreated) EventType() string { return "user-message-created" }

type AssistantMessageCreated struct {
	MessageID string `json:"messageId"`
}

func (AssistantMessageCreated) EventType() string { return "assistant-message-created" }

type SystemMessageCreated struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

func (SystemMessageCreated) EventType() string { return "system-message-created" }

type MessageStatusUpdated struct {
	MessageID    string            `json:"messageId"`
	Status       types.MessageStatus `json:"status"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

func (MessageStatusUpdated) EventType() string { return "message-status-updated" }

// Step events.

type StepStart struct {
	StepID         string       `json:"stepId"`
	StepIndex      int          `json:"stepIndex"`
	Metadata       *types.MessageMeta `json:"metadata,omitempty"`
	TodoSnapshot   []types.Todo `json:"todoSnapshot,omitempty"`
	SystemMessages []string     `json:"systemMessages,omitempty"`
}

func (StepStart) EventType() string { return "step-start" }

type StepComplete struct {
	StepID       string            `json:"stepId"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
	Duration     int64             `json:"duration"`
	FinishReason string            `json:"finishReason,omitempty"`
}

func (StepComplete) EventType() string { return "step-complete" }

// Content events.

type TextStart struct{}

func (TextStart) EventType() string { return "text-start" }

type TextDelta struct {
	Text string `json:"text"`
}

func (TextDelta) EventType() string { return "text-delta" }

type TextEnd struct{}

func (TextEnd) EventType() string { return "text-end" }

type ReasoningStart struct{}

func (ReasoningStart) EventType() string { return "reasoning-start" }

type ReasoningDelta struct {
	Text string `json:"text"`
}

func (ReasoningDelta) EventType() string { return "reasoning-delta" }

type ReasoningEnd struct {
	Duration int64 `json:"duration"`
}

func (ReasoningEnd) EventType() string { return "reasoning-end" }

type File struct {
	MediaType string `json:"mediaType"`
	Base64    string `json:"base64"`
}

func (File) EventType() string { return "file" }

// Tool events.

type ToolInputStart struct {
	ToolCallID string `json:"toolCallId"`
}

func (ToolInputStart) EventType() string { return "tool-input-start" }

type ToolInputDelta struct {
	ToolCallID     string `json:"toolCallId"`
	InputTextDelta string `json:"inputTextDelta"`
}

func (ToolInputDelta) EventType() string { return "tool-input-delta" }

type ToolInputEnd struct {
	ToolCallID string `json:"toolCallId"`
}

func (ToolInputEnd) EventType() string { return "tool-input-end" }

type ToolCall struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input,omitempty"`
}

func (ToolCall) EventType() string { return "tool-call" }

type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Result     string `json:"result"`
	Duration   int64  `json:"duration"`
}

func (ToolResult) EventType() string { return "tool-result" }

type ToolError struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Error      string `json:"error"`
	Duration   int64  `json:"duration"`
}

func (ToolError) EventType() string { return "tool-error" }

// Terminal events.

type Complete struct {
	Usage        *types.TokenUsage `json:"usage,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

func (Complete) EventType() string { return "complete" }

type Error struct {
	Error string `json:"error"`
}

func (Error) EventType() string { return "error" }

type Abort struct{}

func (Abort) EventType() string { return "abort" }

type taggedEvent struct {
	Type string `json:"type"`
}

// MarshalEvent serializes e with its literal "type" discriminator merged
// into its own fields, mirroring pkg/types.MarshalPart.
func MarshalEvent(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(e.EventType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}
