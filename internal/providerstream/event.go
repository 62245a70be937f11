// Package providerstream adapts the Provider Adapter (spec L5) boundary: it
// turns a provider's native streaming completion into the spec's
// ProviderStreamEvent tagged union, and retries transient network failures.
//
// Grounded on teacher's internal/session/stream.go (processMessageChunk),
// generalized from that file's bespoke types.*Part mutation into a
// provider-agnostic event sequence independent of the Session Store.
package providerstream

import "encoding/json"

// Event is a closed sum type: one ProviderStreamEvent variant. Every
// concrete variant serializes with a literal "type" discriminator matching
// its EventType().
type Event interface {
	EventType() string
}

// TextStart marks the beginning of a text content block.
type TextStart struct{}

func (TextStart) EventType() string { return "text-start" }

// TextDelta carries one incremental chunk of text content.
type TextDelta struct {
	Text string `json:"text"`
}

func (TextDelta) EventType() string { return "text-delta" }

// TextEnd marks the end of a text content block.
type TextEnd struct{}

func (TextEnd) EventType() string { return "text-end" }

// ReasoningStart marks the beginning of a reasoning (chain-of-thought) block.
type ReasoningStart struct{}

func (ReasoningStart) EventType() string { return "reasoning-start" }

// ReasoningDelta carries one incremental chunk of reasoning content.
type ReasoningDelta struct {
	Text string `json:"text"`
}

func (ReasoningDelta) EventType() string { return "reasoning-delta" }

// ReasoningEnd marks the end of a reasoning block, with its measured
// duration in milliseconds.
type ReasoningEnd struct {
	Duration int64 `json:"duration"`
}

func (ReasoningEnd) EventType() string { return "reasoning-end" }

// ToolInputStart marks the beginning of one tool call's input accumulation.
type ToolInputStart struct {
	ToolCallID string `json:"toolCallId"`
}

func (ToolInputStart) EventType() string { return "tool-input-start" }

// ToolInputDelta carries one incremental chunk of a tool call's raw
// (possibly partial-JSON) input text.
type ToolInputDelta struct {
	ToolCallID     string `json:"toolCallId"`
	InputTextDelta string `json:"inputTextDelta"`
}

func (ToolInputDelta) EventType() string { return "tool-input-delta" }

// ToolInputEnd marks the end of a tool call's input accumulation.
type ToolInputEnd struct {
	ToolCallID string `json:"toolCallId"`
}

func (ToolInputEnd) EventType() string { return "tool-input-end" }

// ToolCall carries a tool call's fully-parsed, ready-to-execute input.
type ToolCall struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input"`
}

func (ToolCall) EventType() string { return "tool-call" }

// File carries an inline file produced by the model (e.g. a generated
// image).
type File struct {
	MediaType string `json:"mediaType"`
	Base64    string `json:"base64"`
}

func (File) EventType() string { return "file" }

// Usage carries the finish event's token counts. It is a separate type from
// types.TokenUsage and has no cache statistics.
type Usage struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	Reasoning int `json:"reasoning,omitempty"`
}

// Finish terminates the event sequence with final usage and finish reason.
type Finish struct {
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finishReason"`
}

func (Finish) EventType() string { return "finish" }

type taggedEvent struct {
	Type string `json:"type"`
}

// MarshalEvent serializes an Event with its literal "type" discriminator
// merged into the variant's own fields, mirroring pkg/types.MarshalPart.
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
