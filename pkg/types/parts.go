package types

import (
	"encoding/json"
	"fmt"
)

// PartStatus is the lifecycle state of a streaming part.
type PartStatus string

const (
	PartActive    PartStatus = "active"
	PartCompleted PartStatus = "completed"
	PartError     PartStatus = "error"
)

// Part is a closed sum type: the smallest content unit within a step. Every
// concrete variant serializes with a literal "type" discriminator matching
// its PartType().
type Part interface {
	PartType() string
}

// TextPart is assistant or user text.
type TextPart struct {
	Content string     `json:"content"`
	Status  PartStatus `json:"status"`
}

func (TextPart) PartType() string { return "text" }

// ReasoningPart is assistant chain-of-thought.
type ReasoningPart struct {
	Content   string     `json:"content"`
	Status    PartStatus `json:"status"`
	StartTime int64      `json:"startTime"`
	EndTime   *int64     `json:"endTime,omitempty"`
	Duration  *int64     `json:"duration,omitempty"` // milliseconds
}

func (ReasoningPart) PartType() string { return "reasoning" }

// ToolStatus is the lifecycle of a tool call part.
type ToolStatus string

const (
	ToolActive    ToolStatus = "active"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolPart represents a tool call: input arrives first, then an in-place
// transition to a completed or error result with a measured duration.
type ToolPart struct {
	ToolCallID string         `json:"toolId"`
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	Result     *string        `json:"result,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Status     ToolStatus     `json:"status"`
	StartTime  int64          `json:"startTime"`
	Duration   *int64         `json:"duration,omitempty"` // milliseconds
}

func (ToolPart) PartType() string { return "tool" }

// FilePart is a legacy inline frozen file: base64 content embedded directly
// in the part.
type FilePart struct {
	RelativePath string     `json:"relativePath"`
	Size         int64      `json:"size"`
	MediaType    string     `json:"mediaType"`
	Base64       string     `json:"base64"`
	Status       PartStatus `json:"status"`
}

func (FilePart) PartType() string { return "file" }

// FileRefPart references a FileContent row instead of embedding bytes
// in-line.
type FileRefPart struct {
	RelativePath  string     `json:"relativePath"`
	Size          int64      `json:"size"`
	MediaType     string     `json:"mediaType"`
	FileContentID string     `json:"fileContentId"`
	Status        PartStatus `json:"status"`
}

func (FileRefPart) PartType() string { return "file-ref" }

// ErrorPart is an inline error marker.
type ErrorPart struct {
	Error  string     `json:"error"`
	Status PartStatus `json:"status"`
}

func (ErrorPart) PartType() string { return "error" }

// SystemMessagePart is a trigger-emitted advisory inserted inside a
// message.
type SystemMessagePart struct {
	Content     string     `json:"content"`
	MessageType string     `json:"messageType"`
	Timestamp   int64      `json:"timestamp"`
	Status      PartStatus `json:"status"`
}

func (SystemMessagePart) PartType() string { return "system-message" }

type taggedPart struct {
	Type string `json:"type"`
}

// MarshalPart serializes a Part with its literal "type" discriminator
// merged into the variant's own fields.
func MarshalPart(p Part) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(p.PartType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalPart decodes a Part from its tagged-union JSON form, dispatching
// on the literal "type" field. Unknown types fall back to TextPart.
func UnmarshalPart(data []byte) (Part, error) {
	var tag taggedPart
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("unmarshal part tag: %w", err)
	}

	switch tag.Type {
	case "text":
		var p TextPart
		err := json.Unmarshal(data, &p)
		return p, err
	case "reasoning":
		var p ReasoningPart
		err := json.Unmarshal(data, &p)
		return p, err
	case "tool":
		var p ToolPart
		err := json.Unmarshal(data, &p)
		return p, err
	case "file":
		var p FilePart
		err := json.Unmarshal(data, &p)
		return p, err
	case "file-ref":
		var p FileRefPart
		err := json.Unmarshal(data, &p)
		return p, err
	case "error":
		var p ErrorPart
		err := json.Unmarshal(data, &p)
		return p, err
	case "system-message":
		var p SystemMessagePart
		err := json.Unmarshal(data, &p)
		return p, err
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unknown part type %q: %w", tag.Type, err)
		}
		return p, nil
	}
}
