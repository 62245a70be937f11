package providerstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
)

// maxNetworkRetries bounds openCompletion's connection-establishment
// retries (spec §4.5: at most 2 retries on transient network failure).
const maxNetworkRetries = 2

// ModelMessage is one entry of the ordered prompt the Context Assembler
// hands to openCompletion.
type ModelMessage struct {
	Role    string
	Content []ContentPart
}

// ContentPart is one piece of a ModelMessage's content.
type ContentPart struct {
	Kind       string // "text" | "image" | "file" | "tool-call" | "tool-result"
	Text       string
	MediaType  string
	Base64     string
	Filename   string
	ToolCallID string
	ToolName   string
	Input      map[string]any
	Result     string
}

// ToolDefinition describes a tool available to the model for this turn.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// CompletionOptions carries per-turn generation parameters.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// OpenCompletion starts a streaming completion against provider p and
// returns the ordered ProviderStreamEvent sequence as a channel, closed when
// the stream ends (after a Finish event) or fails. Establishing the stream
// retries up to maxNetworkRetries times on apperr.ProviderNetwork-classified
// failures; once a stream is open, chunk-level errors end the sequence
// immediately (mid-stream retry would risk duplicating partial output).
func OpenCompletion(
	ctx context.Context,
	p provider.Provider,
	modelID string,
	prompt []ModelMessage,
	tools []ToolDefinition,
	options CompletionOptions,
) (<-chan Event, error) {
	stream, err := openWithRetry(ctx, p, modelID, prompt, tools, options)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go runStream(ctx, stream, events)
	return events, nil
}

func openWithRetry(
	ctx context.Context,
	p provider.Provider,
	modelID string,
	prompt []ModelMessage,
	tools []ToolDefinition,
	options CompletionOptions,
) (*provider.CompletionStream, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.5
	capped := backoff.WithContext(backoff.WithMaxRetries(policy, maxNetworkRetries), ctx)

	req := &provider.CompletionRequest{
		Model:       modelID,
		Messages:    convertPrompt(prompt),
		Tools:       convertTools(tools),
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}

	var stream *provider.CompletionStream
	op := func() error {
		s, err := p.CreateCompletion(ctx, req)
		if err != nil {
			if isNetworkError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		stream = s
		return nil
	}

	if err := backoff.Retry(op, capped); err != nil {
		return nil, apperr.Wrap(apperr.ProviderNetwork, "open completion stream", err)
	}
	return stream, nil
}

// isNetworkError is a placeholder classification hook: providers that wrap
// their transport errors distinctly can refine this. Today every
// CreateCompletion failure is treated as retryable, since eino's model
// backends do not yet expose a typed network-vs-auth distinction.
func isNetworkError(err error) bool {
	return err != nil
}

func runStream(ctx context.Context, stream *provider.CompletionStream, events chan<- Event) {
	defer close(events)
	defer stream.Close()

	var textOpen, reasoningOpen bool
	var reasoningStart time.Time
	var accumulatedContent string
	toolIndex := map[string]string{} // lookup key -> toolCallId
	toolNames := map[string]string{}
	toolInputs := map[string]string{}

	send := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage Usage
	var finishReason string

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			send(Finish{FinishReason: "error"})
			return
		}

		if msg.Content != "" {
			if !textOpen {
				textOpen = true
				accumulatedContent = ""
				if !send(TextStart{}) {
					return
				}
			}
			delta := msg.Content
			if len(accumulatedContent) > 0 && len(msg.Content) >= len(accumulatedContent) &&
				msg.Content[:len(accumulatedContent)] == accumulatedContent {
				delta = msg.Content[len(accumulatedContent):]
				accumulatedContent = msg.Content
			} else {
				accumulatedContent += msg.Content
			}
			if delta != "" && !send(TextDelta{Text: delta}) {
				return
			}
		} else if textOpen {
			textOpen = false
			if !send(TextEnd{}) {
				return
			}
		}

		if msg.ReasoningContent != "" {
			if !reasoningOpen {
				reasoningOpen = true
				reasoningStart = time.Now()
				if !send(ReasoningStart{}) {
					return
				}
			}
			if !send(ReasoningDelta{Text: msg.ReasoningContent}) {
				return
			}
		} else if reasoningOpen {
			reasoningOpen = false
			if !send(ReasoningEnd{Duration: time.Since(reasoningStart).Milliseconds()}) {
				return
			}
		}

		for _, tc := range msg.ToolCalls {
			key := fmt.Sprintf("idx:%d", index(tc))
			if tc.ID != "" {
				key = tc.ID
			}

			if _, seen := toolIndex[key]; !seen && tc.ID != "" && tc.Function.Name != "" {
				toolIndex[key] = tc.ID
				toolNames[key] = tc.Function.Name
				toolInputs[key] = ""
				if !send(ToolInputStart{ToolCallID: tc.ID}) {
					return
				}
			}

			if tc.Function.Arguments != "" {
				toolInputs[key] += tc.Function.Arguments
				id := toolIndex[key]
				if !send(ToolInputDelta{ToolCallID: id, InputTextDelta: tc.Function.Arguments}) {
					return
				}
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				usage.Input = msg.ResponseMeta.Usage.PromptTokens
				usage.Output = msg.ResponseMeta.Usage.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finishReason = msg.ResponseMeta.FinishReason
			}
		}
	}

	if textOpen {
		if !send(TextEnd{}) {
			return
		}
	}
	if reasoningOpen {
		if !send(ReasoningEnd{Duration: time.Since(reasoningStart).Milliseconds()}) {
			return
		}
	}

	for key, id := range toolIndex {
		if !send(ToolInputEnd{ToolCallID: id}) {
			return
		}
		var input map[string]any
		_ = json.Unmarshal([]byte(toolInputs[key]), &input)
		if !send(ToolCall{ToolCallID: id, ToolName: toolNames[key], Input: input}) {
			return
		}
	}

	if finishReason == "tool_use" || (finishReason == "" && len(toolIndex) > 0) {
		finishReason = "tool-calls"
	} else if finishReason == "" {
		finishReason = "stop"
	}

	send(Finish{Usage: usage, FinishReason: finishReason})
}

func index(tc schema.ToolCall) int {
	if tc.Index != nil {
		return *tc.Index
	}
	return -1
}

func convertPrompt(prompt []ModelMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(prompt))
	for _, m := range prompt {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool":
			role = schema.Tool
		}
		msg := &schema.Message{Role: role}
		var multi []schema.ChatMessagePart
		for _, part := range m.Content {
			switch part.Kind {
			case "text":
				msg.Content += part.Text
			case "tool-result":
				msg.Content += part.Result
			case "image", "file":
				multi = append(multi, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      "data:" + part.MediaType + ";base64," + part.Base64,
						MIMEType: part.MediaType,
					},
				})
			}
		}
		if len(multi) > 0 {
			if msg.Content != "" {
				multi = append([]schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: msg.Content}}, multi...)
				msg.Content = ""
			}
			msg.MultiContent = multi
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []ToolDefinition) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, &schema.ToolInfo{Name: t.Name, Desc: t.Description})
	}
	return out
}
