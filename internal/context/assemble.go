// Package context implements the Context Assembler (spec L7): it turns a
// session's persisted messages into the ordered ModelMessage list a
// provider's openCompletion expects, resolving file content, tagging
// capability-gated attachments, and appending system-status/todo blocks and
// abort/error trailers.
//
// Grounded on the teacher's internal/session/system.go (SystemPrompt) for
// the environment/system-prompt portion and internal/session/loop.go's
// convertMessage for the part-to-content-part translation, generalized to
// the full per-message rule set instead of a single flattened prompt.
package context

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/providerstream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// FileContentStore resolves a FileRefPart's opaque id to its bytes. Satisfied
// by *internal/sessionstore.Store.
type FileContentStore interface {
	GetFileContent(ctx context.Context, id string) (*types.FileContent, error)
}

// Assemble builds the ordered ModelMessage list for messages against model,
// resolving file-ref content through files.
func Assemble(ctx context.Context, messages []types.Message, model types.Model, files FileContentStore) ([]providerstream.ModelMessage, error) {
	out := make([]providerstream.ModelMessage, 0, len(messages))
	for _, msg := range messages {
		mm, err := assembleMessage(ctx, msg, model, files)
		if err != nil {
			return nil, fmt.Errorf("assemble message %s: %w", msg.ID, err)
		}
		out = append(out, mm)
	}
	return out, nil
}

func assembleMessage(ctx context.Context, msg types.Message, model types.Model, files FileContentStore) (providerstream.ModelMessage, error) {
	role := "assistant"
	switch msg.Role {
	case types.RoleUser, types.RoleSystem:
		// System-role session messages are lifted into model role "user" to
		// preserve attention decay semantics.
		role = "user"
	}

	var content []providerstream.ContentPart

	if msg.Role == types.RoleUser || msg.Role == types.RoleSystem {
		if block := systemStatusBlock(msg.Metadata); block != "" {
			content = append(content, providerstream.ContentPart{Kind: "text", Text: block})
		}
		if block := todoContextBlock(msg.TodoSnapshot); block != "" {
			content = append(content, providerstream.ContentPart{Kind: "text", Text: block})
		}
	}

	isAssistant := msg.Role == types.RoleAssistant
	for _, step := range msg.Steps {
		for _, part := range step.Parts {
			parts, err := assemblePart(ctx, part, model, files, isAssistant)
			if err != nil {
				return providerstream.ModelMessage{}, err
			}
			content = append(content, parts...)
		}
	}

	switch msg.Status {
	case types.MessageAbort:
		content = append(content, providerstream.ContentPart{Kind: "text", Text: "[This response was aborted by the user]"})
	case types.MessageError:
		content = append(content, providerstream.ContentPart{Kind: "text", Text: "[This response ended with an error]"})
	}

	return providerstream.ModelMessage{Role: role, Content: content}, nil
}

func assemblePart(ctx context.Context, part types.Part, model types.Model, files FileContentStore, isAssistant bool) ([]providerstream.ContentPart, error) {
	switch p := part.(type) {
	case types.TextPart:
		return []providerstream.ContentPart{{Kind: "text", Text: p.Content}}, nil

	case types.ReasoningPart:
		return []providerstream.ContentPart{{Kind: "text", Text: p.Content}}, nil

	case types.ToolPart:
		out := []providerstream.ContentPart{{
			Kind:       "tool-call",
			ToolCallID: p.ToolCallID,
			ToolName:   p.Name,
			Input:      p.Input,
		}}
		if p.Result != nil || p.Error != nil {
			result := ""
			if p.Result != nil {
				result = *p.Result
			} else if p.Error != nil {
				result = "Error: " + *p.Error
			}
			out = append(out, providerstream.ContentPart{
				Kind:       "tool-result",
				ToolCallID: p.ToolCallID,
				ToolName:   p.Name,
				Result:     result,
			})
		}
		return out, nil

	case types.FilePart:
		data, err := base64.StdEncoding.DecodeString(p.Base64)
		if err != nil {
			return nil, fmt.Errorf("decode inline file %s: %w", p.RelativePath, err)
		}
		return resolveFile(model, isAssistant, p.RelativePath, p.MediaType, p.Size, data)

	case types.FileRefPart:
		fc, err := files.GetFileContent(ctx, p.FileContentID)
		if err != nil {
			return nil, fmt.Errorf("load file content %s: %w", p.FileContentID, err)
		}
		return resolveFile(model, isAssistant, p.RelativePath, p.MediaType, p.Size, fc.Content)

	case types.ErrorPart:
		return []providerstream.ContentPart{{Kind: "text", Text: "[Error: " + p.Error + "]"}}, nil

	case types.SystemMessagePart:
		return []providerstream.ContentPart{{Kind: "text", Text: p.Content}}, nil

	default:
		return nil, fmt.Errorf("unknown part type %q", part.PartType())
	}
}

func resolveFile(model types.Model, isAssistant bool, relPath, mediaType string, size int64, data []byte) ([]providerstream.ContentPart, error) {
	isImage := strings.HasPrefix(mediaType, "image/")
	b64 := base64.StdEncoding.EncodeToString(data)
	filename := filepath.Base(relPath)

	if isImage {
		if isAssistant && !modelregistry.ModelSupportsInput(model, "image") {
			path, err := writeTempFile(filename, data)
			if err != nil {
				return nil, err
			}
			return []providerstream.ContentPart{{Kind: "text", Text: fmt.Sprintf("[I generated an image and saved it to: %s]", path)}}, nil
		}
		if modelregistry.ModelSupportsInput(model, "image") {
			return []providerstream.ContentPart{{Kind: "image", MediaType: mediaType, Base64: b64, Filename: filename}}, nil
		}
		return []providerstream.ContentPart{{Kind: "text", Text: binaryPlaceholder(relPath, mediaType, size)}}, nil
	}

	if modelregistry.ModelSupportsInput(model, "file") {
		return []providerstream.ContentPart{{Kind: "file", MediaType: mediaType, Base64: b64, Filename: filename}}, nil
	}
	if isTextualMediaType(mediaType) {
		return []providerstream.ContentPart{{Kind: "text", Text: fmt.Sprintf("<file path=%q>%s</file>", relPath, string(data))}}, nil
	}
	return []providerstream.ContentPart{{Kind: "text", Text: binaryPlaceholder(relPath, mediaType, size)}}, nil
}

func binaryPlaceholder(relPath, mediaType string, size int64) string {
	return fmt.Sprintf("<file path=%q type=%q size=%q>[Binary file content not shown]</file>", relPath, mediaType, fmt.Sprintf("%d", size))
}

func isTextualMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml", "application/javascript", "application/typescript":
		return true
	}
	return false
}

func writeTempFile(filename string, data []byte) (string, error) {
	dir, err := os.MkdirTemp("", "agentcore-generated-")
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = "generated"
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// systemStatusBlock renders a compact timestamp/cpu/memory block from a
// user message's recorded resource snapshot.
func systemStatusBlock(meta *types.MessageMeta) string {
	if meta == nil {
		return ""
	}
	if meta.CPUPercent == 0 && meta.MemoryPercent == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# System Status\n")
	fmt.Fprintf(&b, "Time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "CPU: %.1f%%\n", meta.CPUPercent)
	fmt.Fprintf(&b, "Memory: %.1f%%\n", meta.MemoryPercent)
	return b.String()
}

// todoContextBlock renders the current todo list compactly, one line per
// item, marked by status.
func todoContextBlock(todos []types.Todo) string {
	if len(todos) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Current Todos\n")
	for _, t := range todos {
		mark := " "
		switch t.Status {
		case types.TodoInProgress:
			mark = "~"
		case types.TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Content)
	}
	return b.String()
}
