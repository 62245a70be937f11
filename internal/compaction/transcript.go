package compaction

import (
	"fmt"
	"strings"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// summaryPreamble instructs the model, grounded on the teacher's
// compact.go's compactionSystemPrompt, generalized to ask explicitly for a
// "## Current Work" section when in-progress work is detectable (spec
// §4.10 step 3).
const summaryPreamble = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Files involved and how they changed
3. Any key user requests or constraints
4. Next steps

If there is work that was left in progress, include a "## Current Work" section describing exactly what remains. Be concise but detailed enough that work can continue seamlessly.`

// continuationPreamble prefixes the summary when it is inserted as the new
// session's first user message (spec §4.10 step 5: "prefixed by a fixed
// preamble").
const continuationPreamble = "This is a continuation of a previous conversation. Here is a summary of what happened so far:\n\n"

// serializeTranscript renders messages as a deterministic "User: … /
// Assistant: …" transcript, including attachment markers for file parts,
// grounded on the teacher's compact.go buildSummaryPrompt.
func serializeTranscript(messages []types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			b.WriteString("User: ")
		case types.RoleAssistant:
			b.WriteString("Assistant: ")
		case types.RoleSystem:
			b.WriteString("System: ")
		}

		for _, step := range msg.Steps {
			for _, part := range step.Parts {
				writePart(&b, part)
			}
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func writePart(b *strings.Builder, part types.Part) {
	switch p := part.(type) {
	case types.TextPart:
		b.WriteString(p.Content)
		b.WriteString("\n")
	case types.ReasoningPart:
		// Reasoning is the model's own scratch work, not conversational
		// content the summary needs to preserve.
	case types.ToolPart:
		fmt.Fprintf(b, "[tool: %s]\n", p.Name)
		if p.Result != nil {
			result := *p.Result
			if len(result) > 500 {
				result = result[:500] + "..."
			}
			b.WriteString(result)
			b.WriteString("\n")
		}
	case types.FilePart:
		fmt.Fprintf(b, "[attachment: %s, %s]\n", p.RelativePath, p.MediaType)
	case types.FileRefPart:
		fmt.Fprintf(b, "[attachment: %s, %s]\n", p.RelativePath, p.MediaType)
	case types.SystemMessagePart:
		fmt.Fprintf(b, "[system: %s]\n", p.Content)
	}
}
