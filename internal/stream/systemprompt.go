package stream

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/agentcore-ai/agentcore/internal/agent"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// buildSystemPrompt assembles the fixed system prompt for a session,
// preferring session.CustomPrompt when set. Grounded on the teacher's
// internal/session/system.go (SystemPrompt.Build), generalized to take the
// agent registry's Agent type directly rather than a session-package-local
// copy.
func buildSystemPrompt(sess types.Session, ag *agent.Agent) string {
	if sess.CustomPrompt != nil && sess.CustomPrompt.Value != "" {
		return sess.CustomPrompt.Value
	}

	var parts []string
	if ag != nil && ag.Prompt != "" {
		parts = append(parts, ag.Prompt)
	} else {
		parts = append(parts, "You are a helpful AI coding assistant with access to tools for reading, writing, and executing commands. Use tools responsibly and follow user instructions carefully.")
	}
	parts = append(parts, environmentContext(sess))
	return strings.Join(parts, "\n\n")
}

func environmentContext(sess types.Session) string {
	return fmt.Sprintf(
		"Working directory: %s\nPlatform: %s\nDate: %s",
		sess.Directory,
		runtime.GOOS,
		time.Now().UTC().Format(time.RFC3339),
	)
}
