// Package types provides the core data types for the agentcore server:
// sessions, messages, steps, parts, file contents, todos, and events.
package types

// Session is the top-level conversation container. A session owns its
// messages exclusively: deleting a session cascades to its messages, steps,
// parts, and todos.
type Session struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"projectID"`
	Directory         string          `json:"directory"`
	ProviderID        string          `json:"provider"`
	ModelID           string          `json:"model"`
	AgentID           string          `json:"agentId"`
	EnabledRuleIDs    []string        `json:"enabledRuleIds,omitempty"`
	Title             string          `json:"title,omitempty"`
	Created           int64           `json:"created"`
	Updated           int64           `json:"updated"`
	Flags             map[string]bool `json:"flags,omitempty"`
	BaseContextTokens int             `json:"baseContextTokens"`
	TotalTokens       int             `json:"totalTokens"`
	NextTodoID        int             `json:"nextTodoId"`
	Metadata          SessionMetadata `json:"metadata,omitempty"`
	Summary           SessionSummary  `json:"summary,omitempty"`
	CustomPrompt      *CustomPrompt   `json:"customPrompt,omitempty"`
}

// SessionMetadata is free-form, used chiefly to record compaction lineage.
type SessionMetadata struct {
	Compacted            bool   `json:"compacted,omitempty"`
	CompactedTo          string `json:"compactedTo,omitempty"`
	CompactedAt          int64  `json:"compactedAt,omitempty"`
	CompactedFrom        string `json:"compactedFrom,omitempty"`
	OriginalTitle        string `json:"originalTitle,omitempty"`
	OriginalMessageCount int    `json:"originalMessageCount,omitempty"`
}

// SessionSummary carries accumulated file-change statistics for the
// session's lifetime, derived from tool-reported diffs (sergi/go-diff).
type SessionSummary struct {
	Additions int        `json:"additions,omitempty"`
	Deletions int         `json:"deletions,omitempty"`
	Files     int         `json:"files,omitempty"`
	Diffs     []FileDiff  `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file touched during the session.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// CustomPrompt overrides the agent's base system prompt.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CloneFlags returns a copy of the flag map so callers can merge-patch it
// without mutating the session in place.
func (s *Session) CloneFlags() map[string]bool {
	out := make(map[string]bool, len(s.Flags))
	for k, v := range s.Flags {
		out[k] = v
	}
	return out
}
