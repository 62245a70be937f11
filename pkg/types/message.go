package types

// MessageRole identifies the speaker of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus is the lifecycle state of a message. Transitions out of
// Active are monotone: Active -> {Completed, Error, Abort}, never back.
type MessageStatus string

const (
	MessageActive    MessageStatus = "active"
	MessageCompleted MessageStatus = "completed"
	MessageError     MessageStatus = "error"
	MessageAbort     MessageStatus = "abort"
)

// CanTransitionTo reports whether moving from the receiver status to next is
// a legal, monotone transition.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case MessageActive:
		switch next {
		case MessageCompleted, MessageError, MessageAbort:
			return true
		}
		return false
	default:
		// Completed, Error, Abort are terminal.
		return false
	}
}

// Message belongs to exactly one session and holds an ordered sequence of
// steps. Messages and their parts are append-only; only Status (and the
// fields that accompany its terminal transition) may be mutated in place.
type Message struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	Role         MessageRole    `json:"role"`
	Steps        []Step         `json:"steps,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Status       MessageStatus  `json:"status"`
	Usage        *TokenUsage    `json:"usage,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Metadata     *MessageMeta   `json:"metadata,omitempty"`
	TodoSnapshot []Todo         `json:"todoSnapshot,omitempty"`
}

// MessageMeta carries the optional cpu/memory snapshot recorded on user
// messages for the Context Assembler's system-status block.
type MessageMeta struct {
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	MemoryPercent float64 `json:"memoryPercent,omitempty"`
}

// TokenUsage contains prompt/completion token counts for a message or step.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read,omitempty"`
	Write int `json:"write,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}

// Step is a segmentation of an assistant message, one LLM "turn within a
// turn" (e.g. one tool round-trip). Steps are ordered within a message by
// StepIndex, 0-based and dense.
type Step struct {
	StepIndex int         `json:"stepIndex"`
	Parts     []Part      `json:"parts"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	Duration  int64       `json:"duration,omitempty"` // milliseconds
}
