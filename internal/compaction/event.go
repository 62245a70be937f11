package compaction

import (
	"encoding/json"
)

// Compacted is published on the old session's channel once a compaction
// finishes (spec §4.10 step 7: "session-compacted"). It is not part of the
// stable StreamEvent union (spec §4.8/§6) since it reports on the session
// lifecycle rather than one assistant turn, but is marshaled the same way
// for wire consistency with internal/stream's events.
type Compacted struct {
	OldSessionID string `json:"oldSessionId"`
	NewSessionID string `json:"newSessionId"`
	Summary      string `json:"summary"`
	MessageCount int    `json:"messageCount"`
}

func (Compacted) EventType() string { return "session-compacted" }

// Progress reports incremental summary text as the provider streams its
// one-shot completion (spec §4.10 step 3: "Stream progress events").
type Progress struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func (Progress) EventType() string { return "session-compact-progress" }

type marshalable interface {
	EventType() string
}

// marshalEvent mirrors internal/stream.MarshalEvent's inject-a-"type"-field
// convention for this package's own small event set.
func marshalEvent(e marshalable) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeTag, err := json.Marshal(e.EventType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeTag
	return json.Marshal(fields)
}
