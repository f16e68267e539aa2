package models

import "time"

// EventType is the taxonomy of the core's observable event stream.
type EventType string

const (
	EventAgentThinking            EventType = "AGENT_THINKING"
	EventAgentResponse            EventType = "AGENT_RESPONSE"
	EventToolCall                 EventType = "TOOL_CALL"
	EventToolConfirmation         EventType = "TOOL_CONFIRMATION"
	EventToolResult               EventType = "TOOL_RESULT"
	EventAgentResponseInterrupted EventType = "AGENT_RESPONSE_INTERRUPTED"
	EventError                    EventType = "ERROR"
	EventProcessing               EventType = "PROCESSING"
	EventConnectionEstablished    EventType = "CONNECTION_ESTABLISHED"
	EventUserMessage              EventType = "USER_MESSAGE"

	// EventSubscriberLag is emitted to every live subscriber other than the
	// one that lagged, when that subscriber's bounded inbox overflowed and
	// an event was dropped for it.
	EventSubscriberLag EventType = "SUBSCRIBER_LAG"
)

// Event is one entry in a session's observable stream.
type Event struct {
	Type      EventType      `json:"type"`
	Content   map[string]any `json:"content,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`

	// Seq is a monotonically increasing per-process sequence number used to
	// prove publish ordering; not part of the wire contract but convenient
	// for tests and for the SUBSCRIBER_LAG payload.
	Seq uint64 `json:"seq"`
}

// NewEvent builds an Event with the given type and content map. Timestamp
// and Seq are filled in by the stream on publish.
func NewEvent(typ EventType, sessionID string, content map[string]any) Event {
	if content == nil {
		content = map[string]any{}
	}
	return Event{Type: typ, Content: content, SessionID: sessionID}
}
