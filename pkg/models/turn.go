package models

// TurnRole identifies which participant produced a Turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// Turn is an ordered sequence of Messages produced atomically by one
// participant. A user Turn holds exactly one UserText message. An
// assistant Turn may hold any number of Thinking/AssistantText/ToolCall
// messages, with ToolResult messages appended by the controller once tool
// execution completes.
type Turn struct {
	Role     TurnRole  `json:"role"`
	Messages []Message `json:"messages"`
}

// PendingToolCalls returns every ToolCall in the turn with no matching
// ToolResult elsewhere in the turn.
func (t Turn) PendingToolCalls() []Message {
	resolved := make(map[string]bool)
	for _, m := range t.Messages {
		if m.Kind == KindToolResult {
			resolved[m.ToolCallID] = true
		}
	}
	var pending []Message
	for _, m := range t.Messages {
		if m.Kind == KindToolCall && !resolved[m.ToolCallID] {
			pending = append(pending, m)
		}
	}
	return pending
}

// LastAssistantText returns the text of the last AssistantText message in
// the turn, or "" if none.
func (t Turn) LastAssistantText() string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Kind == KindAssistantText {
			return t.Messages[i].Text
		}
	}
	return ""
}

// CharLen sums the CharLen of every message in the turn.
func (t Turn) CharLen() int {
	n := 0
	for _, m := range t.Messages {
		n += m.CharLen()
	}
	return n
}
