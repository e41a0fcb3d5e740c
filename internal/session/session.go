package session

import "encoding/json"

// Kind tags an Event. Values match the UI's ClaudeEvent type field.
type Kind string

const (
	KindInit       Kind = "init"
	KindText       Kind = "text"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindError      Kind = "error"
	KindComplete   Kind = "complete"
)

// Event is one unit of assistant output published to the UI layer.
type Event struct {
	Kind       Kind            `json:"type"`
	SessionID  string          `json:"session_id"`
	Text       string          `json:"text,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// MarshalJSON writes tool_id on tool events and tool_name on tool_use
// events even when they are empty; other empty fields are left out.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Kind {
	case KindToolUse:
		return json.Marshal(struct {
			plain
			ToolID   string `json:"tool_id"`
			ToolName string `json:"tool_name"`
		}{plain(e), e.ToolID, e.ToolName})
	case KindToolResult:
		return json.Marshal(struct {
			plain
			ToolID string `json:"tool_id"`
		}{plain(e), e.ToolID})
	default:
		return json.Marshal(plain(e))
	}
}

// Emitter publishes events to the UI layer. Implementations must not block
// and must swallow their own delivery failures.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

func errorEvent(msg string) Event {
	return Event{Kind: KindError, Error: msg}
}
