package bridge

// EventType enumerates the closed set of outbound event variants. Consumers
// switch over these constants; there is no open string dispatch.
type EventType string

const (
	EventStart   EventType = "start"
	EventContent EventType = "content"
	EventEnd     EventType = "end"
	EventError   EventType = "error"
)

// Event is one outbound protocol event produced by the bridge and consumed
// by the SSE transport. Exactly one start event opens a stream, at most one
// content event follows, and exactly one of end/error terminates it.
type Event struct {
	Type           EventType `json:"type"`
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content,omitempty"`
	Role           string    `json:"role,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}

func startEvent(runID, conversationID string) Event {
	return Event{Type: EventStart, ID: runID, ConversationID: conversationID}
}

func contentEvent(runID, conversationID, content string) Event {
	return Event{
		Type:           EventContent,
		ID:             runID,
		ConversationID: conversationID,
		Content:        content,
		Role:           "assistant",
	}
}

func endEvent(runID, conversationID string) Event {
	return Event{Type: EventEnd, ID: runID, ConversationID: conversationID}
}

func errorEvent(runID, conversationID, message string) Event {
	return Event{Type: EventError, ID: runID, ConversationID: conversationID, Error: message}
}
