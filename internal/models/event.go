package models

// EventType discriminates the payloads of the chat event stream.
type EventType string

const (
	// EventInit carries the conversation identifier assigned by the backend.
	EventInit EventType = "init"
	// EventChunk carries a piece of the assistant answer.
	EventChunk EventType = "chunk"
	// EventDone terminates the answer and carries its sources.
	EventDone EventType = "done"
	// EventError terminates the answer with a backend-side failure.
	EventError EventType = "error"
)

// Event is one decoded `data: ` line of the chat event stream. Which fields are filled depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// ConversationID would be filled if Type is EventInit.
	ConversationID string `json:"conversation_id,omitempty"`
	// Text would be filled if Type is EventChunk.
	Text string `json:"text,omitempty"`
	// Sources would be filled if Type is EventDone. It may be absent.
	Sources []Source `json:"sources,omitempty"`
	// Message may be filled if Type is EventError. It is diagnostic only and never shown to the user.
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends the answer it belongs to.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
