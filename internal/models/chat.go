package models

import "time"

// ChatRequest is the body of POST /chat/stream. ConversationID is nil (JSON null) on the first turn.
type ChatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageIndex   int    `json:"message_index"`
	Rating         Rating `json:"rating"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Turn is one exchange entry kept by a backend for a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Feedback is a feedback record kept by a backend.
type Feedback struct {
	ConversationID string    `json:"conversation_id"`
	MessageIndex   int       `json:"message_index"`
	Rating         Rating    `json:"rating"`
	ReceivedAt     time.Time `json:"received_at"`
}
