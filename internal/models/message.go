package models

import "time"

// Message is one entry of a widget transcript. User messages are terminal from creation. An assistant
// message starts as a streaming placeholder and becomes immutable once Streaming flips to false.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	// Sources stays empty until the assistant message is finalized by a done event.
	Sources []Source
	// Streaming is true from creation until a terminal stream event is applied.
	Streaming bool
	// Rating is the feedback recorded for the message, RatingNone until the user rates it.
	Rating Rating
}

// Source is a reference tag attached to a finalized assistant answer.
type Source struct {
	Category string  `json:"category"`
	Question string  `json:"question,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// Role represents the role of a message participant.
type Role string

// Rating is the user feedback on an assistant answer.
type Rating int

const (
	// RoleUser represents a message typed or picked by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the support backend or by the widget itself
	// (welcome and fallback texts).
	RoleAssistant Role = "assistant"

	RatingNone     Rating = 0
	RatingPositive Rating = 1
	RatingNegative Rating = -1
)

// Valid reports whether r is a rating the backend accepts.
func (r Rating) Valid() bool {
	return r == RatingPositive || r == RatingNegative
}

// Clone returns a deep copy of m, so snapshots handed out of a session never alias its sources.
func (m Message) Clone() Message {
	if m.Sources != nil {
		m.Sources = append([]Source(nil), m.Sources...)
	}
	return m
}
