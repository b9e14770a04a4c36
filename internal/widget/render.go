package widget

import (
	"github.com/MegaGrindStone/support-widget/internal/models"
)

// Feedback acknowledgments shown once an answer is rated.
const (
	AckPositive = "Grazie! 😊"
	AckNegative = "Grazie per il feedback"
)

const timeLayout = "15:04"

// MessageView is the display data of one transcript message.
type MessageView struct {
	Index     int
	ID        string
	Assistant bool
	// Fragments holds the formatted content of assistant messages.
	Fragments []Fragment
	// Text holds the raw content of user messages, shown as typed.
	Text string
	Time string

	ShowCursor     bool
	ShowFeedback   bool
	Acknowledgment string
	Sources        []string
}

// RenderMessage maps the message at index to its display data.
func RenderMessage(index int, msg models.Message) MessageView {
	v := MessageView{
		Index:     index,
		ID:        msg.ID,
		Assistant: msg.Role == models.RoleAssistant,
		Time:      msg.Timestamp.Format(timeLayout),
	}
	if !v.Assistant {
		v.Text = msg.Content
		return v
	}

	v.Fragments = Format(msg.Content)
	if msg.Streaming {
		v.ShowCursor = true
		return v
	}

	switch msg.Rating {
	case models.RatingPositive:
		v.Acknowledgment = AckPositive
	case models.RatingNegative:
		v.Acknowledgment = AckNegative
	default:
		v.ShowFeedback = true
	}

	for _, src := range msg.Sources {
		if src.Category != "" {
			v.Sources = append(v.Sources, src.Category)
		}
	}
	return v
}

// RenderTranscript maps every message of msgs to its display data.
func RenderTranscript(msgs []models.Message) []MessageView {
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = RenderMessage(i, m)
	}
	return views
}
