package widget

import (
	"slices"
	"strings"
)

// DefaultQuickReplies is the catalog of canned prompts offered before the first exchange.
var DefaultQuickReplies = []string{
	"Come verifico il mio account?",
	"Problemi con il deposito",
	"Il mio account è bloccato",
	"Come prelevo le vincite?",
	"Voglio autoescludermi",
	"Come funziona il bonus?",
}

// KeyAction is what a key press in the message box does.
type KeyAction int

const (
	// KeyInsert lets the key edit the draft as usual.
	KeyInsert KeyAction = iota
	// KeySubmit sends the draft.
	KeySubmit
	// KeyNewline inserts a literal line break.
	KeyNewline
)

// Input is the message box of the widget. It is the only backpressure on the session: it refuses
// submissions while a request is pending or an answer is streaming.
type Input struct {
	quickReplies []string
}

// InputState is what the input area displays.
type InputState struct {
	Disabled     bool
	QuickReplies []string
}

// NewInput creates an input offering quickReplies. A nil catalog falls back to DefaultQuickReplies.
func NewInput(quickReplies []string) Input {
	if quickReplies == nil {
		quickReplies = DefaultQuickReplies
	}
	return Input{quickReplies: slices.Clone(quickReplies)}
}

// State computes the input area state for snap.
func (in Input) State(snap Snapshot) InputState {
	st := InputState{Disabled: Busy(snap)}
	if snap.Fresh {
		st.QuickReplies = slices.Clone(in.quickReplies)
	}
	return st
}

// Submission returns the text to send for draft, and whether it may be sent at all.
func (in Input) Submission(draft string, snap Snapshot) (string, bool) {
	text := strings.TrimSpace(draft)
	if text == "" || Busy(snap) {
		return "", false
	}
	return text, true
}

// Busy reports whether a request is pending or the last message is still streaming.
func Busy(snap Snapshot) bool {
	if snap.Pending {
		return true
	}
	n := len(snap.Transcript)
	return n > 0 && snap.Transcript[n-1].Streaming
}

// KeyActionFor maps a key press to its action: Enter alone submits, Enter with Shift inserts a line break.
func KeyActionFor(key string, shift bool) KeyAction {
	if key != "Enter" {
		return KeyInsert
	}
	if shift {
		return KeyNewline
	}
	return KeySubmit
}
