package widget

import "sync"

// Shell is the floating part of the widget: the launcher button with its unread badge, and whether the
// conversation panel is open.
type Shell struct {
	mu     sync.Mutex
	open   bool
	unread bool
}

// NewShell returns a closed shell whose badge signals the unread welcome message.
func NewShell() *Shell {
	return &Shell{unread: true}
}

// Open opens the panel and clears the badge.
func (sh *Shell) Open() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.open = true
	sh.unread = false
}

// Close closes the panel. The conversation is kept.
func (sh *Shell) Close() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.open = false
}

// MarkAnswered raises the badge if an answer landed while the panel was closed.
func (sh *Shell) MarkAnswered() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if !sh.open {
		sh.unread = true
	}
}

// IsOpen reports whether the panel is open.
func (sh *Shell) IsOpen() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.open
}

// HasUnread reports whether the badge is shown.
func (sh *Shell) HasUnread() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.unread
}
