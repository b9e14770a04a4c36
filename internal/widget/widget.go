package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/support-widget/internal/metrics"
	"github.com/MegaGrindStone/support-widget/internal/models"
	lru "github.com/hashicorp/golang-lru"
)

// Config holds the settings shared by every widget.
type Config struct {
	WelcomeMessage  string
	FallbackMessage string
	QuickReplies    []string
	RequestTimeout  time.Duration
	FeedbackTimeout time.Duration
}

// Errors returned by Widget.BeginSend.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("an answer is still in progress")
)

// Widget is one live chat widget: the session controller, the input box and the floating shell.
type Widget struct {
	ID      string
	Session *Session
	Shell   *Shell
	Input   Input

	mu           sync.Mutex
	submitting   bool
	lastAnswered int
}

// State is everything needed to draw a widget.
type State struct {
	Open      bool
	Unread    bool
	Pending   bool
	Messages  []MessageView
	Input     InputState
	Snapshot  Snapshot
	WidgetID  string
	Answering bool
}

// New creates a widget identified by id. onChange, if not nil, is called after every change of the
// widget state.
func New(id string, backend Backend, cfg Config, logger *slog.Logger, onChange func(*Widget)) *Widget {
	w := &Widget{
		ID:    id,
		Shell: NewShell(),
		Input: NewInput(cfg.QuickReplies),
	}

	welcome := cfg.WelcomeMessage
	if welcome == "" {
		welcome = DefaultWelcomeMessage
	}

	w.Session = NewSession(backend,
		WithWelcomeMessage(welcome),
		WithFallbackMessage(cfg.FallbackMessage),
		WithRequestTimeout(cfg.RequestTimeout),
		WithFeedbackTimeout(cfg.FeedbackTimeout),
		WithLogger(logger.With(slog.String("widgetID", id))),
		WithOnChange(func() {
			w.trackAnswer()
			if onChange != nil {
				onChange(w)
			}
		}),
	)
	w.lastAnswered = len(w.Session.Transcript()) - 1

	return w
}

// trackAnswer raises the shell badge the first time a new answer becomes terminal.
func (w *Widget) trackAnswer() {
	msgs := w.Session.Transcript()
	last := len(msgs) - 1
	if last < 0 || msgs[last].Role != models.RoleAssistant || msgs[last].Streaming {
		return
	}

	w.mu.Lock()
	answered := last > w.lastAnswered
	if answered {
		w.lastAnswered = last
	}
	w.mu.Unlock()

	if answered {
		w.Shell.MarkAnswered()
	}
}

// BeginSend validates draft and reserves the widget for sending it. On success the caller must call
// Send with the returned text, which releases the reservation.
func (w *Widget) BeginSend(draft string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if strings.TrimSpace(draft) == "" {
		return "", ErrEmptyMessage
	}
	if w.submitting {
		return "", ErrBusy
	}
	text, ok := w.Input.Submission(draft, w.Session.Snapshot())
	if !ok {
		return "", ErrBusy
	}
	w.submitting = true

	return text, nil
}

// Send runs the exchange reserved by BeginSend.
func (w *Widget) Send(ctx context.Context, text string) error {
	defer func() {
		w.mu.Lock()
		w.submitting = false
		w.mu.Unlock()
	}()

	return w.Session.Send(ctx, text)
}

// Rate records a rating on the message at index and submits it. It reports whether the rating was
// recorded.
func (w *Widget) Rate(ctx context.Context, index int, rating models.Rating) bool {
	if !w.Session.RateMessage(index, rating) {
		return false
	}
	w.Session.SendFeedback(ctx, index, rating)
	return true
}

// State returns the drawing state of the widget.
func (w *Widget) State() State {
	snap := w.Session.Snapshot()
	input := w.Input.State(snap)

	w.mu.Lock()
	if w.submitting {
		input.Disabled = true
	}
	w.mu.Unlock()

	return State{
		WidgetID:  w.ID,
		Open:      w.Shell.IsOpen(),
		Unread:    w.Shell.HasUnread(),
		Pending:   snap.Pending,
		Answering: Busy(snap),
		Messages:  RenderTranscript(snap.Transcript),
		Input:     input,
		Snapshot:  snap,
	}
}

// Close tears the widget down.
func (w *Widget) Close() {
	w.Session.Close()
}

// Registry holds the live widgets, bounded in number. When full, the least recently used widget is
// torn down to make room.
type Registry struct {
	cache *lru.Cache
}

// NewRegistry creates a registry holding at most size widgets.
func NewRegistry(size int) (*Registry, error) {
	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		if w, ok := value.(*Widget); ok {
			w.Close()
		}
		metrics.ActiveWidgets.Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create widget cache: %w", err)
	}
	return &Registry{cache: cache}, nil
}

// Add registers w.
func (r *Registry) Add(w *Widget) {
	if r.cache.Contains(w.ID) {
		return
	}
	r.cache.Add(w.ID, w)
	metrics.ActiveWidgets.Inc()
}

// Get returns the widget with the given id.
func (r *Registry) Get(id string) (*Widget, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	w, ok := v.(*Widget)
	return w, ok
}

// Remove tears down and forgets the widget with the given id.
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
}

// Len returns the number of live widgets.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Purge tears down every widget.
func (r *Registry) Purge() {
	r.cache.Purge()
}
