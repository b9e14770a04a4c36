package widget

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/support-widget/internal/metrics"
	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/google/uuid"
)

// Backend is the support service the widget talks to.
type Backend interface {
	// ChatStream posts a user message and returns the body of the answer event stream. A non-success
	// HTTP status must be reported as an error, without returning a body.
	ChatStream(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error)
	// SendFeedback posts a rating for an answer. Its response is ignored.
	SendFeedback(ctx context.Context, req models.FeedbackRequest) error
}

// Session owns the transcript of one widget lifetime and drives one request/response exchange per
// user turn. It folds the decoded event stream into the transcript and reconciles failures into a
// terminal fallback message, so no message is ever left streaming once an exchange returns.
//
// The session does not refuse overlapping sends: callers must not call Send while Pending or
// Streaming report true (see Input). State may be read concurrently through the accessors, which
// return copies.
type Session struct {
	backend Backend

	welcome         string
	fallback        string
	requestTimeout  time.Duration
	feedbackTimeout time.Duration
	now             func() time.Time
	onChange        func()
	logger          *slog.Logger

	mu             sync.Mutex
	conversationID string
	transcript     []models.Message
	initialLen     int
	pending        bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ConversationID string
	Transcript     []models.Message
	Pending        bool
	Fresh          bool
}

// Option configures a Session.
type Option func(*Session)

const (
	// DefaultWelcomeMessage is the first assistant message of every session.
	DefaultWelcomeMessage = "Ciao! Sono LottAssist, il tuo assistente virtuale Lottomatica. 👋\n\n" +
		"Come posso aiutarti oggi? Puoi chiedermi informazioni su:\n" +
		"- Verifica account e documenti\n" +
		"- Depositi e prelievi\n" +
		"- Bonus e promozioni\n" +
		"- Gioco responsabile\n" +
		"- Scommesse sportive"

	// DefaultFallbackMessage replaces an answer that failed, whatever the failure.
	DefaultFallbackMessage = "Mi dispiace, si è verificato un errore tecnico. Per assistenza immediata contatta " +
		"il supporto al **800 900 009** (lun-dom 9:00-22:00)."

	defaultFeedbackTimeout = 10 * time.Second

	errLoggerKey = "err"
)

// WithWelcomeMessage sets the message the transcript starts with. An empty text starts the session with
// an empty transcript.
func WithWelcomeMessage(text string) Option {
	return func(s *Session) { s.welcome = text }
}

// WithFallbackMessage sets the text shown in place of a failed answer.
func WithFallbackMessage(text string) Option {
	return func(s *Session) {
		if text != "" {
			s.fallback = text
		}
	}
}

// WithRequestTimeout bounds a whole exchange, from the request until the end of the answer stream.
// Zero means no bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestTimeout = d }
}

// WithFeedbackTimeout bounds a feedback submission.
func WithFeedbackTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.feedbackTimeout = d
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithOnChange registers a callback invoked after every state change. It is called without the session
// lock held, so it may read the session.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session bound to backend. The transcript starts with the welcome message.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:         backend,
		welcome:         DefaultWelcomeMessage,
		fallback:        DefaultFallbackMessage,
		feedbackTimeout: defaultFeedbackTimeout,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("module", "session"))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.welcome != "" {
		s.transcript = append(s.transcript, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   s.welcome,
			Timestamp: s.now(),
		})
	}
	s.initialLen = len(s.transcript)

	return s
}

// Send submits text as the next user turn and consumes the answer stream until its terminal event or
// its end. Text that is empty after trimming is ignored, and a closed session refuses the turn without
// touching the transcript.
//
// Send always leaves the transcript consistent: on any failure the answer is replaced (or appended)
// with the fallback message. The returned error only reports what went wrong, it has already been
// reconciled into the transcript.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("session is closed: %w", err)
	}

	ctx, cancel := s.exchangeContext(ctx)
	defer cancel()

	s.mu.Lock()
	s.transcript = append(s.transcript, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: s.now(),
	})
	s.pending = true
	req := models.ChatRequest{Message: text}
	if s.conversationID != "" {
		id := s.conversationID
		req.ConversationID = &id
	}
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	body, err := s.backend.ChatStream(ctx, req)
	if err != nil {
		s.fail()
		metrics.ExchangesTotal.WithLabelValues(metrics.OutcomeTransportError).Inc()
		return fmt.Errorf("error opening answer stream: %w", err)
	}
	defer body.Close()
	metrics.FirstByteSeconds.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.transcript = append(s.transcript, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: s.now(),
		Sources:   []models.Source{},
		Streaming: true,
	})
	s.pending = false
	s.mu.Unlock()
	s.notify()

	outcome := metrics.OutcomeUnterminated
	for ev, err := range DecodeEvents(body) {
		if err != nil {
			s.fail()
			metrics.ExchangesTotal.WithLabelValues(metrics.OutcomeTransportError).Inc()
			return fmt.Errorf("error streaming answer: %w", err)
		}

		s.logger.Debug("Received event", slog.String("type", string(ev.Type)))

		if !s.apply(ev) {
			continue
		}
		s.notify()

		if ev.Terminal() {
			outcome = metrics.OutcomeDone
			if ev.Type == models.EventError {
				outcome = metrics.OutcomeErrorEvent
			}
			break
		}
	}

	if s.finish() {
		s.logger.Warn("Answer stream ended without a terminal event")
		s.notify()
	}
	metrics.ExchangesTotal.WithLabelValues(outcome).Inc()

	return nil
}

// apply folds one event into the state and reports whether anything changed. Events addressed to the
// answer are ignored once it is terminal.
func (s *Session) apply(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Type == models.EventInit {
		if s.conversationID != "" || ev.ConversationID == "" {
			return false
		}
		s.conversationID = ev.ConversationID
		return true
	}

	last := s.streamingMessage()
	if last == nil {
		return false
	}

	switch ev.Type {
	case models.EventChunk:
		if ev.Text == "" {
			return false
		}
		last.Content += ev.Text
	case models.EventDone:
		last.Streaming = false
		last.Sources = append([]models.Source{}, ev.Sources...)
	case models.EventError:
		last.Content = s.fallback
		last.Streaming = false
		last.Sources = []models.Source{}
	default:
		return false
	}
	return true
}

// fail reconciles a transport failure: the streaming answer, if any, is replaced in place by the
// fallback message, otherwise the fallback message is appended.
func (s *Session) fail() {
	s.mu.Lock()
	s.pending = false
	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   s.fallback,
		Timestamp: s.now(),
		Sources:   []models.Source{},
	}
	if last := s.streamingMessage(); last != nil {
		msg.ID = last.ID
		*last = msg
	} else {
		s.transcript = append(s.transcript, msg)
	}
	s.mu.Unlock()
	s.notify()
}

// finish finalizes an answer whose stream ended without done or error. The text received so far is
// kept; an answer that received nothing gets the fallback message.
func (s *Session) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.streamingMessage()
	if last == nil {
		return false
	}
	last.Streaming = false
	if last.Content == "" {
		last.Content = s.fallback
	}
	last.Sources = []models.Source{}
	return true
}

// streamingMessage returns the in-progress answer, which can only be the last message. Callers must
// hold s.mu.
func (s *Session) streamingMessage() *models.Message {
	if len(s.transcript) == 0 {
		return nil
	}
	last := &s.transcript[len(s.transcript)-1]
	if !last.Streaming {
		return nil
	}
	return last
}

// RateMessage records rating on the terminal assistant message at messageIndex. It reports false when
// the message can't be rated: out of range, not an assistant answer, still streaming, or already rated.
func (s *Session) RateMessage(messageIndex int, rating models.Rating) bool {
	if !rating.Valid() {
		return false
	}

	s.mu.Lock()
	if messageIndex < 0 || messageIndex >= len(s.transcript) {
		s.mu.Unlock()
		return false
	}
	msg := &s.transcript[messageIndex]
	if msg.Role != models.RoleAssistant || msg.Streaming || msg.Rating != models.RatingNone {
		s.mu.Unlock()
		return false
	}
	msg.Rating = rating
	s.mu.Unlock()
	s.notify()

	return true
}

// SendFeedback submits rating for the message at messageIndex. It does nothing until the backend has
// assigned a conversation id. Submission is best effort: failures are logged and dropped, never retried.
func (s *Session) SendFeedback(ctx context.Context, messageIndex int, rating models.Rating) {
	conversationID := s.ConversationID()
	if conversationID == "" {
		metrics.FeedbackTotal.WithLabelValues(metrics.FeedbackSkipped).Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.feedbackTimeout)
	defer cancel()

	err := s.backend.SendFeedback(ctx, models.FeedbackRequest{
		ConversationID: conversationID,
		MessageIndex:   messageIndex,
		Rating:         rating,
	})
	if err != nil {
		s.logger.Debug("Failed to send feedback",
			slog.Int("messageIndex", messageIndex),
			slog.String(errLoggerKey, err.Error()))
		metrics.FeedbackTotal.WithLabelValues(metrics.FeedbackFailed).Inc()
		return
	}
	metrics.FeedbackTotal.WithLabelValues(metrics.FeedbackSent).Inc()
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transcriptCopy()
}

func (s *Session) transcriptCopy() []models.Message {
	msgs := make([]models.Message, len(s.transcript))
	for i, m := range s.transcript {
		msgs[i] = m.Clone()
	}
	return msgs
}

// Snapshot returns a consistent copy of the whole session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ConversationID: s.conversationID,
		Transcript:     s.transcriptCopy(),
		Pending:        s.pending,
		Fresh:          len(s.transcript) == s.initialLen,
	}
}

// ConversationID returns the id assigned by the backend, or an empty string before the first init event.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conversationID
}

// Pending reports whether a request was sent and its answer stream hasn't opened yet.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

// Streaming reports whether the last message is an answer still being written.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.streamingMessage() != nil
}

// Fresh reports whether no exchange happened yet, i.e. the transcript only holds the welcome message.
func (s *Session) Fresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.transcript) == s.initialLen
}

// Close tears the session down. An exchange in flight is cancelled and reconciled as a failure.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	if s.ctx.Err() != nil {
		cancel()
	}

	var cancelTimeout context.CancelFunc = func() {}
	if s.requestTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, s.requestTimeout)
	}

	return ctx, func() {
		cancelTimeout()
		stop()
		cancel()
	}
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
