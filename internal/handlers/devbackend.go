package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// ConversationStore keeps what the development backend receives.
type ConversationStore interface {
	AddTurn(ctx context.Context, conversationID string, turn models.Turn) error
	Turns(ctx context.Context, conversationID string) ([]models.Turn, error)
	Conversations(ctx context.Context) ([]string, error)
	AddFeedback(ctx context.Context, feedback models.Feedback) error
	Feedbacks(ctx context.Context) ([]models.Feedback, error)
}

// Answerer produces the answer to a user message along with the sources it was drawn from.
type Answerer interface {
	Answer(message string) (string, []models.Source)
}

// DevBackend is a stand-in for the support backend, speaking the same protocol: answers are streamed
// word by word as init, chunk and done events. It answers from a canned catalog, so the widget can be
// run and demonstrated without the real service.
type DevBackend struct {
	store      ConversationStore
	answerer   Answerer
	chunkDelay time.Duration

	logger *slog.Logger
}

type errorDetail struct {
	Detail string `json:"detail"`
}

type statusResponse struct {
	Status string `json:"status"`
}

const devServiceName = "Lottomatica Support AI"

// NewDevBackend creates a DevBackend. chunkDelay is the pause before every chunk event.
func NewDevBackend(store ConversationStore, answerer Answerer, chunkDelay time.Duration, logger *slog.Logger) DevBackend {
	return DevBackend{
		store:      store,
		answerer:   answerer,
		chunkDelay: chunkDelay,
		logger:     logger.With(slog.String("module", "devbackend")),
	}
}

// Register mounts the backend routes on mux under prefix, e.g. "/api".
func (d DevBackend) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc(prefix+"/chat/stream", d.HandleChatStream)
	mux.HandleFunc(prefix+"/feedback", d.HandleFeedback)
	mux.HandleFunc(prefix+"/health", d.HandleHealth)
	mux.HandleFunc(prefix+"/feedbacks", d.HandleFeedbacks)
	mux.HandleFunc(prefix+"/conversations", d.HandleConversations)
	mux.HandleFunc(prefix+"/conversations/{id}", d.HandleConversation)
}

// HandleChatStream answers a chat request with an event stream. The conversation id of the request is
// kept, or a new one is assigned when it is null.
func (d DevBackend) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorDetail{Detail: "Richiesta non valida."})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorDetail{Detail: "Il messaggio non può essere vuoto."})
		return
	}

	conversationID := uuid.New().String()
	if req.ConversationID != nil && *req.ConversationID != "" {
		conversationID = *req.ConversationID
	}
	logger := d.logger.With(slog.String("conversationID", conversationID))

	err := d.store.AddTurn(r.Context(), conversationID, models.Turn{
		Role:      models.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.Error("Failed to store user turn", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: err.Error()})
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		logger.Error("Failed to upgrade connection", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Server-sent events unsupported", http.StatusInternalServerError)
		return
	}

	if err := d.stream(r.Context(), sess, conversationID, req.Message); err != nil {
		logger.Warn("Answer stream interrupted", slog.String(errLoggerKey, err.Error()))
	}
}

func (d DevBackend) stream(ctx context.Context, sess *sse.Session, conversationID, message string) error {
	if err := sendEvent(sess, models.Event{Type: models.EventInit, ConversationID: conversationID}); err != nil {
		return err
	}

	answer, sources := d.answerer.Answer(message)
	for _, chunk := range splitChunks(answer) {
		if d.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.chunkDelay):
			}
		}
		if err := sendEvent(sess, models.Event{Type: models.EventChunk, Text: chunk}); err != nil {
			return err
		}
	}

	err := d.store.AddTurn(ctx, conversationID, models.Turn{
		Role:      models.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	})
	if err != nil {
		d.logger.Error("Failed to store answer",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return sendEvent(sess, models.Event{Type: models.EventError, Message: err.Error()})
	}

	return sendEvent(sess, models.Event{Type: models.EventDone, Sources: sources})
}

// splitChunks cuts text after every space, so the chunks concatenate back to text.
func splitChunks(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}

func sendEvent(sess *sse.Session, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sse.Message{}
	msg.AppendData(string(b))
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// HandleFeedback records a rating of an answer.
func (d DevBackend) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorDetail{Detail: "Richiesta non valida."})
		return
	}
	if req.ConversationID == "" || req.MessageIndex < 0 || !req.Rating.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, errorDetail{Detail: "Feedback non valido."})
		return
	}

	err := d.store.AddFeedback(r.Context(), models.Feedback{
		ConversationID: req.ConversationID,
		MessageIndex:   req.MessageIndex,
		Rating:         req.Rating,
		ReceivedAt:     time.Now(),
	})
	if err != nil {
		d.logger.Error("Failed to store feedback", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: err.Error()})
		return
	}

	d.logger.Info("Feedback received",
		slog.String("conversationID", req.ConversationID),
		slog.Int("messageIndex", req.MessageIndex),
		slog.Int("rating", int(req.Rating)))

	writeJSON(w, http.StatusOK, statusResponse{Status: "received"})
}

// HandleHealth reports the backend health.
func (d DevBackend) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, models.HealthStatus{Status: "ok", Service: devServiceName})
}

// HandleFeedbacks returns every feedback record received, oldest first.
func (d DevBackend) HandleFeedbacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	feedbacks, err := d.store.Feedbacks(r.Context())
	if err != nil {
		d.logger.Error("Failed to get feedbacks", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: err.Error()})
		return
	}
	if feedbacks == nil {
		feedbacks = []models.Feedback{}
	}
	writeJSON(w, http.StatusOK, feedbacks)
}

// HandleConversations returns the ids of the stored conversations.
func (d DevBackend) HandleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids, err := d.store.Conversations(r.Context())
	if err != nil {
		d.logger.Error("Failed to get conversations", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// HandleConversation returns the stored turns of the conversation named by the {id} path value.
func (d DevBackend) HandleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	turns, err := d.store.Turns(r.Context(), r.PathValue("id"))
	if err != nil {
		d.logger.Error("Failed to get turns", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: err.Error()})
		return
	}
	if len(turns) == 0 {
		writeJSON(w, http.StatusNotFound, errorDetail{Detail: "Conversazione non trovata."})
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
