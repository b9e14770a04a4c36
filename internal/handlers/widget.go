package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/google/uuid"
)

type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Widgets int    `json:"widgets"`
}

const healthCheckTimeout = 3 * time.Second

// HandleHome renders the demo page with the widget of the browser, creating the widget on the first visit
// or when the previous one was evicted.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wd, ok := m.widgetFromRequest(r)
	if !ok {
		wd = m.newWidget()
		http.SetCookie(w, &http.Cookie{
			Name:     widgetCookieName,
			Value:    wd.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	data := pageData{BotName: m.cfg.BotName, State: wd.State()}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) newWidget() *widget.Widget {
	wd := widget.New(uuid.New().String(), m.backend, m.cfg.Widget, m.logger, m.publish)
	m.widgets.Add(wd)

	m.logger.Debug("Widget created", slog.String("widgetID", wd.ID))
	return wd
}

func (m Main) widgetFromRequest(r *http.Request) (*widget.Widget, bool) {
	c, err := r.Cookie(widgetCookieName)
	if err != nil {
		return nil, false
	}
	return m.widgets.Get(c.Value)
}

// lookupWidget resolves the widget of a POST request, answering the error itself when it can't.
func (m Main) lookupWidget(w http.ResponseWriter, r *http.Request) (*widget.Widget, bool) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	wd, ok := m.widgetFromRequest(r)
	if !ok {
		http.Error(w, "Widget session not found", http.StatusNotFound)
		return nil, false
	}
	return wd, true
}

// HandleOpen opens the widget panel, clearing the unread badge.
func (m Main) HandleOpen(w http.ResponseWriter, r *http.Request) {
	wd, ok := m.lookupWidget(w, r)
	if !ok {
		return
	}
	wd.Shell.Open()
	m.publish(wd)
	w.WriteHeader(http.StatusNoContent)
}

// HandleClose closes the widget panel. The conversation is kept.
func (m Main) HandleClose(w http.ResponseWriter, r *http.Request) {
	wd, ok := m.lookupWidget(w, r)
	if !ok {
		return
	}
	wd.Shell.Close()
	m.publish(wd)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh pushes the whole widget state again. Browsers call it once their event stream is
// connected, to catch up with changes made before the subscription.
func (m Main) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	wd, ok := m.lookupWidget(w, r)
	if !ok {
		return
	}
	m.publish(wd)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMessages accepts a user message from the "message" form field and starts the exchange in the
// background; its progress reaches the browser through SSE.
//
// It answers 400 for a blank message and 409 while the widget is still waiting for or streaming an
// answer.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	wd, ok := m.lookupWidget(w, r)
	if !ok {
		return
	}

	text, err := wd.BeginSend(r.FormValue("message"))
	switch {
	case errors.Is(err, widget.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, widget.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go m.send(wd, text)

	w.WriteHeader(http.StatusAccepted)
}

func (m Main) send(wd *widget.Widget, text string) {
	// The exchange outlives the request; the widget cancels it when torn down.
	if err := wd.Send(context.Background(), text); err != nil {
		m.logger.Warn("Exchange failed",
			slog.String("widgetID", wd.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// HandleFeedback rates the answer at form field "index" with form field "rating" (1 or -1).
func (m Main) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	wd, ok := m.lookupWidget(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "Invalid message index", http.StatusBadRequest)
		return
	}
	rating, err := strconv.Atoi(r.FormValue("rating"))
	if err != nil || !models.Rating(rating).Valid() {
		http.Error(w, "Invalid rating", http.StatusBadRequest)
		return
	}

	if !wd.Session.RateMessage(index, models.Rating(rating)) {
		http.Error(w, "Message can't be rated", http.StatusConflict)
		return
	}
	// The submission is fire and forget, it outlives the request.
	go wd.Session.SendFeedback(context.WithoutCancel(r.Context()), index, models.Rating(rating))

	w.WriteHeader(http.StatusNoContent)
}

// HandleHealthz reports the server health. When the backend can report its own health, its status is
// included; an unreachable backend doesn't make the widget server unhealthy.
func (m Main) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Widgets: m.widgets.Len()}

	if hc, ok := m.backend.(HealthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status, err := hc.Health(ctx)
		if err != nil {
			m.logger.Warn("Backend health check failed", slog.String(errLoggerKey, err.Error()))
			resp.Backend = "unreachable"
		} else {
			resp.Backend = status.Status
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.logger.Error("Failed to encode health", slog.String(errLoggerKey, err.Error()))
	}
}
