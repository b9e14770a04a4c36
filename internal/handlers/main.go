package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	supportwidget "github.com/MegaGrindStone/support-widget"
	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/tmaxmax/go-sse"
)

// HealthChecker is implemented by backends able to report their own health.
type HealthChecker interface {
	Health(ctx context.Context) (models.HealthStatus, error)
}

// Main serves the widget: the demo page, the user actions and the server-sent events that keep the
// browser in sync with the widget state.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	widgets *widget.Registry
	backend widget.Backend
	cfg     Config

	logger *slog.Logger
}

// Config holds the presentation settings of the widget.
type Config struct {
	BotName string
	Widget  widget.Config
}

type pageData struct {
	BotName string
	State   widget.State
}

// SSE event types, one per partial pushed to the browser.
var (
	messagesSSEType = sse.Type("messages")
	inputSSEType    = sse.Type("input")
	launcherSSEType = sse.Type("launcher")
)

const (
	widgetCookieName = "support_widget_id"
	defaultBotName   = "LottAssist"

	errLoggerKey = "err"
)

// NewMain creates a new Main instance. Widgets are created against backend and kept in widgets. The SSE
// server subscribes every browser to the topic of its own widget, and refuses browsers without a live
// widget.
func NewMain(backend widget.Backend, widgets *widget.Registry, cfg Config, logger *slog.Logger) (Main, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"fragment": renderFragment,
	}).ParseFS(
		supportwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if cfg.BotName == "" {
		cfg.BotName = defaultBotName
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				c, err := r.Cookie(widgetCookieName)
				if err != nil {
					http.Error(w, "Widget session not found", http.StatusNotFound)
					return nil, false
				}
				if _, ok := widgets.Get(c.Value); !ok {
					http.Error(w, "Widget session not found", http.StatusNotFound)
					return nil, false
				}
				return []string{sse.DefaultTopic, widgetTopic(c.Value)}, true
			},
		},
		templates: tmpl,
		widgets:   widgets,
		backend:   backend,
		cfg:       cfg,
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

func widgetTopic(widgetID string) string {
	return fmt.Sprintf("widget-%s", widgetID)
}

// HandleSSE streams the widget updates to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// publish pushes the partials of w to its browser.
func (m Main) publish(w *widget.Widget) {
	data := pageData{BotName: m.cfg.BotName, State: w.State()}

	parts := []struct {
		name string
		typ  sse.EventType
	}{
		{name: "messages", typ: messagesSSEType},
		{name: "input", typ: inputSSEType},
		{name: "launcher", typ: launcherSSEType},
	}
	for _, p := range parts {
		var sb strings.Builder
		if err := m.templates.ExecuteTemplate(&sb, p.name, data); err != nil {
			m.logger.Error("Failed to render partial",
				slog.String("partial", p.name),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		msg := sse.Message{Type: p.typ}
		msg.AppendData(sb.String())
		if err := m.sseSrv.Publish(&msg, widgetTopic(w.ID)); err != nil {
			m.logger.Error("Failed to publish partial",
				slog.String("partial", p.name),
				slog.String("widgetID", w.ID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

// Shutdown gracefully terminates the Main instance. It tells every connected browser the server is going
// away, tears down the live widgets, and waits up to 5 seconds for the SSE connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeWidget")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	m.widgets.Purge()

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
