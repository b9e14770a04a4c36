package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/go-resty/resty/v2"
)

// SupportAPI is the HTTP client of the support backend. It implements the widget Backend interface.
type SupportAPI struct {
	client *resty.Client

	logger *slog.Logger
}

// StatusError reports a non-success HTTP status returned by the support backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

const errorBodyLimit = 1 << 10

// NewSupportAPI creates a client of the backend rooted at baseURL, e.g. "http://localhost:8000/api".
// The client sets no overall timeout, since answer streams are long-lived; bound calls through their
// context instead.
func NewSupportAPI(baseURL string, logger *slog.Logger) SupportAPI {
	logger = logger.With(slog.String("module", "supportapi"))
	return SupportAPI{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetLogger(restyLogger{logger: logger}),
		logger: logger,
	}
}

// ChatStream posts a user message to /chat/stream and returns the answer event stream. The caller must
// close it.
func (a SupportAPI) ChatStream(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/chat/stream")
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	body := resp.RawBody()
	if !resp.IsSuccess() {
		return nil, statusError(resp.StatusCode(), body)
	}
	if body == nil {
		return nil, errors.New("empty response body")
	}

	a.logger.Debug("Answer stream opened", slog.Int("status", resp.StatusCode()))

	return body, nil
}

// SendFeedback posts a rating to /feedback. The response body is ignored.
func (a SupportAPI) SendFeedback(ctx context.Context, req models.FeedbackRequest) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/feedback")
	if err != nil {
		return fmt.Errorf("error sending feedback: %w", err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String())}
	}
	return nil
}

// Health queries /health.
func (a SupportAPI) Health(ctx context.Context) (models.HealthStatus, error) {
	var status models.HealthStatus
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/health")
	if err != nil {
		return models.HealthStatus{}, fmt.Errorf("error checking health: %w", err)
	}
	if !resp.IsSuccess() {
		return models.HealthStatus{}, &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String())}
	}
	return status, nil
}

func statusError(code int, body io.ReadCloser) error {
	if body == nil {
		return &StatusError{Code: code}
	}
	defer body.Close()

	b, _ := io.ReadAll(io.LimitReader(body, errorBodyLimit))
	return &StatusError{Code: code, Body: string(b)}
}

func truncate(s string) string {
	if len(s) > errorBodyLimit {
		return s[:errorBodyLimit]
	}
	return s
}

// restyLogger routes resty's own diagnostics to slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
