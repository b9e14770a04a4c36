package handlers_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/support-widget/internal/handlers"
	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/MegaGrindStone/support-widget/internal/widget"
)

type mockBackend struct {
	mu sync.Mutex

	stream        string
	block         chan struct{}
	feedbackBlock chan struct{}
	requests      []models.ChatRequest
	feedbacks []models.FeedbackRequest
}

type healthyBackend struct {
	*mockBackend
	healthErr error
}

const testStream = `data: {"type":"init","conversation_id":"conv-1"}
data: {"type":"chunk","text":"Ciao, "}
data: {"type":"chunk","text":"**800 900 009**"}
data: {"type":"done","sources":[{"category":"Account"}]}
`

func (m *mockBackend) ChatStream(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block := m.block
	stream := m.stream
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (m *mockBackend) SendFeedback(ctx context.Context, req models.FeedbackRequest) error {
	m.mu.Lock()
	block := m.feedbackBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedbacks = append(m.feedbacks, req)
	return nil
}

func (m *mockBackend) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func (m *mockBackend) feedbackRequests() []models.FeedbackRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.FeedbackRequest(nil), m.feedbacks...)
}

func (h healthyBackend) Health(context.Context) (models.HealthStatus, error) {
	if h.healthErr != nil {
		return models.HealthStatus{}, h.healthErr
	}
	return models.HealthStatus{Status: "ok", Service: "test"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, backend widget.Backend) (handlers.Main, *widget.Registry) {
	t.Helper()

	registry, err := widget.NewRegistry(8)
	if err != nil {
		t.Fatal(err)
	}
	main, err := handlers.NewMain(backend, registry, handlers.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
	})
	return main, registry
}

// newWidgetCookie visits the home page and returns the widget cookie it sets.
func newWidgetCookie(t *testing.T, main handlers.Main) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	main.HandleHome(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "support_widget_id" {
			return c
		}
	}
	t.Fatal("HandleHome() didn't set the widget cookie")
	return nil
}

func postForm(handler http.HandlerFunc, cookie *http.Cookie, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMain(t *testing.T) {
	registry, err := widget.NewRegistry(1)
	if err != nil {
		t.Fatal(err)
	}

	main, err := handlers.NewMain(&mockBackend{}, registry, handlers.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main, registry := newTestMain(t, &mockBackend{})

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Home page",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"LottAssist", "Come verifico il mio account?", "sw-badge"},
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/unknown",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			main.HandleHome(rec, httptest.NewRequest(tt.method, tt.url, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", rec.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(rec.Body.String(), want) {
					t.Errorf("HandleHome() body should contain %q", want)
				}
			}
		})
	}

	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
}

func TestHandleHomeReusesWidget(t *testing.T) {
	main, registry := newTestMain(t, &mockBackend{})
	cookie := newWidgetCookie(t, main)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	main.HandleHome(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("HandleHome() should not set a new cookie for a live widget")
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}

	// An evicted widget is replaced.
	registry.Remove(cookie.Value)
	rec = httptest.NewRecorder()
	main.HandleHome(rec, req)
	if len(rec.Result().Cookies()) != 1 {
		t.Error("HandleHome() should set a cookie for a new widget")
	}
}

func TestHandleOpenClose(t *testing.T) {
	main, registry := newTestMain(t, &mockBackend{})
	cookie := newWidgetCookie(t, main)
	wd, _ := registry.Get(cookie.Value)

	if rec := postForm(main.HandleOpen, cookie, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("HandleOpen() status = %d", rec.Code)
	}
	if !wd.Shell.IsOpen() || wd.Shell.HasUnread() {
		t.Error("HandleOpen() should open the panel and clear the badge")
	}

	if rec := postForm(main.HandleClose, cookie, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("HandleClose() status = %d", rec.Code)
	}
	if wd.Shell.IsOpen() {
		t.Error("HandleClose() should close the panel")
	}

	if rec := postForm(main.HandleOpen, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("HandleOpen() without widget status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleMessages(t *testing.T) {
	backend := &mockBackend{stream: testStream}
	main, registry := newTestMain(t, backend)
	cookie := newWidgetCookie(t, main)
	wd, _ := registry.Get(cookie.Value)

	tests := []struct {
		name       string
		cookie     *http.Cookie
		message    string
		wantStatus int
	}{
		{name: "No widget", cookie: nil, message: "ciao", wantStatus: http.StatusNotFound},
		{name: "Empty message", cookie: cookie, message: "  ", wantStatus: http.StatusBadRequest},
		{name: "Accepted", cookie: cookie, message: "ciao", wantStatus: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(main.HandleMessages, tt.cookie, url.Values{"message": {tt.message}})
			if rec.Code != tt.wantStatus {
				t.Errorf("HandleMessages() status = %v, want %v", rec.Code, tt.wantStatus)
			}
		})
	}

	waitFor(t, func() bool {
		msgs := wd.Session.Transcript()
		return len(msgs) == 3 && !msgs[2].Streaming
	})

	msgs := wd.Session.Transcript()
	if msgs[1].Content != "ciao" || msgs[2].Content != "Ciao, **800 900 009**" {
		t.Errorf("transcript = %+v", msgs)
	}
	if wd.Session.ConversationID() != "conv-1" {
		t.Errorf("ConversationID() = %q, want conv-1", wd.Session.ConversationID())
	}
	if backend.requestCount() != 1 {
		t.Errorf("backend requests = %d, want 1", backend.requestCount())
	}
}

func TestHandleMessagesBusy(t *testing.T) {
	backend := &mockBackend{stream: testStream, block: make(chan struct{})}
	main, registry := newTestMain(t, backend)
	cookie := newWidgetCookie(t, main)
	wd, _ := registry.Get(cookie.Value)

	if rec := postForm(main.HandleMessages, cookie, url.Values{"message": {"prima"}}); rec.Code != http.StatusAccepted {
		t.Fatalf("HandleMessages() status = %d", rec.Code)
	}
	waitFor(t, func() bool { return wd.Session.Pending() })

	if rec := postForm(main.HandleMessages, cookie, url.Values{"message": {"seconda"}}); rec.Code != http.StatusConflict {
		t.Errorf("HandleMessages() while pending status = %d, want %d", rec.Code, http.StatusConflict)
	}

	close(backend.block)
	waitFor(t, func() bool { return !wd.State().Input.Disabled })

	if rec := postForm(main.HandleMessages, cookie, url.Values{"message": {"terza"}}); rec.Code != http.StatusAccepted {
		t.Errorf("HandleMessages() after answer status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestHandleFeedback(t *testing.T) {
	backend := &mockBackend{stream: testStream}
	main, registry := newTestMain(t, backend)
	cookie := newWidgetCookie(t, main)
	wd, _ := registry.Get(cookie.Value)

	if rec := postForm(main.HandleMessages, cookie, url.Values{"message": {"ciao"}}); rec.Code != http.StatusAccepted {
		t.Fatalf("HandleMessages() status = %d", rec.Code)
	}
	waitFor(t, func() bool {
		msgs := wd.Session.Transcript()
		return len(msgs) == 3 && !msgs[2].Streaming
	})

	tests := []struct {
		name       string
		index      string
		rating     string
		wantStatus int
	}{
		{name: "Invalid index", index: "x", rating: "1", wantStatus: http.StatusBadRequest},
		{name: "Invalid rating", index: "2", rating: "5", wantStatus: http.StatusBadRequest},
		{name: "User message", index: "1", rating: "1", wantStatus: http.StatusConflict},
		{name: "Rated", index: "2", rating: "-1", wantStatus: http.StatusNoContent},
		{name: "Already rated", index: "2", rating: "1", wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(main.HandleFeedback, cookie, url.Values{"index": {tt.index}, "rating": {tt.rating}})
			if rec.Code != tt.wantStatus {
				t.Errorf("HandleFeedback() status = %v, want %v", rec.Code, tt.wantStatus)
			}
		})
	}

	waitFor(t, func() bool { return len(backend.feedbackRequests()) > 0 })
	feedbacks := backend.feedbackRequests()
	want := models.FeedbackRequest{ConversationID: "conv-1", MessageIndex: 2, Rating: models.RatingNegative}
	if len(feedbacks) != 1 || feedbacks[0] != want {
		t.Errorf("feedbacks = %+v, want [%+v]", feedbacks, want)
	}
}

func TestHandleFeedbackDoesNotWaitForSubmission(t *testing.T) {
	backend := &mockBackend{stream: testStream, feedbackBlock: make(chan struct{})}
	main, registry := newTestMain(t, backend)
	cookie := newWidgetCookie(t, main)
	wd, _ := registry.Get(cookie.Value)

	if rec := postForm(main.HandleMessages, cookie, url.Values{"message": {"ciao"}}); rec.Code != http.StatusAccepted {
		t.Fatalf("HandleMessages() status = %d", rec.Code)
	}
	waitFor(t, func() bool {
		msgs := wd.Session.Transcript()
		return len(msgs) == 3 && !msgs[2].Streaming
	})

	ctx, cancel := context.WithCancel(context.Background())
	form := url.Values{"index": {"2"}, "rating": {"1"}}
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/widget/feedback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	returned := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		main.HandleFeedback(rec, req)
		returned <- rec.Code
	}()

	select {
	case code := <-returned:
		if code != http.StatusNoContent {
			t.Errorf("HandleFeedback() status = %d, want %d", code, http.StatusNoContent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleFeedback() waited for the feedback submission")
	}

	// The browser is gone, the submission still goes through.
	cancel()
	close(backend.feedbackBlock)
	waitFor(t, func() bool { return len(backend.feedbackRequests()) == 1 })

	if got := wd.Session.Transcript()[2].Rating; got != models.RatingPositive {
		t.Errorf("Rating = %v, want %v", got, models.RatingPositive)
	}
}

func TestHandleHealthz(t *testing.T) {
	tests := []struct {
		name        string
		backend     widget.Backend
		wantBackend string
	}{
		{name: "No health check", backend: &mockBackend{}, wantBackend: ""},
		{name: "Healthy backend", backend: healthyBackend{mockBackend: &mockBackend{}}, wantBackend: `"backend":"ok"`},
		{
			name:        "Unreachable backend",
			backend:     healthyBackend{mockBackend: &mockBackend{}, healthErr: errors.New("connection refused")},
			wantBackend: `"backend":"unreachable"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newTestMain(t, tt.backend)

			rec := httptest.NewRecorder()
			main.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != http.StatusOK {
				t.Errorf("HandleHealthz() status = %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, `"status":"ok"`) {
				t.Errorf("body = %s, want status ok", body)
			}
			if tt.wantBackend == "" && strings.Contains(body, "backend") {
				t.Errorf("body = %s, want no backend status", body)
			}
			if tt.wantBackend != "" && !strings.Contains(body, tt.wantBackend) {
				t.Errorf("body = %s, want %s", body, tt.wantBackend)
			}
		})
	}
}

func TestHandleSSE(t *testing.T) {
	main, _ := newTestMain(t, &mockBackend{stream: testStream})

	mux := http.NewServeMux()
	mux.HandleFunc("/", main.HandleHome)
	mux.HandleFunc("/sse/widget", main.HandleSSE)
	mux.HandleFunc("/widget/open", main.HandleOpen)
	mux.HandleFunc("/widget/refresh", main.HandleRefresh)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Without a widget the subscription is refused.
	resp, err := http.Get(srv.URL + "/sse/widget")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("SSE without widget status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "support_widget_id" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("home didn't set the widget cookie")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan string, 64)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/widget", nil)
		req.AddCookie(cookie)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	post := func(path string) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, nil)
		req.AddCookie(cookie)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	post("/widget/open")

	// The subscription may start after the first publish, so keep asking for the state until it arrives.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)

	var sawLauncher, sawOpen bool
	for !sawLauncher || !sawOpen {
		select {
		case line := <-lines:
			if line == "event: launcher" {
				sawLauncher = true
			}
			if strings.Contains(line, `data-open="true"`) {
				sawOpen = true
			}
		case <-ticker.C:
			post("/widget/refresh")
		case <-timeout:
			t.Fatalf("no launcher update received (launcher %v, open %v)", sawLauncher, sawOpen)
		}
	}
}
