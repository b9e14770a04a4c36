package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	supportwidget "github.com/MegaGrindStone/support-widget"
	"github.com/MegaGrindStone/support-widget/internal/handlers"
	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}

	// Create custom mux
	mux := http.NewServeMux()

	closeBackend, err := cfg.Backend.mount(mux, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error starting backend: %w", err))
	}

	apiURL := cfg.Backend.baseURL(cfg.Port)
	api := services.NewSupportAPI(apiURL, logger)

	registry, err := widget.NewRegistry(cfg.MaxSessions)
	if err != nil {
		log.Fatal(err)
	}

	m, err := handlers.NewMain(api, registry, cfg.widgetConfig(), logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating handlers: %w", err))
	}

	// Serve static files
	staticFS, err := fs.Sub(supportwidget.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/healthz", m.HandleHealthz)
	mux.HandleFunc("/sse/widget", m.HandleSSE)
	mux.HandleFunc("/widget/open", m.HandleOpen)
	mux.HandleFunc("/widget/close", m.HandleClose)
	mux.HandleFunc("/widget/refresh", m.HandleRefresh)
	mux.HandleFunc("/widget/messages", m.HandleMessages)
	mux.HandleFunc("/widget/feedback", m.HandleFeedback)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("apiURL", apiURL),
			slog.Int("maxSessions", cfg.MaxSessions))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	if err := closeBackend(); err != nil {
		logger.Error("Failed to close backend", slog.String("err", err.Error()))
	}
}
