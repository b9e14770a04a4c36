package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	supportwidget "github.com/MegaGrindStone/support-widget"
	"github.com/MegaGrindStone/support-widget/internal/handlers"
	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type mockBackendOptions struct {
	addr       string
	dbPath     string
	faqPath    string
	chunkDelay time.Duration
}

func newMockBackendCmd(opts *rootOptions) *cobra.Command {
	mockOpts := &mockBackendOptions{}

	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Run a local support backend answering from a FAQ catalog",
		Long: `Runs a backend speaking the support API (/api/chat/stream, /api/feedback, /api/health).
Answers come from a YAML FAQ catalog and are streamed word by word; conversations and
feedback are stored in a bolt database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			faq, err := readFAQ(mockOpts.faqPath)
			if err != nil {
				return err
			}

			boltDB, err := services.NewBoltDB(mockOpts.dbPath)
			if err != nil {
				return err
			}
			defer boltDB.Close()

			mux := http.NewServeMux()
			handlers.NewDevBackend(boltDB, faq, mockOpts.chunkDelay, logger).Register(mux, "/api")
			mux.Handle("/metrics", promhttp.Handler())

			srv := &http.Server{
				Addr:              mockOpts.addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Mock backend listening on %s (API at /api)\n", mockOpts.addr)
				serverErrors <- srv.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mockOpts.addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&mockOpts.dbPath, "db", "supportwidget-dev.db", "Bolt database path")
	cmd.Flags().StringVar(&mockOpts.faqPath, "faq", "", "FAQ catalog (YAML), the embedded one when empty")
	cmd.Flags().DurationVar(&mockOpts.chunkDelay, "chunk-delay", 40*time.Millisecond, "Pause before every streamed chunk")

	return cmd
}

func readFAQ(path string) (services.FAQ, error) {
	if path == "" {
		return services.LoadFAQ(bytes.NewReader(supportwidget.DefaultFAQ))
	}

	f, err := os.Open(path)
	if err != nil {
		return services.FAQ{}, fmt.Errorf("error opening faq file: %w", err)
	}
	defer f.Close()

	return services.LoadFAQ(f)
}
