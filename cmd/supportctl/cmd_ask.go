package main

import (
	"fmt"
	"strings"

	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			question := strings.Join(args, " ")
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("question is empty")
			}

			session := widget.NewSession(services.NewSupportAPI(opts.apiURL, logger),
				widget.WithRequestTimeout(opts.timeout),
				widget.WithLogger(logger))
			defer session.Close()

			sendErr := session.Send(cmd.Context(), question)

			// The answer is always the last message, the fallback text included.
			msgs := session.Transcript()
			answer := msgs[len(msgs)-1]

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderText(answer.Content))
			if sources := renderSources(answer.Sources); sources != "" {
				fmt.Fprintln(out, sources)
			}

			return sendErr
		},
	}
}
