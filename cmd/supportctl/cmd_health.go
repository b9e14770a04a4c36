package main

import (
	"context"
	"fmt"

	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the support backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			status, err := services.NewSupportAPI(opts.apiURL, logger).Health(ctx)
			if err != nil {
				return fmt.Errorf("backend unreachable at %s: %w", opts.apiURL, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status.Service, status.Status)
			return nil
		},
	}
}
