package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/endpoint"
)

func endpointCmd() *cobra.Command {
	var (
		name   string
		script string
		linger bool
	)

	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Run a synchronized map endpoint",
		Long: `Run one headless map endpoint. With sync.enabled it joins its group on the
configured bus, follows the views other endpoints broadcast and broadcasts the
moves made by its (scripted) user.

Examples:
  # Run with ./configs/mapsync.yaml until interrupted
  mapsync endpoint

  # Play a tour as the "display" endpoint, then exit
  mapsync endpoint --name display --script tour.txt

  # Same, but stay connected afterwards
  mapsync endpoint --script tour.txt --linger`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logger.Sync()
			ctx := cmd.Context()

			if cmd.Flags().Changed("name") {
				cfg.Name = name
			}
			if cmd.Flags().Changed("script") {
				cfg.Script.Path = script
			}
			if cmd.Flags().Changed("linger") {
				cfg.Script.Linger = linger
			}

			e, err := endpoint.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to create endpoint", zap.Error(err))
				return err
			}

			if err := e.Run(ctx); err != nil {
				return fmt.Errorf("endpoint %s: %w", cfg.Name, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "endpoint name (overrides config)")
	cmd.Flags().StringVar(&script, "script", "", "script of simulated user actions (overrides config)")
	cmd.Flags().BoolVar(&linger, "linger", false, "keep running after the script ends")

	return cmd
}
