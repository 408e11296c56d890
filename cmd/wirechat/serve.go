package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "loopback API listen address")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync controller and the loopback API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		logger.Info().Str("addr", cfg.Server.Addr).Str("version", version).Msg("starting wirechat client")
		if err := a.Run(ctx); err != nil {
			return err
		}
		logger.Info().Msg("client stopped")
		return nil
	},
}
