package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/mediavault/internal/app"
	"github.com/koustreak/mediavault/internal/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			log := logger.New(&cfg.Log)
			log.Info().
				Str("version", version).
				Str("storage", string(cfg.Storage.Provider)).
				Str("addr", cfg.Server.Addr).
				Msg("starting mediavault")
			log.Debug().Msg("effective config:\n" + cfg.String())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}
