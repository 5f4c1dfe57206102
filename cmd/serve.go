package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/threadsage/server/internal/server"
)

func serveCMD(config func() AppConfig) *cobra.Command {
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := BuildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			opts := server.Options{
				Answerer:       app.Pipeline,
				History:        app.Messages,
				Metrics:        app.Metrics,
				RequestTimeout: cfg.Server.RequestTimeout,
			}
			if app.RunLog != nil {
				opts.Runs = app.RunLog
			}
			return server.Run(ctx, cfg.Server.Addr, server.New(opts))
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from HTTP_ADDR)")
	return serve
}
