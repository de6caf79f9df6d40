package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"resetwatch/core/appbootstrap"
)

func serveCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker loop and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			app, err := appbootstrap.New(runCtx, ctx.Config, ctx.Logger)
			if err != nil {
				return err
			}
			return app.Run(runCtx)
		},
	}
}
