package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bidflow/mailtrack/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := buildSessionDeps(ctx, cmd)
		if err != nil {
			return err
		}
		defer d.close(ctx)

		app := api.NewServer(d.service, d.store, d.logger).App()

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(d.cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			d.logger.Info("shutting down", "signal", sig.String())
			return app.Shutdown()
		case <-ctx.Done():
			return app.Shutdown()
		}
	},
}
