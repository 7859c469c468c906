package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nkit/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the CRUD API for every table of the database",
		Example: `  # Serve a SQLite database on port 9000
  nkit serve --dialect sqlite --dsn ./shop.db --port 9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				_ = srv.Shutdown(context.Background())
				return err
			case <-ctx.Done():
			}

			e.logger.Info("shutting down server gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
