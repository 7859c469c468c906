package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nkit/internal/config"
	"nkit/internal/fault"
	"nkit/internal/logger"
	"nkit/internal/server"
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	faults := fault.NewHandler(slog.New(slog.NewTextHandler(os.Stderr, nil)), nil)
	exitCode := func(err error, where string) int {
		if faults.Handle(ctx, err, where) {
			return 2
		}
		return 1
	}

	cfg, err := config.Load(os.Getenv("NKIT_CONFIG"))
	if err != nil {
		return exitCode(fmt.Errorf("failed to load config: %w", err), "config")
	}
	if err := cfg.Validate(); err != nil {
		return exitCode(&fault.UserError{Message: "invalid config", CloseApplication: true, Err: err}, "config")
	}

	lg, err := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return exitCode(&fault.UserError{Message: "invalid logging config", CloseApplication: true, Err: err}, "config")
	}
	faults = fault.NewHandler(lg, nil)

	srv, err := server.NewServer(ctx, cfg, lg)
	if err != nil {
		return exitCode(fmt.Errorf("failed to start server: %w", err), "startup")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case err := <-serveErr:
		if err != nil {
			code = exitCode(fmt.Errorf("server stopped: %w", err), "serve")
		}
	case <-quit:
		lg.Info("shutting down server gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		faults.Handle(shutdownCtx, err, "shutdown")
	}
	lg.Info("server exiting")
	return code
}
