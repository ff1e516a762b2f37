package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// HandleSignals starts the server and blocks until SIGINT or SIGTERM,
// then shuts it down gracefully within the timeout. The stop hooks run
// after the listener closes so background workers drain last.
func HandleSignals(srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger, stopHooks ...func()) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown after timeout", "error", err)
	}

	for _, stop := range stopHooks {
		stop()
	}
	return nil
}
