package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StartServer creates the HTTP server and serves in the background.
// A listen failure is reported on the returned channel.
func StartServer(addr string, handler http.Handler, logger *zap.Logger) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return srv, errCh
}

// GracefulShutdown stops intake first, then background workers.
func GracefulShutdown(srv *http.Server, deps *Dependencies, timeout time.Duration, logger *zap.Logger) {
	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}

	if deps.Listener != nil {
		deps.Listener.Stop()
	}

	if deps.Scheduler != nil {
		deps.Scheduler.Shutdown(timeout)
	}

	logger.Info("server stopped")
}
