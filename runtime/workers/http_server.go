package workers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// HTTPServerWorker serves until the context is canceled, then shuts the
// server down gracefully within shutdownTimeout.
type HTTPServerWorker struct {
	log             *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewHTTPServerWorker(log *slog.Logger, server *http.Server, shutdownTimeout time.Duration) *HTTPServerWorker {
	return &HTTPServerWorker{log: log, server: server, shutdownTimeout: shutdownTimeout}
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		w.log.Info("Relay listening", "addr", w.server.Addr)
		errCh <- w.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		// Returning an error lets the supervisor restart the listener
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.log.Error("Graceful shutdown failed", "error", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		w.log.Info("HTTP server stopped")
		return nil
	}
}
