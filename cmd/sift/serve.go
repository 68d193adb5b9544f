package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/sift/internal/api"
)

const shutdownTimeout = 10 * time.Second

// serveCommand serves the read-only status API until ctx is cancelled.
func (app *application) serveCommand(ctx context.Context, args []string) error {
	fs := app.newFlagSet("serve")
	fs.IntVar(&app.config.Server.Port, "port", app.config.Server.Port, "listen port")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.startHTTPServer(ctx, ln, api.NewRouter(store, app.logger))
}

// startHTTPServer serves handler on ln and shuts down gracefully once ctx is
// done or the server fails.
func (app *application) startHTTPServer(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			app.logger.Error("server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("server shutdown completed")
	return nil
}
