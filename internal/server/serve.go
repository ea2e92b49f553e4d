package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on listener until ctx is cancelled or the process receives
// SIGINT or SIGTERM. It then stops accepting requests, waits up to timeout for
// in-flight requests, and runs the shutdown hooks within the same budget.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, timeout time.Duration, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if hooks != nil {
		hooks.Execute(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("server shutdown incomplete: %w", err)
	}

	log.Info().Msg("server: shutdown complete")
	return nil
}
