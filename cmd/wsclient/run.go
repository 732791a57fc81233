package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/resilientws/internal/connection"
)

// errClientStopped ends the run group when the client gives up on its own.
var errClientStopped = errors.New("client stopped")

const shutdownTimeout = 10 * time.Second

// service runs until ctx is canceled.
type service func(ctx context.Context) error

// runClient connects in blocking mode and runs services next to the
// client. Everything stops on ctx cancellation, on the first service error,
// or once the client stops reconnecting.
func runClient(ctx context.Context, client *connection.Client, logger *slog.Logger, services ...service) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := client.Connect(gctx, true); err != nil {
			return err
		}
		if client.IsDisposed() {
			return nil
		}
		return errClientStopped
	})
	g.Go(func() error {
		<-gctx.Done()
		client.Dispose()
		return nil
	})
	for _, svc := range services {
		svc := svc // per-iteration copy for Go 1.21 loop semantics
		g.Go(func() error { return svc(gctx) })
	}

	err := g.Wait()
	client.Wait()
	if errors.Is(err, errClientStopped) {
		logger.Info("client stopped reconnecting")
		return nil
	}
	return err
}

// httpService serves srv until ctx is canceled, then shuts it down.
func httpService(srv *http.Server, logger *slog.Logger) service {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting http server", "addr", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
