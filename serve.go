package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ss2dbx/server/internal/httpapi"
	logx "github.com/ss2dbx/server/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stage actions over a JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx, true)
			if err != nil {
				return err
			}

			router := httpapi.NewRouter(httpapi.RouterConfig{
				SessionHandler: httpapi.NewSessionHandler(svc),
				Release:        a.cfg.Environment.IsProduction(),
			})
			// no WriteTimeout: a stage request lasts as long as its completion call
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return runServer(ctx, srv, shutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Grace period for in-flight requests")
	return cmd
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logx.Info().Msg("Shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Warn().Err(err).Msg("HTTP API did not shut down cleanly")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
