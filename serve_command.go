package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nijaru/scriptparser/db"
	"github.com/nijaru/scriptparser/handlers/api"
	"github.com/nijaru/scriptparser/workflow"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const historyRetention = 30 * 24 * time.Hour

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure(nil)
			if err != nil {
				return err
			}

			opts := []api.ServerOption{api.WithLogger(log)}
			if cfg.History.Enabled() {
				store, err := db.Open(cfg.History.Path, cfg.History.MaxConnections)
				if err != nil {
					return errors.Wrap(err, "open history store")
				}
				defer func() {
					if err := store.Close(); err != nil {
						log.WithError(err).Error("Database shutdown error")
					}
				}()
				pruneHistory(cmd.Context(), store, log)
				opts = append(opts, api.WithHistory(store))
			}

			srv := api.NewServer(cfg, workflow.NewFromConfig(cfg, log), opts...)
			return serve(cmd.Context(), srv, cfg.ShutdownTimeout, log)
		},
	}
}

type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until SIGINT or SIGTERM, then drains in-flight requests for
// at most shutdownTimeout.
func serve(ctx context.Context, srv server, shutdownTimeout time.Duration, log *logrus.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server error")
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
		return err
	}
	log.Info("Server stopped")
	return nil
}

func pruneHistory(ctx context.Context, store *db.Store, log *logrus.Logger) {
	removed, err := store.Prune(ctx, time.Now().Add(-historyRetention))
	if err != nil {
		log.WithError(err).Warn("Failed to prune request history")
		return
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("Pruned request history")
	}
}
