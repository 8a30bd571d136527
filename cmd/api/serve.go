package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/interview-sim/backend/internal/handler"
	"github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Verify dependencies and start the HTTP server",
	Long: `Checks that the chat provider is reachable and serves the configured model,
probes the speech engine, then starts the HTTP API. A missing provider or
model aborts startup; a missing speech engine only disables audio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.checkDependencies(ctx); err != nil {
		a.logger.Error("startup aborted", "err", err)
		return err
	}

	personas, closePersonas, err := a.openPersonas(ctx)
	if err != nil {
		return fmt.Errorf("open persona store: %w", err)
	}
	defer closePersonas()

	sessions := chat.NewRegistry(
		chat.WithIdleTTL(a.cfg.Session.IdleTTL),
		chat.WithLogger(a.logger),
	)
	a.metrics.TrackSessions(sessions.Len)
	go sessions.Run(ctx, a.cfg.Session.SweepInterval)

	router := handler.NewRouter(handler.Dependencies{
		Personas:       personas,
		Sessions:       sessions,
		Chat:           a.client,
		Speech:         a.speech,
		Metrics:        a.metrics,
		Logger:         a.logger,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.logger.Info("interview simulator backend listening", "addr", srv.Addr)
	return runServer(ctx, srv, a.logger)
}

func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
