package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecapture/internal/api"
	"github.com/JakeFAU/sitecapture/internal/auth"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture HTTP service",
		Long: `Starts the HTTP service exposing /capture and /logo. Requests are
admitted through a bounded queue and served by a fixed number of capture
workers. SIGINT or SIGTERM drains in-flight requests before exiting.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	st := newStack(cfg, logger)
	defer st.close()

	server := api.NewServer(
		st.service,
		auth.NewGate(cfg.Auth.Secret),
		st.latest,
		st.ready,
		cfg,
		logger.Named("api"),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Workers outlive the signal until the server has drained.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(cmd.Context()))
	defer stopDispatch()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		logger.Info("dispatcher started", zap.Int("concurrency", cfg.Capture.Concurrency))
		st.dispatcher.Run(dispatchCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown initiated")
		defer stopDispatch()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
