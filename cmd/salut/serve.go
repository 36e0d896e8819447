package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/salut/internal/app"
)

func newServeCmd(g *globals) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tutor with the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bind != "" {
				g.cfg.BindAddr = bind
			}
			return runServe(cmd.Context(), g)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override APP_BIND_ADDR")
	return cmd
}

func runServe(parent context.Context, g *globals) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			g.logger.Warn().Err(err).Msg("cleanup failed")
		}
	}()
	g.logger.Info().Str("detail", res.Detail).Msg("tutor ready")

	runCtx, runCancel := context.WithCancel(context.Background())
	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		_ = res.Controller.Run(runCtx)
	}()

	httpServer := &http.Server{
		Addr:    g.cfg.BindAddr,
		Handler: res.API.Router(),
	}
	listenErr := make(chan error, 1)
	go func() {
		g.logger.Info().Str("addr", g.cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info().Msg("shutdown signal received")
	case err = <-listenErr:
		g.logger.Error().Err(err).Msg("listen error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		g.logger.Warn().Err(serr).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	runCancel()
	<-controllerDone
	g.logger.Info().Msg("shutdown complete")
	return err
}
