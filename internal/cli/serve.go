package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/leafsii/redisdb/internal/api"
	"github.com/leafsii/redisdb/internal/lifecycle"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the record over HTTP until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (default :8080)")
	return cmd
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	server, err := a.buildServer(ctx)
	if err != nil {
		_ = a.shutdown(ctx)
		return err
	}

	a.logger.Infow("Starting redisdb",
		"env", a.cfg.Env,
		"addr", a.cfg.HTTPAddr,
		"backend", a.cfg.Remote.Backend,
		"mode", a.cfg.Sync.Mode,
		"namespace", a.cfg.Sync.Namespace,
		"key", a.cfg.Sync.Key,
	)

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Infow("HTTP server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	sigCtx, stop := context.WithCancel(ctx)
	defer stop()
	signaled := make(chan struct{})
	go func() {
		if sig := lifecycle.WaitForSignal(sigCtx); sig != nil {
			a.logger.Infow("Shutdown signal received", "signal", sig.String())
		}
		close(signaled)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-signaled:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorw("Graceful shutdown failed", "error", err)
		server.Close()
	}

	// Hooks run after the server stops so no request races the final flush.
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Errorw("Exit hooks failed", "error", err)
		serveErr = errors.Join(serveErr, err)
	}

	a.logger.Infow("Server stopped")
	return serveErr
}

// buildServer opens the configured mapping and mounts the admin API.
func (a *app) buildServer(ctx context.Context) (*http.Server, error) {
	mapping, err := a.mapping(ctx)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}

	handler := api.NewHandler(mapping, a.logger)
	middleware := api.NewMiddleware(a.logger, a.metrics)
	router := handler.Routes(middleware, api.RouteOptions{
		CORSOrigins:  a.cfg.Security.CORSAllowedOrigins,
		RateLimitRPM: a.cfg.Security.RateLimitRPM,
		Metrics:      a.metricsHandler,
	})

	a.logger.Infow("CORS configured", "allowed_origins", a.cfg.Security.CORSAllowedOrigins)

	return &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}
