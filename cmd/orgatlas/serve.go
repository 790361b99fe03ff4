package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/orgatlas"
	"github.com/brunobiangulo/orgatlas/metrics"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve projects, documents, extraction passes, territories, agents and
entities over HTTP, with Prometheus metrics at /metrics.

Set server.api_key (ORGATLAS_SERVER_API_KEY) to require a bearer token and
server.cors_origins (ORGATLAS_SERVER_CORS_ORIGINS) to enable CORS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindFlags(cmd, map[string]string{keyServerAddr: "addr"}); err != nil {
				return err
			}
			e, cfg, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := metrics.Register(reg); err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}

			srv := &http.Server{
				Addr:         a.v.GetString(keyServerAddr),
				Handler:      newServer(e, cfg, reg, a.v.GetString(keyAPIKey), a.v.GetString(keyCORSOrigins)),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 0, // extraction passes can be long
				IdleTimeout:  120 * time.Second,
			}
			return run(cmd.Context(), srv)
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	return cmd
}

// newServer assembles the routes and middleware chain:
// recovery -> cors -> auth -> logging -> mux.
func newServer(e orgatlas.Engine, cfg orgatlas.Config, g prometheus.Gatherer, apiKey, corsOrigins string) http.Handler {
	mux := http.NewServeMux()
	newHandler(e, cfg.Provider).routes(mux)
	mux.Handle("GET /metrics", metrics.Handler(g))

	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
