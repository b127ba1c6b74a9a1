package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/jobfeed-client/internal/httpapi"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(rt *runtime) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  GET    /api/jobs/search  search jobs (query, location, employment_types, remote, date_posted, page, num_pages)
  GET    /api/usage        monthly budget and popular queries (admin)
  DELETE /api/cache        purge cached searches by prefix or query (admin)
  POST   /api/prewarm      run a prewarm pass (admin)
  GET    /health           liveness and storage check
  GET    /metrics          Prometheus metrics

Admin routes are served only with server.adminRoutes and require
"Authorization: Bearer <server.adminToken>" or "X-API-Key: <token>".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				rt.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), rt)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(ctx context.Context, rt *runtime) error {
	a, err := rt.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	if rt.cfg.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := httpapi.Deps{
		Manager:    a.Manager,
		Storage:    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		AdminToken: rt.cfg.Server.AdminTokenIfEnabled(),
		Logger:     rt.logger.With().Str("component", "http").Logger(),
	}
	if a.Upstream != nil {
		deps.BreakerState = a.Upstream.BreakerState
	}
	if rt.cfg.Prewarm.Enabled {
		deps.Prewarmer = a.Prewarmer
		a.Prewarmer.Start(context.WithoutCancel(ctx))
		defer func() {
			<-a.Prewarmer.Stop().Done()
		}()
	}

	srv := &http.Server{
		Addr:         rt.cfg.Server.Addr(),
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info().
			Str("addr", srv.Addr).
			Str("version", Version).
			Int("monthly_limit", rt.cfg.Budget.MonthlyLimit).
			Bool("prewarm", rt.cfg.Prewarm.Enabled).
			Bool("admin_routes", deps.AdminToken != "").
			Msg("Starting jobfeed server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
