// Package httpapi exposes the search orchestrator and its administrative
// operations over HTTP.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/jobfeed-client/pkg/feed"
	"github.com/Sternrassler/jobfeed-client/pkg/metrics"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Deps are the components served by the router.
type Deps struct {
	Manager *feed.Manager

	// Prewarmer may be nil when prewarming is disabled.
	Prewarmer *feed.Prewarmer

	// Storage checks the cache and ledger backend for /health.
	Storage Pinger

	// BreakerState reports the upstream circuit breaker for /health.
	BreakerState func() string

	// AdminToken guards usage, purge and prewarm. The admin routes are not
	// registered when it is empty.
	AdminToken string

	Logger zerolog.Logger
}

// NewRouter builds the Gin engine with middleware and routes.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Manager == nil {
		panic("httpapi: manager is required")
	}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(deps.Logger))
	r.Use(AccessLog(deps.Logger))

	h := &handler{deps: deps, started: time.Now()}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/jobs/search", h.search)

	if deps.AdminToken != "" {
		admin := api.Group("", AdminAuth(deps.AdminToken))
		{
			admin.GET("/usage", h.usage)
			admin.DELETE("/cache", h.purge)
			admin.POST("/prewarm", h.prewarm)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"success": false, "message": "route " + c.Request.URL.Path + " not found"})
	})
	return r
}
