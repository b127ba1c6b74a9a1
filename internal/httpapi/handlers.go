package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/jobfeed-client/pkg/feed"
	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
	"github.com/Sternrassler/jobfeed-client/pkg/usage"
)

type handler struct {
	deps    Deps
	started time.Time
}

type searchQuery struct {
	Query           string `form:"query" binding:"max=200"`
	Location        string `form:"location" binding:"max=200"`
	EmploymentTypes string `form:"employment_types"`
	Remote          bool   `form:"remote"`
	DatePosted      string `form:"date_posted"`
	Page            int    `form:"page" binding:"omitempty,min=1,max=100"`
	NumPages        int    `form:"num_pages" binding:"omitempty,min=1"`
}

func (q searchQuery) params() jobs.SearchParams {
	p := jobs.SearchParams{
		Query:      q.Query,
		Location:   q.Location,
		Remote:     q.Remote,
		DatePosted: q.DatePosted,
		Page:       q.Page,
		NumPages:   q.NumPages,
	}
	if q.EmploymentTypes != "" {
		p.EmploymentTypes = strings.Split(q.EmploymentTypes, ",")
	}
	return p
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
}

func (h *handler) search(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid search parameters")
		return
	}

	resp, err := h.deps.Manager.Search(c.Request.Context(), q.params())
	switch {
	case errors.Is(err, feed.ErrEmptyQuery):
		badRequest(c, "query is required")
	case errors.Is(err, feed.ErrNoData):
		c.JSON(http.StatusServiceUnavailable, resp)
	case err != nil:
		h.deps.Logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": feed.SoftFailureMessage})
	default:
		c.JSON(http.StatusOK, resp)
	}
}

type usageResponse struct {
	usage.BudgetStatus
	Remaining int               `json:"remaining"`
	Popular   []usage.QueryStat `json:"popular"`
}

func (h *handler) usage(c *gin.Context) {
	var q struct {
		Top int `form:"top" binding:"omitempty,min=1,max=100"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "top must be between 1 and 100")
		return
	}
	if q.Top == 0 {
		q.Top = 10
	}

	status, popular, err := h.deps.Manager.Usage(c.Request.Context(), q.Top)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Msg("Usage read failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "usage unavailable"})
		return
	}
	if popular == nil {
		popular = []usage.QueryStat{}
	}
	c.JSON(http.StatusOK, usageResponse{BudgetStatus: status, Remaining: status.Remaining(), Popular: popular})
}

// purge accepts either a raw key prefix or a query whose cached variants
// are all removed. Without either it empties the cache.
func (h *handler) purge(c *gin.Context) {
	prefix := c.Query("prefix")
	if query := c.Query("query"); query != "" {
		if prefix != "" {
			badRequest(c, "use either prefix or query")
			return
		}
		prefix = feed.QueryPrefix(query)
	}

	removed, err := h.deps.Manager.Purge(c.Request.Context(), prefix)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Str("prefix", prefix).Msg("Cache purge failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "cache unavailable"})
		return
	}
	h.deps.Logger.Info().Str("prefix", prefix).Int("removed", removed).Msg("Cache purged")
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

func (h *handler) prewarm(c *gin.Context) {
	if h.deps.Prewarmer == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": feed.ErrPrewarmDisabled.Error()})
		return
	}

	// A started pass completes even if the caller goes away.
	report, err := h.deps.Prewarmer.RunOnce(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, feed.ErrPrewarmRunning), errors.Is(err, feed.ErrPrewarmTooSoon),
		errors.Is(err, feed.ErrLockHeld), errors.Is(err, feed.ErrPrewarmBudget):
		c.JSON(http.StatusConflict, gin.H{"success": false, "skipped": true, "message": err.Error()})
	case report == nil:
		h.deps.Logger.Warn().Err(err).Msg("Prewarm failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "prewarm failed"})
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"success": false, "report": report, "message": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
	}
}

func (h *handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}

	if h.deps.Storage != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Storage(ctx); err != nil {
			body["status"] = "degraded"
			body["storage"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			body["storage"] = "ok"
		}
	}
	if h.deps.BreakerState != nil {
		body["upstream_breaker"] = h.deps.BreakerState()
	}
	c.JSON(status, body)
}
