package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/diffex/diffex-service/internal/audit"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/invalidation"
	"github.com/weiawesome/diffex/diffex-service/internal/service"
	"github.com/weiawesome/diffex/pkg/log"
	"github.com/weiawesome/diffex/pkg/response"
)

// TopHitsDefaults apply when a top-hits request omits a parameter.
type TopHitsDefaults struct {
	Threshold  float64 `mapstructure:"threshold"`
	Limit      int     `mapstructure:"limit"`
	MinResults int     `mapstructure:"min_results"`
}

// Handler handles HTTP requests for the diffex service.
type Handler struct {
	svc       service.DiffExService
	publisher *invalidation.Publisher
	defaults  TopHitsDefaults
}

// NewHandler creates a new HTTP handler. publisher may be nil when peers
// need not be told about cache clears.
func NewHandler(svc service.DiffExService, publisher *invalidation.Publisher, defaults TopHitsDefaults) *Handler {
	return &Handler{
		svc:       svc,
		publisher: publisher,
		defaults:  defaults,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/results/search", h.SearchResults)
		api.GET("/result-sets/:id/top-hits", h.GetTopHits)

		admin := api.Group("/cache")
		{
			admin.DELETE("", h.ClearAllCaches)
			admin.DELETE("/result-sets/:id", h.ClearResultSetCache)
			admin.DELETE("/result-sets/:id/top-hits", h.ClearTopHitCache)
			admin.PUT("/enabled", h.SetCacheEnabled)
		}
	}
}

// SearchResults looks up every (result-set, gene) pair of the request.
func (h *Handler) SearchResults(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind search request")
		response.BadRequest(c, err.Error())
		return
	}

	results, err := h.svc.FindResultsForGenesAndResultSets(ctx, req.ResultSets, req.GeneIDs)
	if err != nil {
		h.writeError(c, err, "failed to search results")
		return
	}

	response.Success(c, domain.NewSearchResponse(results))
}

// GetTopHits returns the most significant results of a result-set.
func (h *Handler) GetTopHits(c *gin.Context) {
	ctx := c.Request.Context()

	rs, ok := resultSetParam(c)
	if !ok {
		return
	}

	var req domain.TopHitsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	threshold := h.defaults.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	limit := h.defaults.Limit
	if req.Limit != nil {
		limit = *req.Limit
	}
	minResults := h.defaults.MinResults
	if req.MinResults != nil {
		minResults = *req.MinResults
	}

	items, err := h.svc.FindTopHits(ctx, rs, threshold, limit, minResults)
	if err != nil {
		h.writeError(c, err, "failed to find top hits")
		return
	}

	response.Success(c, domain.TopHitsResponse{
		ResultSetID: rs,
		Threshold:   threshold,
		Items:       items,
	})
}

// ClearAllCaches drops every cached result and top-hits list.
func (h *Handler) ClearAllCaches(c *gin.Context) {
	ctx := c.Request.Context()

	h.svc.ClearAllCaches(ctx)
	audit.Log(ctx, audit.ActionClearAll, audit.SourceAPI, "all caches cleared")
	h.notify(c, h.publisher.CacheFlushed(ctx, "manual"))

	response.Success(c, domain.CacheStatusResponse{Enabled: h.svc.CacheEnabled(), Cleared: "all"})
}

// ClearResultSetCache drops the cached results and top hits of one result-set.
func (h *Handler) ClearResultSetCache(c *gin.Context) {
	ctx := c.Request.Context()

	rs, ok := resultSetParam(c)
	if !ok {
		return
	}

	h.svc.ClearCache(ctx, rs)
	h.svc.ClearTopHitCache(ctx, rs)
	audit.LogResultSet(ctx, audit.ActionClearResultSet, audit.SourceAPI, rs, "result set cache cleared")
	h.notify(c, h.publisher.ResultSetUpdated(ctx, rs, "manual"))

	response.Success(c, domain.CacheStatusResponse{Enabled: h.svc.CacheEnabled(), Cleared: "results", ResultSetID: rs})
}

// ClearTopHitCache drops the cached top hits of one result-set.
func (h *Handler) ClearTopHitCache(c *gin.Context) {
	ctx := c.Request.Context()

	rs, ok := resultSetParam(c)
	if !ok {
		return
	}

	h.svc.ClearTopHitCache(ctx, rs)
	audit.LogResultSet(ctx, audit.ActionClearTopHits, audit.SourceAPI, rs, "top hits cache cleared")
	h.notify(c, h.publisher.TopHitsUpdated(ctx, rs, "manual"))

	response.Success(c, domain.CacheStatusResponse{Enabled: h.svc.CacheEnabled(), Cleared: "top_hits", ResultSetID: rs})
}

// SetCacheEnabled toggles the result cache of this instance.
func (h *Handler) SetCacheEnabled(c *gin.Context) {
	var req domain.SetCacheEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.svc.SetEnabled(*req.Enabled)
	audit.LogWithDetail(c.Request.Context(), audit.ActionToggle, audit.SourceAPI, strconv.FormatBool(*req.Enabled), "result cache toggled")
	response.Success(c, domain.CacheStatusResponse{Enabled: h.svc.CacheEnabled()})
}

// notify records a failed invalidation broadcast. The local clear already
// happened, so the request still succeeds.
func (h *Handler) notify(c *gin.Context, err error) {
	if err == nil {
		return
	}
	l := log.Ctx(c.Request.Context())
	l.Warn().Err(err).Msg("failed to publish invalidation event")
	_ = c.Error(err)
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	l := log.Ctx(c.Request.Context())

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrCancelled):
		l.Warn().Err(err).Msg(msg)
		response.RequestTimeout(c, "request cancelled")
	case errors.Is(err, domain.ErrBackingStore):
		l.Error().Err(err).Msg(msg)
		response.BadGateway(c, msg)
	default:
		l.Error().Err(err).Msg(msg)
		response.InternalError(c, msg)
	}
}

func resultSetParam(c *gin.Context) (domain.ResultSetID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid result set id")
		return 0, false
	}
	return domain.ResultSetID(id), true
}
