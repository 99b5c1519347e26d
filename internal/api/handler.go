package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/runghost/internal/aggregator"
	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/depgraph"
	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// AuditSource is the read side of the audit sink
type AuditSource interface {
	Query(filter audit.Filter) ([]domain.AuditRecord, error)
	Stats(filter audit.Filter) (audit.Stats, error)
}

// GraphSource builds the dependency graph
type GraphSource interface {
	BuildCached(ctx context.Context, force bool) (*domain.EnhancedGraph, error)
}

// Deps are the services behind the HTTP surface
type Deps struct {
	Aggregator aggregator.Aggregator
	Store      storage.Store
	Audit      AuditSource
	Graph      GraphSource
	Identities []domain.Identity
}

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
	store      storage.Store
	audit      AuditSource
	graph      GraphSource
	identities map[string]domain.Identity
}

// NewHandler creates a new API handler
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		aggregator: deps.Aggregator,
		store:      deps.Store,
		audit:      deps.Audit,
		graph:      deps.Graph,
		identities: make(map[string]domain.Identity, len(deps.Identities)),
	}
	for _, ident := range deps.Identities {
		h.identities[ident.ID] = ident
	}
	return h
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "ok",
	})
}

// GetAuditLogs returns audit records newest first
// GET /audit/logs
func (h *Handler) GetAuditLogs(c *gin.Context) {
	var filter audit.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	logs, err := h.audit.Query(filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    logs,
		"count":   len(logs),
	})
}

// GetAuditStats returns aggregate statistics over audit records
// GET /audit/stats
func (h *Handler) GetAuditStats(c *gin.Context) {
	var filter audit.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	stats, err := h.audit.Stats(filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// GetDependencyGraph returns the dependency graph, narrowed to one identity when asked
// GET /dependencies/graph?identity=&force=
func (h *Handler) GetDependencyGraph(c *gin.Context) {
	var ident *domain.Identity
	if id := c.Query("identity"); id != "" {
		found, ok := h.identities[id]
		if !ok {
			respondError(c, apperrors.NewNotFoundError("Identity "+id))
			return
		}
		ident = &found
	}

	graph, err := h.graph.BuildCached(c.Request.Context(), parseBoolQuery(c, "force"))
	if err != nil {
		respondError(c, err)
		return
	}
	if ident != nil {
		graph = depgraph.FilterForIdentity(graph, *ident)
	}

	respond(c, domain.OK(graph))
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) (int, error) {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, apperrors.NewValidationError("Invalid " + key + " " + strconv.Quote(valueStr))
	}
	return value, nil
}

func parseBoolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

// respond writes a result envelope with the status its error maps to
func respond[T any](c *gin.Context, res domain.Result[T]) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(statusFor(res.Err), res)
}

// respondError sends a failed envelope for err
func respondError(c *gin.Context, err error) {
	body := gin.H{
		"success": false,
		"error":   err.Error(),
	}
	if code, ok := apperrors.CodeOf(err); ok {
		body["code"] = code
	} else {
		body["code"] = apperrors.ErrCodeInternal
	}
	c.JSON(statusFor(err), body)
}

// statusFor maps an error onto an HTTP status
func statusFor(err error) int {
	code, ok := apperrors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeBadRequest, apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
