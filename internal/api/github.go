package api

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kurihiro0119/runghost/internal/errors"
)

// RefreshRequest is the body of POST /github/refresh
type RefreshRequest struct {
	IdentityID string `json:"identityId"`
}

// GetIdentities lists the configured identities
// GET /github/identities
func (h *Handler) GetIdentities(c *gin.Context) {
	respond(c, h.aggregator.GetAllIdentities(c.Request.Context()))
}

// GetIdentity returns the cached projection of one identity
// GET /github/identities/:id?force=
func (h *Handler) GetIdentity(c *gin.Context) {
	respond(c, h.aggregator.GetIdentityData(c.Request.Context(), c.Param("id"), parseBoolQuery(c, "force")))
}

// GetRepositoryDetail returns a repository with its children
// GET /github/identities/:id/repositories/:repo?force=
func (h *Handler) GetRepositoryDetail(c *gin.Context) {
	respond(c, h.aggregator.GetRepositoryDetail(c.Request.Context(), c.Param("id"), c.Param("repo"), parseBoolQuery(c, "force")))
}

// GetRepositories lists every cached repository
// GET /github/repositories
func (h *Handler) GetRepositories(c *gin.Context) {
	respond(c, h.aggregator.GetAllRepositories(c.Request.Context()))
}

// GetIssues lists cached issues, of one identity when ?identity= is set
// GET /github/issues
func (h *Handler) GetIssues(c *gin.Context) {
	ctx := c.Request.Context()
	if id := c.Query("identity"); id != "" {
		respond(c, h.aggregator.GetIssuesForIdentity(ctx, id))
		return
	}
	respond(c, h.aggregator.GetAllIssues(ctx))
}

// GetPullRequests lists cached pull requests, of one identity when ?identity= is set
// GET /github/pull-requests
func (h *Handler) GetPullRequests(c *gin.Context) {
	ctx := c.Request.Context()
	if id := c.Query("identity"); id != "" {
		respond(c, h.aggregator.GetPullRequestsForIdentity(ctx, id))
		return
	}
	respond(c, h.aggregator.GetAllPullRequests(ctx))
}

// GetReleases lists every cached release
// GET /github/releases
func (h *Handler) GetReleases(c *gin.Context) {
	respond(c, h.aggregator.GetAllReleases(c.Request.Context()))
}

// GetCacheStatus reports per-table totals and live counts
// GET /github/cache/status
func (h *Handler) GetCacheStatus(c *gin.Context) {
	respond(c, h.aggregator.GetCacheStatus(c.Request.Context()))
}

// ClearCache removes every cached row, or only expired rows with ?expired=true
// POST /github/cache/clear
func (h *Handler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()
	if parseBoolQuery(c, "expired") {
		respond(c, h.aggregator.PruneExpired(ctx))
		return
	}
	respond(c, h.aggregator.ClearCache(ctx))
}

// Refresh forces a re-fetch of one identity, or of all when identityId is empty
// POST /github/refresh {identityId?}
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperrors.NewValidationError("Request body must be JSON"))
		return
	}
	respond(c, h.aggregator.Refresh(c.Request.Context(), req.IdentityID))
}
