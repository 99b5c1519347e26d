package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// QueryRequest is the body of POST /database/query
type QueryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// GetTables lists the store's tables with their row counts and columns
// GET /database/tables
func (h *Handler) GetTables(c *gin.Context) {
	tables, err := h.store.ListTables(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tables":  tables,
	})
}

// GetRecords returns one page of raw records
// GET /database/records?table=&page=&limit=
func (h *Handler) GetRecords(c *gin.Context) {
	table := c.Query("table")
	if err := storage.ValidateTableName(table); err != nil {
		respondError(c, err)
		return
	}
	page, err := parseIntQuery(c, "page", 1)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := parseIntQuery(c, "limit", 0)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.store.ReadTable(c.Request.Context(), table, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"table":      result.Table,
		"columns":    result.Columns,
		"records":    result.Records,
		"pagination": result.Pagination,
	})
}

// ExecuteQuery runs a read-only SELECT
// POST /database/query {sql}
func (h *Handler) ExecuteQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("Request body must be JSON with a sql field"))
		return
	}

	result, err := h.store.ExecuteQueryWithParams(c.Request.Context(), req.SQL, req.Params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// ResetDatabase deletes and recreates the store
// POST /database/reset
func (h *Handler) ResetDatabase(c *gin.Context) {
	respond(c, h.aggregator.ResetDatabase(c.Request.Context()))
}
