package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/runghost/internal/aggregator"
	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/collector"
	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/storage/sqlstore"
)

type fakeGraph struct {
	graph  *domain.EnhancedGraph
	forced []bool
}

func (f *fakeGraph) BuildCached(ctx context.Context, force bool) (*domain.EnhancedGraph, error) {
	f.forced = append(f.forced, force)
	return f.graph, nil
}

type fakeAudit struct {
	records []domain.AuditRecord
	filter  audit.Filter
}

func (f *fakeAudit) Query(filter audit.Filter) ([]domain.AuditRecord, error) {
	f.filter = filter
	return f.records, nil
}

func (f *fakeAudit) Stats(filter audit.Filter) (audit.Stats, error) {
	f.filter = filter
	return audit.Summarize(f.records), nil
}

func intPtr(v int) *int { return &v }

var testIdentities = []domain.Identity{
	{ID: "work", Name: "Work", Username: "octo-work", Token: "ghp_secret", RegistryScopes: []string{"@org"}},
}

type testServer struct {
	router *gin.Engine
	graph  *fakeGraph
	audit  *fakeAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlstore.New(sqlstore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	agg := aggregator.NewAggregator(aggregator.Options{
		Identities: testIdentities,
		Store:      store,
		NewClient: func(domain.Identity) (collector.Collector, error) {
			return nil, errors.New("offline")
		},
	})

	graph := &fakeGraph{graph: &domain.EnhancedGraph{
		Repositories: []domain.WorkspacePackage{
			{Package: domain.ManifestInfo{Name: "@org/a"}},
			{Package: domain.ManifestInfo{Name: "@other/b"}},
		},
		Interdependencies: []domain.Interdependency{},
		RegistryScopes:    map[string]domain.RegistryScope{},
		RegistryPackages:  []domain.RegistryPackage{},
		CrossDependencies: []domain.CrossDependency{},
	}}
	auditSrc := &fakeAudit{records: []domain.AuditRecord{
		{Service: domain.ServiceGitHub, Method: "GET", URL: "https://api.github.com/user", ResponseStatus: intPtr(200), ResponseTime: 100},
		{Service: domain.ServiceGitHub, Method: "GET", URL: "https://api.github.com/user", ResponseStatus: intPtr(500), ResponseTime: 300},
	}}

	handler := NewHandler(Deps{
		Aggregator: agg,
		Store:      store,
		Audit:      auditSrc,
		Graph:      graph,
		Identities: testIdentities,
	})
	return &testServer{router: SetupRoutes(handler), graph: graph, audit: auditSrc}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func tableNames(t *testing.T, body map[string]any) []string {
	t.Helper()
	tables, ok := body["tables"].([]any)
	require.True(t, ok)
	var names []string
	for _, tbl := range tables {
		names = append(names, tbl.(map[string]any)["name"].(string))
	}
	return names
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
}

func TestQueryRejectsNonSelect(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/database/query", `{"sql": "DROP TABLE identities"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Only SELECT queries are allowed", body["error"])

	w, body = s.do(t, http.MethodGet, "/database/tables", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, tableNames(t, body), "identities")
}

func TestQuerySelect(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/database/query", `{"sql": "SELECT COUNT(*) AS n FROM identities"}`)
	require.Equal(t, http.StatusOK, w.Code, body)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(1), result["rowCount"])
	assert.Equal(t, []any{"n"}, result["columns"])
}

func TestRecordsRejectsBadTableName(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/database/records?table=identities;DROP",
		"/database/records?table=1abc",
		"/database/records",
	} {
		w, body := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "Invalid table name", body["error"], path)
	}

	w, body := s.do(t, http.MethodGet, "/database/records?table=identities&page=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestRecordsPage(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/database/records?table=identities&page=1&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, "identities", body["table"])
	assert.Empty(t, body["records"])
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["page"])
	assert.Equal(t, float64(10), pagination["limit"])

	w, _ = s.do(t, http.MethodGet, "/database/records?table=missing_table", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdentitiesOmitTokens(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/github/identities", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "ghp_secret")
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "work", data[0].(map[string]any)["id"])
}

func TestIdentityErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/github/identities/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Identity nobody not found", body["error"])

	w, body = s.do(t, http.MethodGet, "/github/identities/work", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Client for identity work not initialized", body["error"])
}

func TestRefreshReportsErrors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/github/refresh", "")
	require.Equal(t, http.StatusOK, w.Code, body)
	data := body["data"].(map[string]any)
	stats := data["stats"].(map[string]any)
	assert.Equal(t, float64(0), stats["identities"])
	errs := stats["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "work")

	w, _ = s.do(t, http.MethodPost, "/github/refresh", `{"identityId": "nobody"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/github/cache/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sqlite3", body["data"].(map[string]any)["backend"])

	w, body = s.do(t, http.MethodPost, "/github/cache/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["data"])

	w, body = s.do(t, http.MethodPost, "/github/cache/clear?expired=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = s.do(t, http.MethodPost, "/database/reset", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDependencyGraph(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/dependencies/graph?force=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"].(map[string]any)["repositories"], 2)

	w, body = s.do(t, http.MethodGet, "/dependencies/graph?identity=work", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"].(map[string]any)["repositories"], 1)
	assert.Equal(t, []bool{true, false}, s.graph.forced)

	w, _ = s.do(t, http.MethodGet, "/dependencies/graph?identity=nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/audit/logs?service=github&limit=5&startDate=2024-05-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, audit.Filter{Service: "github", Limit: 5, StartDate: "2024-05-01"}, s.audit.filter)

	w, body = s.do(t, http.MethodGet, "/audit/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["totalRequests"])
	assert.Equal(t, float64(1), stats["failedRequests"])

	w, _ = s.do(t, http.MethodGet, "/audit/logs?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/github/identities", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
