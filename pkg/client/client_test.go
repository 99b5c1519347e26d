package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	var refreshBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "GET /health":
			_, _ = w.Write([]byte(`{"success": true, "status": "ok"}`))
		case "GET /github/cache/status":
			_, _ = w.Write([]byte(`{"success": true, "data": {"backend": "sqlite3", "totalEntries": 4, "liveEntries": 3,
				"tables": [{"table": "identities", "total": 1, "live": 1}]}}`))
		case "GET /github/identities/work":
			assert.Equal(t, "true", r.URL.Query().Get("force"))
			_, _ = w.Write([]byte(`{"success": true, "data": {"identity": {"id": "work"}, "stats": {"totalStars": 7}}}`))
		case "POST /github/refresh":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&refreshBody))
			_, _ = w.Write([]byte(`{"success": true, "data": {"stats": {"identities": 1, "errors": []}, "refreshed": ["work"]}}`))
		case "GET /github/identities/nobody":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success": false, "error": "Identity nobody not found", "code": "NOT_FOUND"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	require.NoError(t, c.HealthCheck(ctx))

	status, err := c.GetCacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", status.Backend)
	assert.Equal(t, int64(3), status.LiveEntries)
	require.Len(t, status.Tables, 1)

	ident, err := c.GetIdentity(ctx, "work", true)
	require.NoError(t, err)
	assert.Equal(t, 7, ident.Stats.TotalStars)

	res, err := c.Refresh(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"identityId": "work"}, refreshBody)
	assert.Equal(t, []string{"work"}, res.Refreshed)
	assert.Equal(t, 1, res.Stats.Identities)

	_, err = c.GetIdentity(ctx, "nobody", false)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "Identity nobody not found", apiErr.Message)
}
