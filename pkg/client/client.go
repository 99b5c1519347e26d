package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kurihiro0119/runghost/internal/aggregator"
	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// Client is the API client for a running runghost dashboard
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a failed envelope returned by the dashboard
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

// GetCacheStatus retrieves per-table cache totals
func (c *Client) GetCacheStatus(ctx context.Context) (*storage.Status, error) {
	var response domain.Result[*storage.Status]
	if err := c.do(ctx, http.MethodGet, "/github/cache/status", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetIdentities lists the configured identities
func (c *Client) GetIdentities(ctx context.Context) ([]domain.Identity, error) {
	var response domain.Result[[]domain.Identity]
	if err := c.do(ctx, http.MethodGet, "/github/identities", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetIdentity retrieves the cached projection of one identity
func (c *Client) GetIdentity(ctx context.Context, identityID string, force bool) (*domain.CachedIdentity, error) {
	params := url.Values{}
	if force {
		params.Set("force", "true")
	}
	var response domain.Result[*domain.CachedIdentity]
	if err := c.do(ctx, http.MethodGet, "/github/identities/"+url.PathEscape(identityID), params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Refresh forces a re-fetch of one identity, or all when identityID is empty
func (c *Client) Refresh(ctx context.Context, identityID string) (*aggregator.RefreshResult, error) {
	body := map[string]string{}
	if identityID != "" {
		body["identityId"] = identityID
	}
	var response domain.Result[*aggregator.RefreshResult]
	if err := c.do(ctx, http.MethodPost, "/github/refresh", nil, body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ClearCache removes every cached row
func (c *Client) ClearCache(ctx context.Context) error {
	var response domain.Result[bool]
	return c.do(ctx, http.MethodPost, "/github/cache/clear", nil, nil, &response)
}

// GetTables lists the store's tables
func (c *Client) GetTables(ctx context.Context) ([]storage.TableInfo, error) {
	var response struct {
		Tables []storage.TableInfo `json:"tables"`
	}
	if err := c.do(ctx, http.MethodGet, "/database/tables", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Tables, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.Code = envelope.Code
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
