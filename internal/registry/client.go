// Package registry queries the public npm registry for scoped packages.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/httpaudit"
)

const (
	// DefaultBaseURL is the public npm registry
	DefaultBaseURL = "https://registry.npmjs.org"
	// DefaultSearchLimit is the registry's maximum page size
	DefaultSearchLimit = 250
)

// SearchOptions pages a registry search
type SearchOptions struct {
	Limit int
	From  int
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Recorder   audit.Recorder
	HTTPClient *http.Client
	// Concurrency bounds parallel scope searches
	Concurrency int
}

// Client talks to the registry; every call is audited with service "registry"
type Client struct {
	baseURL     string
	http        *httpaudit.Client
	concurrency int
}

// NewClient creates a registry client
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Client{
		baseURL:     base,
		http:        httpaudit.NewClient(opts.Recorder, httpClient),
		concurrency: concurrency,
	}
}

// searchResponse is the body of /-/v1/search
type searchResponse struct {
	Objects []struct {
		Package struct {
			Name        string                     `json:"name"`
			Version     string                     `json:"version"`
			Description string                     `json:"description"`
			Keywords    []string                   `json:"keywords"`
			Date        string                     `json:"date"`
			Links       map[string]string          `json:"links"`
			Author      *domain.RegistryPerson     `json:"author"`
			Publisher   *domain.RegistryPerson     `json:"publisher"`
			Maintainers []domain.RegistryPerson    `json:"maintainers"`
			License     string                     `json:"license"`
			Repository  *domain.RegistryRepository `json:"repository"`
		} `json:"package"`
		Score       *domain.RegistryScore `json:"score"`
		SearchScore float64               `json:"searchScore"`
	} `json:"objects"`
	Total int `json:"total"`
}

// SearchByScope lists the packages published under scope. Results whose
// name does not start with "<scope>/" are dropped.
func (c *Client) SearchByScope(ctx context.Context, scope string, opts SearchOptions) ([]domain.RegistryPackage, error) {
	scope = domain.NormalizeScope(scope)
	if scope == "" {
		return nil, apperrors.NewValidationError("scope is required")
	}

	results, err := c.Search(ctx, "scope:"+strings.TrimPrefix(scope, "@"), opts)
	if err != nil {
		return nil, err
	}

	packages := make([]domain.RegistryPackage, 0, len(results))
	for _, p := range results {
		if strings.HasPrefix(p.ID, scope+"/") {
			packages = append(packages, p)
		}
	}
	return packages, nil
}

// Search runs a free-text registry search
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]domain.RegistryPackage, error) {
	limit := opts.Limit
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}
	params := url.Values{}
	params.Set("text", query)
	params.Set("size", strconv.Itoa(limit))
	params.Set("from", strconv.Itoa(max(opts.From, 0)))

	var body searchResponse
	found, err := c.getJSON(ctx, c.baseURL+"/-/v1/search?"+params.Encode(), map[string]any{"operation": "search", "query": query}, &body)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.RegistryPackage{}, nil
	}

	packages := make([]domain.RegistryPackage, 0, len(body.Objects))
	for _, obj := range body.Objects {
		p := obj.Package
		scope, name := domain.SplitPackageName(p.Name)
		pkg := domain.RegistryPackage{
			ID:          p.Name,
			Scope:       scope,
			Name:        name,
			Version:     p.Version,
			Description: p.Description,
			Keywords:    nonNil(p.Keywords),
			Author:      p.Author,
			Maintainers: p.Maintainers,
			Repository:  p.Repository,
			Homepage:    p.Links["homepage"],
			License:     p.License,
			PublishedAt: parseDate(p.Date),
			Links:       p.Links,
			Publisher:   p.Publisher,
			Score:       obj.Score,
			SearchScore: obj.SearchScore,
		}
		if pkg.Maintainers == nil {
			pkg.Maintainers = []domain.RegistryPerson{}
		}
		if pkg.Repository == nil && p.Links["repository"] != "" {
			pkg.Repository = &domain.RegistryRepository{Type: "git", URL: p.Links["repository"]}
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// GetByScopes searches every scope in parallel. A scope whose search
// fails maps to an empty list; the failure is logged.
func (c *Client) GetByScopes(ctx context.Context, scopes []string) (map[string][]domain.RegistryPackage, error) {
	var (
		mu     sync.Mutex
		result = make(map[string][]domain.RegistryPackage, len(scopes))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, raw := range scopes {
		scope := domain.NormalizeScope(raw)
		if scope == "" {
			continue
		}
		g.Go(func() error {
			packages, err := c.SearchByScope(gctx, scope, SearchOptions{})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("Failed to search registry scope", "scope", scope, "error", err)
				packages = []domain.RegistryPackage{}
			}
			mu.Lock()
			defer mu.Unlock()
			result[scope] = packages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// metadataResponse is the body of /<name>
type metadataResponse struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	DistTags    map[string]string       `json:"dist-tags"`
	Versions    json.RawMessage         `json:"versions"`
	Time        map[string]string       `json:"time"`
	Keywords    []string                `json:"keywords"`
	Author      json.RawMessage         `json:"author"`
	Maintainers []domain.RegistryPerson `json:"maintainers"`
	Repository  json.RawMessage         `json:"repository"`
	Homepage    string                  `json:"homepage"`
	License     json.RawMessage         `json:"license"`
}

// GetPackageMetadata fetches one package document. A 404 returns (nil, nil).
// The version is dist-tags.latest, or the last key of versions.
func (c *Client) GetPackageMetadata(ctx context.Context, name string) (*domain.RegistryPackage, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("package name is required")
	}

	var body metadataResponse
	found, err := c.getJSON(ctx, c.baseURL+"/"+escapeName(name), map[string]any{"operation": "metadata", "package": name}, &body)
	if err != nil || !found {
		return nil, err
	}

	version := body.DistTags["latest"]
	if version == "" {
		version = lastKey(body.Versions)
	}

	scope, short := domain.SplitPackageName(name)
	pkg := &domain.RegistryPackage{
		ID:          name,
		Scope:       scope,
		Name:        short,
		Version:     version,
		Description: body.Description,
		Keywords:    nonNil(body.Keywords),
		Author:      parsePerson(body.Author),
		Maintainers: body.Maintainers,
		Repository:  parseRepository(body.Repository),
		Homepage:    body.Homepage,
		License:     parseLicense(body.License),
		PublishedAt: parseDate(body.Time[version]),
	}
	if pkg.Maintainers == nil {
		pkg.Maintainers = []domain.RegistryPerson{}
	}
	return pkg, nil
}

// getJSON decodes a 2xx body into out. A 404 reports found=false; any
// other non-2xx status fails with its status text.
func (c *Client) getJSON(ctx context.Context, target string, metadata map[string]any, out any) (bool, error) {
	resp, err := c.http.Call(ctx, target, httpaudit.Options{
		Header:   http.Header{"Accept": {"application/json"}},
		Service:  domain.ServiceRegistry,
		Metadata: metadata,
	})
	if err != nil {
		return false, apperrors.NewUpstreamError(fmt.Sprintf("Registry request failed: %v", err), 0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, apperrors.NewUpstreamError(http.StatusText(resp.StatusCode), resp.StatusCode, nil, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, apperrors.NewUpstreamError(fmt.Sprintf("invalid registry response: %v", err), resp.StatusCode, nil, err)
	}
	return true, nil
}

// escapeName encodes "@scope/name" as "@scope%2Fname"
func escapeName(name string) string {
	if scope, short := domain.SplitPackageName(name); scope != "" {
		return scope + "%2F" + url.PathEscape(short)
	}
	return url.PathEscape(name)
}

// lastKey returns the last key of a JSON object in document order
func lastKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	last := ""
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return last
		}
		key, ok := tok.(string)
		if !ok {
			return last
		}
		last = key
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return last
		}
	}
	return last
}

// parsePerson accepts "Name <email>" strings and {name, email} objects
func parsePerson(raw json.RawMessage) *domain.RegistryPerson {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		p := &domain.RegistryPerson{Name: strings.TrimSpace(s)}
		if open := strings.Index(s, "<"); open >= 0 {
			if end := strings.Index(s[open:], ">"); end > 0 {
				p.Email = s[open+1 : open+end]
				p.Name = strings.TrimSpace(s[:open])
			}
		}
		return p
	}
	var p domain.RegistryPerson
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// parseRepository accepts "url" strings and {type, url} objects
func parseRepository(raw json.RawMessage) *domain.RegistryRepository {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &domain.RegistryRepository{URL: s}
	}
	var r domain.RegistryRepository
	if err := json.Unmarshal(raw, &r); err != nil || r.URL == "" {
		return nil
	}
	return &r
}

// parseLicense accepts "MIT" strings and legacy {type} objects
func parseLicense(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Type
	}
	return ""
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
