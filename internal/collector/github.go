package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/httpaudit"
)

const (
	perPage = 100
	// maxPages bounds paginated issue and pull request listings
	maxPages = 10
	// maxRateWait bounds how long a call blocks for a rate-limit reset
	maxRateWait = time.Minute
)

// Options configures a per-identity GitHub collector
type Options struct {
	Identity   domain.Identity
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	// MinDelay is the minimum spacing between calls
	MinDelay time.Duration
	// BaseURL overrides https://api.github.com/
	BaseURL  string
	Recorder audit.Recorder
	// Transport is the innermost round tripper; http.DefaultTransport when nil
	Transport http.RoundTripper
}

// githubCollector implements Collector using GitHub API
type githubCollector struct {
	client      *github.Client
	rateLimiter RateLimiter
	maxRetries  int
	retryDelay  time.Duration
}

// NewGitHubCollector creates a collector that authenticates as opts.Identity.
// Every call is recorded through opts.Recorder; the audit layer sits outside
// the oauth2 transport, so it never sees the Authorization header.
func NewGitHubCollector(opts Options) (Collector, error) {
	if opts.Identity.Token == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("Identity %s has no token", opts.Identity.ID))
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Identity.Token},
	)
	tc := &http.Client{
		Transport: &httpaudit.Transport{
			Base:       &oauth2.Transport{Source: ts, Base: opts.Transport},
			Recorder:   opts.Recorder,
			Service:    domain.ServiceGitHub,
			IdentityID: opts.Identity.ID,
			Metadata: map[string]any{
				"username": opts.Identity.Username,
				"name":     opts.Identity.Name,
			},
		},
	}
	client := github.NewClient(tc)
	if opts.UserAgent != "" {
		client.UserAgent = opts.UserAgent
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("invalid GitHub base URL %q", opts.BaseURL))
		}
		client.BaseURL = u
	}

	return &githubCollector{
		client:      client,
		rateLimiter: NewRateLimiter(opts.MinDelay, maxRateWait),
		maxRetries:  max(opts.MaxRetries, 0),
		retryDelay:  opts.RetryDelay,
	}, nil
}

// GetAuthenticatedUser retrieves the account behind the token
func (c *githubCollector) GetAuthenticatedUser(ctx context.Context) (*domain.UpstreamUser, error) {
	var user *github.User
	err := c.do(ctx, "failed to get user", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		user, resp, err = c.client.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toUser(user), nil
}

// ListRepositories retrieves up to 100 repositories, most recently updated first
func (c *githubCollector) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	opts := &github.RepositoryListOptions{
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var repos []*github.Repository
	err := c.do(ctx, "failed to list repositories", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		repos, resp, err = c.client.Repositories.List(ctx, "", opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		result = append(result, toRepository(r))
	}
	return result, nil
}

// GetRepository retrieves a single repository
func (c *githubCollector) GetRepository(ctx context.Context, owner, repo string) (*domain.Repository, error) {
	var r *github.Repository
	err := c.do(ctx, fmt.Sprintf("failed to get repository %s/%s", owner, repo), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		r, resp, err = c.client.Repositories.Get(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	result := toRepository(r)
	return &result, nil
}

// ListIssues retrieves issues in all states, excluding pull requests
func (c *githubCollector) ListIssues(ctx context.Context, owner, repo, repositoryID string) ([]domain.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	allIssues := make([]domain.Issue, 0)
	for page := 0; page < maxPages; page++ {
		var (
			issues []*github.Issue
			resp   *github.Response
		)
		err := c.do(ctx, fmt.Sprintf("failed to list issues for %s/%s", owner, repo), func() (*github.Response, error) {
			var err error
			issues, resp, err = c.client.Issues.ListByRepo(ctx, owner, repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, issue := range issues {
			// the issues endpoint also returns pull requests
			if issue.IsPullRequest() {
				continue
			}
			allIssues = append(allIssues, toIssue(issue, repositoryID))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return allIssues, nil
}

// ListPullRequests retrieves pull requests in all states
func (c *githubCollector) ListPullRequests(ctx context.Context, owner, repo, repositoryID string) ([]domain.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	allPRs := make([]domain.PullRequest, 0)
	for page := 0; page < maxPages; page++ {
		var (
			prs  []*github.PullRequest
			resp *github.Response
		)
		err := c.do(ctx, fmt.Sprintf("failed to list pull requests for %s/%s", owner, repo), func() (*github.Response, error) {
			var err error
			prs, resp, err = c.client.PullRequests.List(ctx, owner, repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, pr := range prs {
			allPRs = append(allPRs, toPullRequest(pr, repositoryID))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return allPRs, nil
}

// ListReleases retrieves up to 100 releases
func (c *githubCollector) ListReleases(ctx context.Context, owner, repo, repositoryID string) ([]domain.Release, error) {
	var releases []*github.RepositoryRelease
	err := c.do(ctx, fmt.Sprintf("failed to list releases for %s/%s", owner, repo), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		releases, resp, err = c.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{PerPage: perPage})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Release, 0, len(releases))
	for _, r := range releases {
		result = append(result, toRelease(r, repositoryID))
	}
	return result, nil
}

// ListBranches retrieves up to 100 branches
func (c *githubCollector) ListBranches(ctx context.Context, owner, repo, repositoryID string) ([]domain.Branch, error) {
	var branches []*github.Branch
	err := c.do(ctx, fmt.Sprintf("failed to list branches for %s/%s", owner, repo), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		branches, resp, err = c.client.Repositories.ListBranches(ctx, owner, repo, &github.BranchListOptions{
			ListOptions: github.ListOptions{PerPage: perPage},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Branch, 0, len(branches))
	for _, b := range branches {
		result = append(result, toBranch(b, repositoryID))
	}
	return result, nil
}

// CountOpenPullRequests counts open pull requests with a one-item listing
func (c *githubCollector) CountOpenPullRequests(ctx context.Context, owner, repo string) (int, error) {
	var (
		prs  []*github.PullRequest
		resp *github.Response
	)
	err := c.do(ctx, fmt.Sprintf("failed to count pull requests for %s/%s", owner, repo), func() (*github.Response, error) {
		var err error
		prs, resp, err = c.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return countFromPage(resp, len(prs)), nil
}

// CountReleases counts releases with a one-item listing
func (c *githubCollector) CountReleases(ctx context.Context, owner, repo string) (int, error) {
	var (
		releases []*github.RepositoryRelease
		resp     *github.Response
	)
	err := c.do(ctx, fmt.Sprintf("failed to count releases for %s/%s", owner, repo), func() (*github.Response, error) {
		var err error
		releases, resp, err = c.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{PerPage: 1})
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return countFromPage(resp, len(releases)), nil
}

// RateLimit returns the last observed rate-limit state
func (c *githubCollector) RateLimit() domain.RateLimitInfo {
	remaining, reset := c.rateLimiter.CheckLimit()
	return domain.RateLimitInfo{Remaining: remaining, Reset: reset}
}

// countFromPage reads a total from a one-item-per-page listing: the last
// page number is the item count.
func countFromPage(resp *github.Response, items int) int {
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return items
}

// do runs one API call behind the rate limiter, retrying transient failures
// with exponential backoff. Non-retryable failures are returned as AppErrors.
func (c *githubCollector) do(ctx context.Context, op string, call func() (*github.Response, error)) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryDelay
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxRetries)), ctx)
	if c.retryDelay <= 0 {
		b = backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(c.maxRetries)), ctx)
	}

	var lastResp *github.Response
	err := backoff.Retry(func() error {
		resp, err := call()
		lastResp = resp
		c.updateRateLimitFromResponse(resp)
		if err == nil {
			return nil
		}
		if !retryable(ctx, resp, err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		return translateError(op, lastResp, err)
	}
	return nil
}

// retryable reports whether a failed call may succeed when repeated
func retryable(ctx context.Context, resp *github.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return false
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

// translateError maps a go-github error onto an AppError carrying the
// upstream status and rate-limit headers.
func translateError(op string, resp *github.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return apperrors.NewRateLimitedError(
			fmt.Sprintf("%s: GitHub API rate limit exceeded", op),
			&domain.RateLimitInfo{Remaining: rle.Rate.Remaining, Reset: rle.Rate.Reset.Time},
		)
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		var rate *domain.RateLimitInfo
		if abuse.RetryAfter != nil {
			rate = &domain.RateLimitInfo{Remaining: 0, Reset: time.Now().Add(*abuse.RetryAfter)}
		}
		return apperrors.NewRateLimitedError(fmt.Sprintf("%s: secondary rate limit", op), rate)
	}

	status := 0
	var rate *domain.RateLimitInfo
	if resp != nil {
		status = resp.StatusCode
		if resp.Rate.Limit > 0 {
			rate = &domain.RateLimitInfo{Remaining: resp.Rate.Remaining, Reset: resp.Rate.Reset.Time}
		}
	}

	msg := err.Error()
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg = er.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
	}
	if status == http.StatusNotFound {
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeNotFound,
			Message: fmt.Sprintf("%s: %s", op, msg),
			Err:     err,
			Status:  status,
			Rate:    rate,
		}
	}
	return apperrors.NewUpstreamError(fmt.Sprintf("%s: %s", op, msg), status, rate, err)
}

// updateRateLimitFromResponse updates rate limit from API response
func (c *githubCollector) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}
