package collector

import (
	"context"

	"github.com/kurihiro0119/runghost/internal/domain"
)

// Collector fetches GitHub data on behalf of one identity
type Collector interface {
	// GetAuthenticatedUser retrieves the account behind the token
	GetAuthenticatedUser(ctx context.Context) (*domain.UpstreamUser, error)

	// ListRepositories retrieves up to 100 repositories, most recently updated first
	ListRepositories(ctx context.Context) ([]domain.Repository, error)

	// GetRepository retrieves a single repository
	GetRepository(ctx context.Context, owner, repo string) (*domain.Repository, error)

	// ListIssues retrieves issues in all states, excluding pull requests
	ListIssues(ctx context.Context, owner, repo, repositoryID string) ([]domain.Issue, error)

	// ListPullRequests retrieves pull requests in all states
	ListPullRequests(ctx context.Context, owner, repo, repositoryID string) ([]domain.PullRequest, error)

	// ListReleases retrieves up to 100 releases
	ListReleases(ctx context.Context, owner, repo, repositoryID string) ([]domain.Release, error)

	// ListBranches retrieves up to 100 branches
	ListBranches(ctx context.Context, owner, repo, repositoryID string) ([]domain.Branch, error)

	// CountOpenPullRequests counts open pull requests with a one-item listing
	CountOpenPullRequests(ctx context.Context, owner, repo string) (int, error)

	// CountReleases counts releases with a one-item listing
	CountReleases(ctx context.Context, owner, repo string) (int, error)

	// RateLimit returns the last observed rate-limit state
	RateLimit() domain.RateLimitInfo
}
