package storage

import (
	"context"

	"github.com/kurihiro0119/runghost/internal/domain"
)

// Store is the abstract interface for the cache layer.
//
// Single-entity reads return (nil, nil) on a miss: no row, or a row whose
// expiry has passed. List reads return every stored row; expired rows stay
// visible there until ClearExpired removes them.
type Store interface {
	// Init prepares the schema. Every other operation calls it first.
	Init(ctx context.Context) error

	// Identity operations
	GetIdentity(ctx context.Context, id string) (*domain.CachedIdentity, error)
	SaveIdentity(ctx context.Context, identity *domain.CachedIdentity) error
	// EnsureIdentity inserts an already-expired placeholder row for identity
	// when none exists, so child rows can reference it.
	EnsureIdentity(ctx context.Context, identity domain.Identity) error
	CountIdentities(ctx context.Context) (int, error)

	// Repository operations
	GetRepository(ctx context.Context, id string) (*domain.Repository, error)
	SaveRepository(ctx context.Context, repo *domain.Repository) error
	GetRepositoriesForIdentity(ctx context.Context, identityID string) ([]domain.Repository, error)
	GetAllRepositories(ctx context.Context) ([]domain.Repository, error)
	CountRepositories(ctx context.Context) (int, error)

	// Issue operations
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	SaveIssue(ctx context.Context, issue *domain.Issue) error
	GetIssuesForRepository(ctx context.Context, repositoryID string) ([]domain.Issue, error)
	GetIssuesForIdentity(ctx context.Context, identityID string) ([]domain.Issue, error)
	GetAllIssues(ctx context.Context) ([]domain.Issue, error)

	// Pull request operations
	GetPullRequest(ctx context.Context, id string) (*domain.PullRequest, error)
	SavePullRequest(ctx context.Context, pr *domain.PullRequest) error
	GetPullRequestsForRepository(ctx context.Context, repositoryID string) ([]domain.PullRequest, error)
	GetPullRequestsForIdentity(ctx context.Context, identityID string) ([]domain.PullRequest, error)
	GetAllPullRequests(ctx context.Context) ([]domain.PullRequest, error)

	// Release operations
	GetRelease(ctx context.Context, id string) (*domain.Release, error)
	SaveRelease(ctx context.Context, release *domain.Release) error
	GetReleasesForRepository(ctx context.Context, repositoryID string) ([]domain.Release, error)
	GetAllReleases(ctx context.Context) ([]domain.Release, error)

	// Branch operations
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	SaveBranch(ctx context.Context, branch *domain.Branch) error
	GetBranchesForRepository(ctx context.Context, repositoryID string) ([]domain.Branch, error)

	// Registry package operations
	GetRegistryPackage(ctx context.Context, id string) (*domain.RegistryPackage, error)
	SaveRegistryPackage(ctx context.Context, pkg *domain.RegistryPackage) error
	GetAllRegistryPackages(ctx context.Context) ([]domain.RegistryPackage, error)

	// Workspace package operations, keyed by package name
	GetWorkspacePackage(ctx context.Context, name string) (*domain.WorkspacePackage, error)
	SaveWorkspacePackage(ctx context.Context, pkg *domain.WorkspacePackage) error
	GetAllWorkspacePackages(ctx context.Context) ([]domain.WorkspacePackage, error)

	// Maintenance
	ClearExpired(ctx context.Context) (map[string]int64, error)
	ClearAll(ctx context.Context) error
	ResetStore(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)

	// Diagnostics
	ListTables(ctx context.Context) ([]TableInfo, error)
	ReadTable(ctx context.Context, name string, page, pageSize int) (*TablePage, error)
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)
	ExecuteQueryWithParams(ctx context.Context, query string, args []any) (*QueryResult, error)

	// Connection management
	Close() error
}
