package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kurihiro0119/runghost/internal/collector"
	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// Aggregator defines the dashboard's GitHub read model. Every operation
// returns a result envelope; failures are carried in it.
type Aggregator interface {
	// GetAllIdentities lists the configured identities without tokens
	GetAllIdentities(ctx context.Context) domain.Result[[]domain.Identity]

	// GetIdentityData returns the cached projection of an identity, fetching it on a miss or when forced
	GetIdentityData(ctx context.Context, identityID string, force bool) domain.Result[*domain.CachedIdentity]

	// GetRepositoryDetail returns a repository with its issues, pull requests, releases and branches
	GetRepositoryDetail(ctx context.Context, identityID, repoName string, force bool) domain.Result[*domain.RepositoryDetail]

	// Listings across every cached identity
	GetAllRepositories(ctx context.Context) domain.Result[[]domain.Repository]
	GetAllReleases(ctx context.Context) domain.Result[[]domain.Release]
	GetAllIssues(ctx context.Context) domain.Result[[]domain.Issue]
	GetAllPullRequests(ctx context.Context) domain.Result[[]domain.PullRequest]
	GetIssuesForIdentity(ctx context.Context, identityID string) domain.Result[[]domain.Issue]
	GetPullRequestsForIdentity(ctx context.Context, identityID string) domain.Result[[]domain.PullRequest]

	// ClearCache removes every cached row
	ClearCache(ctx context.Context) domain.Result[bool]

	// PruneExpired removes rows past their expiry, returning counts per table
	PruneExpired(ctx context.Context) domain.Result[map[string]int64]

	// ResetDatabase deletes and recreates the store
	ResetDatabase(ctx context.Context) domain.Result[bool]

	// GetCacheStatus reports per-table totals and live counts
	GetCacheStatus(ctx context.Context) domain.Result[*storage.Status]

	// Refresh forces a re-fetch of one identity, or of all when identityID is empty
	Refresh(ctx context.Context, identityID string) domain.Result[*RefreshResult]
}

// ClientFactory builds the upstream client of one identity
type ClientFactory func(identity domain.Identity) (collector.Collector, error)

// Options configures an aggregator
type Options struct {
	Identities []domain.Identity
	Store      storage.Store
	NewClient  ClientFactory
	// Clock defaults to time.Now
	Clock func() time.Time
	// RefreshConcurrency bounds how many identities refresh at once
	RefreshConcurrency int
}

// aggregator implements the Aggregator interface
type aggregator struct {
	store       storage.Store
	identities  map[string]domain.Identity
	order       []string
	clients     map[string]collector.Collector
	now         func() time.Time
	concurrency int
}

// NewAggregator creates an aggregator and one upstream client per identity.
// An identity whose client cannot be built stays listed; its fetches fail
// with "Client for identity <id> not initialized".
func NewAggregator(opts Options) Aggregator {
	a := &aggregator{
		store:       opts.Store,
		identities:  make(map[string]domain.Identity, len(opts.Identities)),
		clients:     make(map[string]collector.Collector, len(opts.Identities)),
		now:         opts.Clock,
		concurrency: opts.RefreshConcurrency,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.concurrency <= 0 {
		a.concurrency = 4
	}

	for _, ident := range opts.Identities {
		a.identities[ident.ID] = ident
		a.order = append(a.order, ident.ID)
		if opts.NewClient == nil {
			continue
		}
		client, err := opts.NewClient(ident)
		if err != nil {
			slog.Warn("Failed to initialize GitHub client", "identity", ident.ID, "error", err)
			continue
		}
		a.clients[ident.ID] = client
	}
	sort.Strings(a.order)
	return a
}

// GetAllIdentities lists the configured identities without tokens
func (a *aggregator) GetAllIdentities(ctx context.Context) domain.Result[[]domain.Identity] {
	list := make([]domain.Identity, 0, len(a.order))
	for _, id := range a.order {
		ident := a.identities[id]
		ident.Token = ""
		list = append(list, ident)
	}
	return domain.OK(list)
}

func (a *aggregator) identity(id string) (domain.Identity, error) {
	ident, ok := a.identities[id]
	if !ok {
		return domain.Identity{}, apperrors.NewNotFoundError(fmt.Sprintf("Identity %s", id))
	}
	return ident, nil
}

func (a *aggregator) client(id string) (collector.Collector, error) {
	c, ok := a.clients[id]
	if !ok {
		return nil, apperrors.NewConfigError(fmt.Sprintf("Client for identity %s not initialized", id))
	}
	return c, nil
}

// GetIdentityData returns the cached projection of an identity, fetching it on a miss or when forced
func (a *aggregator) GetIdentityData(ctx context.Context, identityID string, force bool) domain.Result[*domain.CachedIdentity] {
	ident, err := a.identity(identityID)
	if err != nil {
		return domain.Fail[*domain.CachedIdentity](err)
	}

	if !force {
		cached, err := a.store.GetIdentity(ctx, identityID)
		if err != nil {
			return domain.Fail[*domain.CachedIdentity](err)
		}
		if cached != nil {
			repos, err := a.store.GetRepositoriesForIdentity(ctx, identityID)
			if err != nil {
				return domain.Fail[*domain.CachedIdentity](err)
			}
			cached.Repositories = repos
			return domain.OK(cached)
		}
	}

	data, err := a.fetchIdentity(ctx, ident)
	if err != nil {
		return domain.Fail[*domain.CachedIdentity](err)
	}
	return domain.OK(data)
}

func (a *aggregator) fetchIdentity(ctx context.Context, ident domain.Identity) (*domain.CachedIdentity, error) {
	client, err := a.client(ident.ID)
	if err != nil {
		return nil, err
	}

	user, err := client.GetAuthenticatedUser(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := client.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	for i := range repos {
		repos[i].IdentityID = ident.ID
		repos[i].ID = domain.RepositoryID(ident.ID, repos[i].Name)
	}

	totals := domain.IdentityTotals{}
	for _, repo := range repos {
		totals.Issues += repo.Counts.OpenIssues
		owner, name := ownerAndName(ident, repo)
		// locked or empty repositories must not abort the aggregation
		if n, err := client.CountOpenPullRequests(ctx, owner, name); err == nil {
			totals.PullRequests += n
		} else {
			slog.Debug("Skipping pull request count", "identity", ident.ID, "repository", repo.Name, "error", err)
		}
		if n, err := client.CountReleases(ctx, owner, name); err == nil {
			totals.Releases += n
		} else {
			slog.Debug("Skipping release count", "identity", ident.ID, "repository", repo.Name, "error", err)
		}
	}

	data := &domain.CachedIdentity{
		Identity:    ident,
		User:        *user,
		Totals:      totals,
		Stats:       ComputeStats(repos, now),
		LastUpdated: now,
	}
	data.Identity.Token = ""

	if err := a.store.SaveIdentity(ctx, data); err != nil {
		return nil, err
	}
	for i := range repos {
		if err := a.store.SaveRepository(ctx, &repos[i]); err != nil {
			return nil, err
		}
	}
	data.Repositories = repos

	slog.Info("Fetched identity", "identity", ident.ID, "repositories", len(repos))
	return data, nil
}

// ComputeStats sums stars, forks and size, tallies languages and scores
// recent activity: 10 for a repository updated within 30 days, 5 within 90,
// 1 within 365.
func ComputeStats(repos []domain.Repository, now time.Time) domain.IdentityStats {
	stats := domain.IdentityStats{LanguageBreakdown: map[string]int{}}
	for _, repo := range repos {
		stats.TotalStars += repo.Counts.Stars
		stats.TotalForks += repo.Counts.Forks
		stats.TotalSize += repo.Size
		if repo.Language != "" {
			stats.LanguageBreakdown[repo.Language]++
		}
		stats.ActivityScore += activityScore(repo.Timestamps.Updated, now)
	}
	return stats
}

func activityScore(updated, now time.Time) int {
	if updated.IsZero() {
		return 0
	}
	age := now.Sub(updated)
	switch {
	case age <= 30*24*time.Hour:
		return 10
	case age <= 90*24*time.Hour:
		return 5
	case age <= 365*24*time.Hour:
		return 1
	default:
		return 0
	}
}

// ownerAndName resolves the upstream owner of a repository, which may be
// an organization rather than the identity's own account.
func ownerAndName(ident domain.Identity, repo domain.Repository) (string, string) {
	if owner, name, ok := strings.Cut(repo.FullName, "/"); ok && owner != "" && name != "" {
		return owner, name
	}
	return ident.Username, repo.Name
}

// GetRepositoryDetail returns a repository with its issues, pull requests, releases and branches
func (a *aggregator) GetRepositoryDetail(ctx context.Context, identityID, repoName string, force bool) domain.Result[*domain.RepositoryDetail] {
	ident, err := a.identity(identityID)
	if err != nil {
		return domain.Fail[*domain.RepositoryDetail](err)
	}
	repoID := domain.RepositoryID(identityID, repoName)

	if !force {
		detail, err := a.cachedDetail(ctx, repoID)
		if err != nil {
			return domain.Fail[*domain.RepositoryDetail](err)
		}
		if detail != nil {
			return domain.OK(detail)
		}
	}

	detail, err := a.fetchDetail(ctx, ident, repoName)
	if err != nil {
		return domain.Fail[*domain.RepositoryDetail](err)
	}
	return domain.OK(detail)
}

func (a *aggregator) cachedDetail(ctx context.Context, repoID string) (*domain.RepositoryDetail, error) {
	repo, err := a.store.GetRepository(ctx, repoID)
	if err != nil || repo == nil {
		return nil, err
	}

	detail := &domain.RepositoryDetail{Repository: *repo, LastUpdated: a.now()}
	if detail.Issues, err = a.store.GetIssuesForRepository(ctx, repoID); err != nil {
		return nil, err
	}
	if detail.PullRequests, err = a.store.GetPullRequestsForRepository(ctx, repoID); err != nil {
		return nil, err
	}
	if detail.Releases, err = a.store.GetReleasesForRepository(ctx, repoID); err != nil {
		return nil, err
	}
	if detail.Branches, err = a.store.GetBranchesForRepository(ctx, repoID); err != nil {
		return nil, err
	}
	return detail, nil
}

func (a *aggregator) fetchDetail(ctx context.Context, ident domain.Identity, repoName string) (*domain.RepositoryDetail, error) {
	client, err := a.client(ident.ID)
	if err != nil {
		return nil, err
	}

	owner, name := a.resolveOwner(ctx, ident, repoName)
	repoID := domain.RepositoryID(ident.ID, name)

	repo, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	repo.ID = repoID
	repo.IdentityID = ident.ID

	issues, err := client.ListIssues(ctx, owner, name, repoID)
	if err != nil {
		return nil, err
	}
	prs, err := client.ListPullRequests(ctx, owner, name, repoID)
	if err != nil {
		return nil, err
	}
	releases, err := client.ListReleases(ctx, owner, name, repoID)
	if err != nil {
		return nil, err
	}
	branches, err := client.ListBranches(ctx, owner, name, repoID)
	if err != nil {
		return nil, err
	}

	if err := a.store.EnsureIdentity(ctx, ident); err != nil {
		return nil, err
	}
	if err := a.store.SaveRepository(ctx, repo); err != nil {
		return nil, err
	}
	for i := range issues {
		if err := a.store.SaveIssue(ctx, &issues[i]); err != nil {
			return nil, err
		}
	}
	for i := range prs {
		if err := a.store.SavePullRequest(ctx, &prs[i]); err != nil {
			return nil, err
		}
	}
	for i := range releases {
		if err := a.store.SaveRelease(ctx, &releases[i]); err != nil {
			return nil, err
		}
	}
	for i := range branches {
		if err := a.store.SaveBranch(ctx, &branches[i]); err != nil {
			return nil, err
		}
	}

	return &domain.RepositoryDetail{
		Repository:   *repo,
		Issues:       issues,
		PullRequests: prs,
		Releases:     releases,
		Branches:     branches,
		LastUpdated:  a.now(),
	}, nil
}

// resolveOwner finds the owner of repoName from any stored row, falling
// back to the identity's username.
func (a *aggregator) resolveOwner(ctx context.Context, ident domain.Identity, repoName string) (string, string) {
	repos, err := a.store.GetRepositoriesForIdentity(ctx, ident.ID)
	if err != nil {
		slog.Debug("Failed to look up stored repositories", "identity", ident.ID, "error", err)
	}
	for _, r := range repos {
		if r.Name == repoName {
			return ownerAndName(ident, r)
		}
	}
	return ident.Username, repoName
}

// GetAllRepositories lists every cached repository
func (a *aggregator) GetAllRepositories(ctx context.Context) domain.Result[[]domain.Repository] {
	return wrap(a.store.GetAllRepositories(ctx))
}

// GetAllReleases lists every cached release
func (a *aggregator) GetAllReleases(ctx context.Context) domain.Result[[]domain.Release] {
	return wrap(a.store.GetAllReleases(ctx))
}

// GetAllIssues lists every cached issue
func (a *aggregator) GetAllIssues(ctx context.Context) domain.Result[[]domain.Issue] {
	return wrap(a.store.GetAllIssues(ctx))
}

// GetAllPullRequests lists every cached pull request
func (a *aggregator) GetAllPullRequests(ctx context.Context) domain.Result[[]domain.PullRequest] {
	return wrap(a.store.GetAllPullRequests(ctx))
}

// GetIssuesForIdentity lists the cached issues of one identity
func (a *aggregator) GetIssuesForIdentity(ctx context.Context, identityID string) domain.Result[[]domain.Issue] {
	if _, err := a.identity(identityID); err != nil {
		return domain.Fail[[]domain.Issue](err)
	}
	return wrap(a.store.GetIssuesForIdentity(ctx, identityID))
}

// GetPullRequestsForIdentity lists the cached pull requests of one identity
func (a *aggregator) GetPullRequestsForIdentity(ctx context.Context, identityID string) domain.Result[[]domain.PullRequest] {
	if _, err := a.identity(identityID); err != nil {
		return domain.Fail[[]domain.PullRequest](err)
	}
	return wrap(a.store.GetPullRequestsForIdentity(ctx, identityID))
}

// ClearCache removes every cached row
func (a *aggregator) ClearCache(ctx context.Context) domain.Result[bool] {
	if err := a.store.ClearAll(ctx); err != nil {
		return domain.Fail[bool](err)
	}
	return domain.OK(true)
}

// PruneExpired removes rows past their expiry
func (a *aggregator) PruneExpired(ctx context.Context) domain.Result[map[string]int64] {
	return wrap(a.store.ClearExpired(ctx))
}

// ResetDatabase deletes and recreates the store
func (a *aggregator) ResetDatabase(ctx context.Context) domain.Result[bool] {
	if err := a.store.ResetStore(ctx); err != nil {
		return domain.Fail[bool](err)
	}
	return domain.OK(true)
}

// GetCacheStatus reports per-table totals and live counts
func (a *aggregator) GetCacheStatus(ctx context.Context) domain.Result[*storage.Status] {
	return wrap(a.store.Status(ctx))
}

func wrap[T any](data T, err error) domain.Result[T] {
	if err != nil {
		return domain.Fail[T](err)
	}
	return domain.OK(data)
}
