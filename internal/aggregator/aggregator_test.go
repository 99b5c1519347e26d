package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/runghost/internal/collector"
	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage/sqlstore"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// stubCollector serves canned upstream data; down makes every call fail
type stubCollector struct {
	mu           sync.Mutex
	user         domain.UpstreamUser
	repos        []domain.Repository
	issues       map[string]int
	releases     map[string]int
	failReleases map[string]error
	down         bool
}

var errUpstreamDown = errors.New("upstream unavailable")

func (s *stubCollector) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errUpstreamDown
	}
	return nil
}

func (s *stubCollector) GetAuthenticatedUser(ctx context.Context) (*domain.UpstreamUser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	u := s.user
	return &u, nil
}

func (s *stubCollector) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]domain.Repository(nil), s.repos...), nil
}

func (s *stubCollector) GetRepository(ctx context.Context, owner, repo string) (*domain.Repository, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	for _, r := range s.repos {
		if r.Name == repo {
			r := r
			return &r, nil
		}
	}
	return nil, apperrors.NewNotFoundError("Repository " + repo)
}

func (s *stubCollector) ListIssues(ctx context.Context, owner, repo, repositoryID string) ([]domain.Issue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var issues []domain.Issue
	for n := 1; n <= s.issues[repo]; n++ {
		issues = append(issues, domain.Issue{
			ID:           domain.ChildID(repositoryID, strconv.Itoa(n)),
			RepositoryID: repositoryID,
			Number:       n,
			Title:        "issue",
			State:        "open",
			UpdatedAt:    testNow,
		})
	}
	return issues, nil
}

func (s *stubCollector) ListPullRequests(ctx context.Context, owner, repo, repositoryID string) ([]domain.PullRequest, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return []domain.PullRequest{{
		ID:             domain.ChildID(repositoryID, "100"),
		RepositoryID:   repositoryID,
		Number:         100,
		Title:          "pr",
		State:          "open",
		MergeableState: "unknown",
		UpdatedAt:      testNow,
	}}, nil
}

func (s *stubCollector) ListReleases(ctx context.Context, owner, repo, repositoryID string) ([]domain.Release, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.failReleases[repo]; err != nil {
		return nil, err
	}
	var releases []domain.Release
	for n := 0; n < s.releases[repo]; n++ {
		tag := "v" + strconv.Itoa(n+1)
		releases = append(releases, domain.Release{ID: domain.ChildID(repositoryID, tag), RepositoryID: repositoryID, TagName: tag, CreatedAt: testNow})
	}
	return releases, nil
}

func (s *stubCollector) ListBranches(ctx context.Context, owner, repo, repositoryID string) ([]domain.Branch, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return []domain.Branch{{ID: domain.ChildID(repositoryID, "main"), RepositoryID: repositoryID, Name: "main", CommitSHA: "abc"}}, nil
}

func (s *stubCollector) CountOpenPullRequests(ctx context.Context, owner, repo string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *stubCollector) CountReleases(ctx context.Context, owner, repo string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if err := s.failReleases[repo]; err != nil {
		return 0, err
	}
	return s.releases[repo], nil
}

func (s *stubCollector) RateLimit() domain.RateLimitInfo {
	return domain.RateLimitInfo{Remaining: 5000}
}

func (s *stubCollector) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func newStub() *stubCollector {
	return &stubCollector{
		user: domain.UpstreamUser{Login: "u", ID: 1, PublicRepos: 2},
		repos: []domain.Repository{
			{Name: "r1", FullName: "u/r1", Language: "Go", Size: 10,
				Counts:     domain.RepositoryCounts{Stars: 5, Forks: 1, OpenIssues: 2},
				Timestamps: domain.RepositoryTimestamps{Updated: testNow.Add(-10 * 24 * time.Hour)}},
			{Name: "r2", FullName: "u/r2", Language: "TypeScript", Size: 20,
				Counts:     domain.RepositoryCounts{Stars: 2, OpenIssues: 1},
				Timestamps: domain.RepositoryTimestamps{Updated: testNow.Add(-100 * 24 * time.Hour)}},
		},
		issues:       map[string]int{"r1": 2, "r2": 1},
		releases:     map[string]int{"r1": 1, "r2": 2},
		failReleases: map[string]error{},
	}
}

func newTestAggregator(t *testing.T, stub *stubCollector) Aggregator {
	t.Helper()
	store, err := sqlstore.New(sqlstore.Options{DataDir: t.TempDir(), Clock: func() time.Time { return testNow }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewAggregator(Options{
		Identities: []domain.Identity{
			{ID: "i", Name: "Personal", Username: "u", Token: "secret-token", Tags: []string{}, Workspaces: []string{}, RegistryScopes: []string{}},
		},
		Store: store,
		NewClient: func(identity domain.Identity) (collector.Collector, error) {
			return stub, nil
		},
		Clock: func() time.Time { return testNow },
	})
}

func TestColdIdentityFetchThenCachedRead(t *testing.T) {
	stub := newStub()
	agg := newTestAggregator(t, stub)
	ctx := context.Background()

	res := agg.GetIdentityData(ctx, "i", false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 7, res.Data.Stats.TotalStars)
	assert.Equal(t, 11, res.Data.Stats.ActivityScore)
	assert.Equal(t, 30, res.Data.Stats.TotalSize)
	assert.Equal(t, map[string]int{"Go": 1, "TypeScript": 1}, res.Data.Stats.LanguageBreakdown)
	assert.Equal(t, domain.IdentityTotals{Issues: 3, PullRequests: 2, Releases: 3}, res.Data.Totals)
	require.Len(t, res.Data.Repositories, 2)
	assert.Equal(t, "i/r1", res.Data.Repositories[0].ID)

	stub.setDown(true)

	cached := agg.GetIdentityData(ctx, "i", false)
	require.True(t, cached.Success, cached.Error)
	assert.Equal(t, res.Data.Stats, cached.Data.Stats)
	assert.Equal(t, res.Data.Totals, cached.Data.Totals)
	assert.Equal(t, "u", cached.Data.User.Login)
	assert.Len(t, cached.Data.Repositories, 2)

	forced := agg.GetIdentityData(ctx, "i", true)
	assert.False(t, forced.Success)
	assert.Equal(t, errUpstreamDown.Error(), forced.Error)
}

func TestLockedRepositoryDoesNotAbortIdentityFetch(t *testing.T) {
	stub := newStub()
	stub.failReleases["r1"] = apperrors.NewUpstreamError("Forbidden", 403, nil, nil)
	agg := newTestAggregator(t, stub)

	res := agg.GetIdentityData(context.Background(), "i", false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Data.Totals.Releases)
}

func TestRefreshWithOneBadRepository(t *testing.T) {
	stub := newStub()
	stub.failReleases["r1"] = apperrors.NewUpstreamError("failed to list releases for u/r1: Forbidden", 403, nil, nil)
	agg := newTestAggregator(t, stub)
	ctx := context.Background()

	res := agg.Refresh(ctx, "i")
	require.True(t, res.Success, res.Error)

	stats := res.Data.Stats
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "r1")
	assert.Equal(t, 1, stats.Identities)
	assert.Equal(t, 2, stats.Repositories)
	assert.Equal(t, 2, stats.Releases)
	assert.Equal(t, 1, stats.Issues)
	assert.Equal(t, 1, stats.PullRequests)
	assert.Equal(t, 1, stats.Branches)
	assert.Equal(t, []string{"i"}, res.Data.Refreshed)

	releases := agg.GetAllReleases(ctx)
	require.True(t, releases.Success)
	assert.Len(t, releases.Data, 2)
	for _, r := range releases.Data {
		assert.Equal(t, "r2", r.RepositoryName)
	}
}

func TestRefreshAllIdentities(t *testing.T) {
	stub := newStub()
	agg := newTestAggregator(t, stub)

	res := agg.Refresh(context.Background(), "")
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Data.Stats.Errors)
	assert.Equal(t, 3, res.Data.Stats.Releases)
	assert.Equal(t, 3, res.Data.Stats.Issues)
}

func TestRepositoryDetailCachedAfterFetch(t *testing.T) {
	stub := newStub()
	agg := newTestAggregator(t, stub)
	ctx := context.Background()

	res := agg.GetRepositoryDetail(ctx, "i", "r1", false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "i/r1", res.Data.Repository.ID)
	assert.Len(t, res.Data.Issues, 2)
	require.Len(t, res.Data.PullRequests, 1)
	assert.Nil(t, res.Data.PullRequests[0].Mergeable)

	stub.setDown(true)

	cached := agg.GetRepositoryDetail(ctx, "i", "r1", false)
	require.True(t, cached.Success, cached.Error)
	assert.Len(t, cached.Data.Issues, 2)
	require.Len(t, cached.Data.PullRequests, 1)
	assert.Nil(t, cached.Data.PullRequests[0].Mergeable)
	assert.Equal(t, "unknown", cached.Data.PullRequests[0].MergeableState)
	assert.Len(t, cached.Data.Branches, 1)

	issues := agg.GetIssuesForIdentity(ctx, "i")
	require.True(t, issues.Success)
	assert.Len(t, issues.Data, 2)
}

func TestUnknownIdentity(t *testing.T) {
	agg := newTestAggregator(t, newStub())

	res := agg.GetIdentityData(context.Background(), "nope", false)
	assert.False(t, res.Success)
	assert.Equal(t, "Identity nope not found", res.Error)

	refresh := agg.Refresh(context.Background(), "nope")
	assert.False(t, refresh.Success)
}

func TestClientNotInitialized(t *testing.T) {
	store, err := sqlstore.New(sqlstore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	agg := NewAggregator(Options{
		Identities: []domain.Identity{{ID: "i", Username: "u"}},
		Store:      store,
		NewClient: func(identity domain.Identity) (collector.Collector, error) {
			return nil, apperrors.NewConfigError("Identity i has no token")
		},
	})

	res := agg.GetIdentityData(context.Background(), "i", false)
	assert.False(t, res.Success)
	assert.Equal(t, "Client for identity i not initialized", res.Error)
}

func TestIdentitiesNeverCarryTokens(t *testing.T) {
	agg := newTestAggregator(t, newStub())

	res := agg.GetAllIdentities(context.Background())
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.Empty(t, res.Data[0].Token)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
}

func TestRateLimitSurfacesInEnvelope(t *testing.T) {
	stub := newStub()
	reset := testNow.Add(time.Hour)
	agg := newTestAggregator(t, stub)
	stub.failReleases["r1"] = apperrors.NewRateLimitedError("rate limit exceeded", &domain.RateLimitInfo{Remaining: 0, Reset: reset})

	res := agg.GetRepositoryDetail(context.Background(), "i", "r1", true)
	assert.False(t, res.Success)
	require.NotNil(t, res.RateLimitRemaining)
	assert.Equal(t, 0, *res.RateLimitRemaining)
	require.NotNil(t, res.RateLimitReset)
	assert.Equal(t, reset.Unix(), *res.RateLimitReset)
}

func TestCacheMaintenance(t *testing.T) {
	agg := newTestAggregator(t, newStub())
	ctx := context.Background()

	require.True(t, agg.GetIdentityData(ctx, "i", false).Success)

	status := agg.GetCacheStatus(ctx)
	require.True(t, status.Success, status.Error)
	assert.Positive(t, status.Data.TotalEntries)

	require.True(t, agg.ClearCache(ctx).Success)
	repos := agg.GetAllRepositories(ctx)
	require.True(t, repos.Success)
	assert.Empty(t, repos.Data)

	require.True(t, agg.ResetDatabase(ctx).Success)
	assert.True(t, agg.PruneExpired(ctx).Success)
}

func TestActivityScoreBoundaries(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		age  time.Duration
		want int
	}{
		{0, 10},
		{30 * day, 10},
		{31 * day, 5},
		{90 * day, 5},
		{91 * day, 1},
		{365 * day, 1},
		{366 * day, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, activityScore(testNow.Add(-tt.age), testNow), "age %v", tt.age)
	}
	assert.Equal(t, 0, activityScore(time.Time{}, testNow))
}
