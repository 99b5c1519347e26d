package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, err := New(Options{DataDir: t.TempDir(), Clock: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func seedIdentity(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.SaveIdentity(context.Background(), &domain.CachedIdentity{
		Identity: domain.Identity{ID: id, Name: id, Username: id + "-user", RegistryScopes: []string{"@" + id}},
		User:     domain.UpstreamUser{Login: id + "-user", PublicRepos: 2},
		Stats:    domain.IdentityStats{TotalStars: 7, LanguageBreakdown: map[string]int{"Go": 2}},
	}))
}

func seedRepository(t *testing.T, s *Store, identityID, name string, updated time.Time) domain.Repository {
	t.Helper()
	repo := domain.Repository{
		ID:         domain.RepositoryID(identityID, name),
		IdentityID: identityID,
		Name:       name,
		FullName:   identityID + "-user/" + name,
		Topics:     []string{"cli"},
		Timestamps: domain.RepositoryTimestamps{Updated: updated},
		Counts:     domain.RepositoryCounts{Stars: 5},
	}
	require.NoError(t, s.SaveRepository(context.Background(), &repo))
	return repo
}

func TestInitIsIdempotentAndSingleFlighted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Init(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, s.Init(ctx))
	assert.FileExists(t, s.path)
}

func TestGetHonorsExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")

	got, err := s.GetIdentity(ctx, "work")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "work-user", got.User.Login)
	assert.Equal(t, 7, got.Stats.TotalStars)
	assert.Equal(t, []string{"@work"}, got.Identity.RegistryScopes)

	clock.Advance(24*time.Hour - time.Millisecond)
	got, err = s.GetIdentity(ctx, "work")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(time.Millisecond)
	got, err = s.GetIdentity(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCustomTTLPolicy(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	policy := storage.DefaultTTLPolicy()
	policy[storage.KindBranch] = time.Minute
	s, err := New(Options{DataDir: t.TempDir(), Clock: clock.Now, TTL: policy})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedIdentity(t, s, "work")
	repo := seedRepository(t, s, "work", "r1", clock.Now())
	require.NoError(t, s.SaveBranch(ctx, &domain.Branch{ID: domain.ChildID(repo.ID, "main"), RepositoryID: repo.ID, Name: "main"}))

	clock.Advance(time.Minute)
	b, err := s.GetBranch(ctx, domain.ChildID(repo.ID, "main"))
	require.NoError(t, err)
	assert.Nil(t, b)

	r, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestSaveIsWriterWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")
	repo := seedRepository(t, s, "work", "r1", time.Now())

	issue := domain.Issue{ID: domain.ChildID(repo.ID, "1"), RepositoryID: repo.ID, Number: 1, Title: "first", State: "open"}
	require.NoError(t, s.SaveIssue(ctx, &issue))
	issue.Title = "second"
	issue.State = "closed"
	issue.Labels = []domain.Label{{Name: "bug"}}
	require.NoError(t, s.SaveIssue(ctx, &issue))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, "closed", got.State)
	assert.Equal(t, []domain.Label{{Name: "bug"}}, got.Labels)

	all, err := s.GetIssuesForRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPullRequestMergeableIsTriState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")
	repo := seedRepository(t, s, "work", "r1", time.Now())

	yes := true
	unknown := domain.PullRequest{ID: domain.ChildID(repo.ID, "1"), RepositoryID: repo.ID, Number: 1, Title: "a", State: "open", MergeableState: "unknown"}
	known := domain.PullRequest{ID: domain.ChildID(repo.ID, "2"), RepositoryID: repo.ID, Number: 2, Title: "b", State: "open", Mergeable: &yes,
		Head: &domain.BranchRef{Ref: "feature", SHA: "abc"}}
	require.NoError(t, s.SavePullRequest(ctx, &unknown))
	require.NoError(t, s.SavePullRequest(ctx, &known))

	got, err := s.GetPullRequest(ctx, unknown.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Mergeable)
	assert.Equal(t, "unknown", got.MergeableState)

	got, err = s.GetPullRequest(ctx, known.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Mergeable)
	assert.True(t, *got.Mergeable)
	require.NotNil(t, got.Head)
	assert.Equal(t, "feature", got.Head.Ref)
}

func TestAggregateReadsJoinRepository(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")
	seedIdentity(t, s, "home")
	r1 := seedRepository(t, s, "work", "r1", time.Now())
	r2 := seedRepository(t, s, "home", "r2", time.Now())

	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveIssue(ctx, &domain.Issue{ID: domain.ChildID(r1.ID, "1"), RepositoryID: r1.ID, Number: 1, Title: "old", State: "open", UpdatedAt: base}))
	require.NoError(t, s.SaveIssue(ctx, &domain.Issue{ID: domain.ChildID(r2.ID, "2"), RepositoryID: r2.ID, Number: 2, Title: "new", State: "open", UpdatedAt: base.Add(time.Hour)}))

	published := base.Add(2 * time.Hour)
	require.NoError(t, s.SaveRelease(ctx, &domain.Release{ID: domain.ChildID(r1.ID, "v1"), RepositoryID: r1.ID, TagName: "v1", CreatedAt: base}))
	require.NoError(t, s.SaveRelease(ctx, &domain.Release{ID: domain.ChildID(r1.ID, "v2"), RepositoryID: r1.ID, TagName: "v2", CreatedAt: base, PublishedAt: &published}))

	issues, err := s.GetAllIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "new", issues[0].Title)
	assert.Equal(t, "home", issues[0].IdentityID)
	assert.Equal(t, "r2", issues[0].RepositoryName)
	assert.Equal(t, "home-user/r2", issues[0].RepositoryFullName)

	issues, err = s.GetIssuesForIdentity(ctx, "work")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "old", issues[0].Title)

	releases, err := s.GetAllReleases(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.Equal(t, "v2", releases[0].TagName)
	assert.Equal(t, "r1", releases[0].RepositoryName)

	repos, err := s.GetRepositoriesForIdentity(ctx, "work")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, []string{"cli"}, repos[0].Topics)
	assert.Equal(t, 5, repos[0].Counts.Stars)
}

func TestWorkspacePackageRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	wp := domain.WorkspacePackage{
		Package:      domain.ManifestInfo{Name: "@org/a", Version: "1.0.0", Author: "Ada"},
		RuntimeDeps:  []domain.Dependency{{Name: "@org/b", Version: "^1.0.0"}, {Name: "@ext/x", Version: "2.0.0"}},
		DevDeps:      []domain.Dependency{{Name: "typescript", Version: "^5"}},
		InternalDeps: []domain.Dependency{{Name: "@org/b", Version: "^1.0.0"}},
		Dependents:   []string{"@org/c"},
		ManifestPath: "/ws/a/package.json",
	}
	require.NoError(t, s.SaveWorkspacePackage(ctx, &wp))

	all, err := s.GetAllWorkspacePackages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, wp.Package.Name, got.Package.Name)
	assert.Equal(t, wp.RuntimeDeps, got.RuntimeDeps)
	assert.Equal(t, wp.DevDeps, got.DevDeps)
	assert.Equal(t, wp.InternalDeps, got.InternalDeps)
	assert.Equal(t, wp.Dependents, got.Dependents)
	assert.Equal(t, wp.ManifestPath, got.ManifestPath)
}

func TestRegistryPackageRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	published := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	pkg := domain.RegistryPackage{
		ID: "@ext/x", Scope: "@ext", Name: "x", Version: "2.0.0",
		Keywords:    []string{"k"},
		Maintainers: []domain.RegistryPerson{{Username: "m"}},
		Repository:  &domain.RegistryRepository{Type: "git", URL: "git+https://example.com/x.git"},
		PublishedAt: &published,
		Links:       map[string]string{"npm": "https://npm.example/x"},
		Score:       &domain.RegistryScore{Final: 0.5},
		SearchScore: 12.5,
	}
	require.NoError(t, s.SaveRegistryPackage(ctx, &pkg))

	got, err := s.GetRegistryPackage(ctx, "@ext/x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pkg.Keywords, got.Keywords)
	assert.Equal(t, pkg.Repository, got.Repository)
	assert.True(t, published.Equal(*got.PublishedAt))
	assert.Equal(t, pkg.Links, got.Links)
	assert.InDelta(t, 12.5, got.SearchScore, 0.0001)
}

func TestExecuteQueryRejectsNonSelect(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")

	for _, q := range []string{
		"DROP TABLE identities",
		"  delete from identities",
		"update identities set name = 'x'",
		"SELECT 1; DROP TABLE identities",
	} {
		_, err := s.ExecuteQuery(ctx, q)
		require.Error(t, err, q)
		assert.Equal(t, storage.ErrOnlySelect, err.Error())
		assert.True(t, apperrors.IsValidation(err))
	}

	res, err := s.ExecuteQuery(ctx, "  SELECT id, username FROM identities;")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, []string{"id", "username"}, res.Columns)
	assert.Equal(t, "work", res.Rows[0]["id"])

	res, err = s.ExecuteQueryWithParams(ctx, "select id from identities where id = ?", []any{"nope"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCount)
}

func TestListAndReadTables(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "a")
	seedIdentity(t, s, "b")
	seedIdentity(t, s, "c")

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	byName := make(map[string]storage.TableInfo)
	for _, tbl := range tables {
		byName[tbl.Name] = tbl
	}
	for _, name := range tableNames {
		assert.Contains(t, byName, name)
	}
	assert.Equal(t, int64(3), byName["identities"].Count)
	assert.True(t, byName["identities"].Columns[0].PK)

	page, err := s.ReadTable(ctx, "identities", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, "c", page.Records[0]["id"])
	assert.Equal(t, storage.Pagination{Page: 2, Limit: 2, Total: 3, Pages: 2, HasNext: false, HasPrev: true}, page.Pagination)

	_, err = s.ReadTable(ctx, "identities; DROP TABLE x", 1, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = s.ReadTable(ctx, "missing_table", 1, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.ReadTable(ctx, "identities", -1, 10)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClearExpiredKeepsParentsOfLiveRows(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")
	seedIdentity(t, s, "idle")

	clock.Advance(23 * time.Hour)
	repo := seedRepository(t, s, "work", "r1", clock.Now())
	clock.Advance(2 * time.Hour)

	deleted, err := s.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted["identities"])

	count, err := s.CountIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestEnsureIdentityPlaceholderIsAMiss(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureIdentity(ctx, domain.Identity{ID: "work", Name: "Work", Username: "w"}))
	require.NoError(t, s.EnsureIdentity(ctx, domain.Identity{ID: "work", Name: "Work", Username: "w"}))

	got, err := s.GetIdentity(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := s.CountIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	seedRepository(t, s, "work", "r1", time.Now())
	n, err := s.CountRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClearAllAndStatus(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")
	repo := seedRepository(t, s, "work", "r1", time.Now())
	require.NoError(t, s.SaveBranch(ctx, &domain.Branch{ID: domain.ChildID(repo.ID, "main"), RepositoryID: repo.ID, Name: "main"}))

	clock.Advance(time.Hour)
	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", st.Backend)
	assert.Equal(t, int64(3), st.TotalEntries)
	assert.Equal(t, int64(2), st.LiveEntries)

	require.NoError(t, s.ClearAll(ctx))
	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalEntries)
}

func TestResetStoreRecreatesLocalFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "work")

	require.NoError(t, s.ResetStore(ctx))
	assert.FileExists(t, s.path)

	count, err := s.CountIdentities(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	seedIdentity(t, s, "again")
	count, err = s.CountIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMalformedRowIsSkipped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWorkspacePackage(ctx, &domain.WorkspacePackage{Package: domain.ManifestInfo{Name: "good"}}))
	require.NoError(t, s.SaveWorkspacePackage(ctx, &domain.WorkspacePackage{Package: domain.ManifestInfo{Name: "bad"}}))

	_, err := s.exec(ctx, "UPDATE workspace_packages SET runtime_deps = '{broken' WHERE id = ?", "bad")
	require.NoError(t, err)

	all, err := s.GetAllWorkspacePackages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].Package.Name)

	got, err := s.GetWorkspacePackage(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(Options{URL: "postgres://user@db.example:5432/runghost?sslmode=disable", AuthToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", s.Backend())
	assert.False(t, s.Local())
	assert.Contains(t, s.dsn, "secret")
	assert.NotContains(t, s.location, "secret")
	assert.Equal(t, "SELECT $1, $2", s.bind("SELECT ?, ?"))

	dir := t.TempDir()
	s, err = New(Options{URL: "file:" + filepath.Join(dir, "x.db")})
	require.NoError(t, err)
	assert.True(t, s.Local())
	assert.Equal(t, "SELECT ?", s.bind("SELECT ?"))

	_, err = New(Options{URL: "libsql://remote"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "x.db"))
	assert.True(t, os.IsNotExist(statErr), "store must open lazily")
}
