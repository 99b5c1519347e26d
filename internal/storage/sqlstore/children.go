package sqlstore

import (
	"context"
	"database/sql"

	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// refJoin annotates child rows with their repository
const (
	refColumns = "r.identity_id, r.name, r.full_name"
	refJoin    = " JOIN repositories r ON r.id = c.repository_id"
)

func refDest(ref *domain.RepositoryRef) []any {
	return []any{&ref.IdentityID, &ref.RepositoryName, &ref.RepositoryFullName}
}

// Issues

var issueColumns = []string{
	"id", "repository_id", "upstream_id", "number", "title", "body", "state",
	"author", "labels", "assignees", "milestone", "comments", "html_url",
	"created_at", "updated_at", "closed_at",
}

func scanIssue(withRef bool) func(scanner) (domain.Issue, error) {
	return func(sc scanner) (domain.Issue, error) {
		var (
			is                                   domain.Issue
			upstreamID                           sql.NullInt64
			body, htmlURL                        sql.NullString
			author, labels, assignees, milestone sql.NullString
			created, updated, closed             sql.NullString
		)
		dest := []any{&is.ID, &is.RepositoryID, &upstreamID, &is.Number, &is.Title, &body, &is.State,
			&author, &labels, &assignees, &milestone, &is.Comments, &htmlURL,
			&created, &updated, &closed}
		if withRef {
			dest = append(dest, refDest(&is.RepositoryRef)...)
		}
		if err := sc.Scan(dest...); err != nil {
			return is, err
		}

		is.UpstreamID = upstreamID.Int64
		is.Body = body.String
		is.HTMLURL = htmlURL.String
		is.CreatedAt = parseTime(created)
		is.UpdatedAt = parseTime(updated)
		is.ClosedAt = parseTimePtr(closed)
		is.Labels = []domain.Label{}
		is.Assignees = []domain.Actor{}
		if err := decodeJSON("author", author, &is.Author); err != nil {
			return is, err
		}
		if err := decodeJSON("labels", labels, &is.Labels); err != nil {
			return is, err
		}
		if err := decodeJSON("assignees", assignees, &is.Assignees); err != nil {
			return is, err
		}
		if err := decodeJSON("milestone", milestone, &is.Milestone); err != nil {
			return is, err
		}
		return is, nil
	}
}

// GetIssue returns a live cached issue
func (s *Store) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	query := "SELECT " + selectColumns("", issueColumns) + " FROM issues WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindIssue, query, scanIssue(false), id)
}

// SaveIssue upserts an issue under its repository
func (s *Store) SaveIssue(ctx context.Context, is *domain.Issue) error {
	if is == nil || is.ID == "" || is.RepositoryID == "" {
		return apperrors.NewValidationError("issue id and repository id are required")
	}
	blobs, err := jsonColumns(is.Author, nonNilSlice(is.Labels), nonNilSlice(is.Assignees), is.Milestone)
	if err != nil {
		return apperrors.NewStoreError("failed to encode issue", err)
	}

	values := []any{is.ID, is.RepositoryID, is.UpstreamID, is.Number, is.Title, nullString(is.Body), is.State}
	values = append(values, blobs...)
	values = append(values, is.Comments, nullString(is.HTMLURL),
		formatTime(is.CreatedAt), formatTime(is.UpdatedAt), formatTimePtr(is.ClosedAt))
	return s.upsert(ctx, "issues", storage.KindIssue, issueColumns, values)
}

func (s *Store) listIssues(ctx context.Context, where string, args ...any) ([]domain.Issue, error) {
	query := "SELECT " + selectColumns("c", issueColumns) + ", " + refColumns +
		" FROM issues c" + refJoin + where + " ORDER BY c.updated_at DESC NULLS LAST, c.id"
	return queryList(ctx, s, storage.KindIssue, query, scanIssue(true), args...)
}

// GetIssuesForRepository lists a repository's issues, most recently updated first
func (s *Store) GetIssuesForRepository(ctx context.Context, repositoryID string) ([]domain.Issue, error) {
	return s.listIssues(ctx, " WHERE c.repository_id = ?", repositoryID)
}

// GetIssuesForIdentity lists issues across an identity's repositories
func (s *Store) GetIssuesForIdentity(ctx context.Context, identityID string) ([]domain.Issue, error) {
	return s.listIssues(ctx, " WHERE r.identity_id = ?", identityID)
}

// GetAllIssues lists every issue, most recently updated first
func (s *Store) GetAllIssues(ctx context.Context) ([]domain.Issue, error) {
	return s.listIssues(ctx, "")
}

// Pull requests

var pullRequestColumns = []string{
	"id", "repository_id", "upstream_id", "number", "title", "body", "state",
	"author", "head", "base", "labels", "assignees", "requested_reviewers", "milestone",
	"draft", "merged", "mergeable", "mergeable_state",
	"comments", "review_comments", "commits", "additions", "deletions", "changed_files",
	"html_url", "created_at", "updated_at", "closed_at", "merged_at",
}

func scanPullRequest(withRef bool) func(scanner) (domain.PullRequest, error) {
	return func(sc scanner) (domain.PullRequest, error) {
		var (
			pr                                    domain.PullRequest
			upstreamID, mergeable                 sql.NullInt64
			body, mergeableState, htmlURL         sql.NullString
			author, head, base, labels, assignees sql.NullString
			reviewers, milestone                  sql.NullString
			created, updated, closed, merged      sql.NullString
			draft, isMerged                       int
		)
		dest := []any{&pr.ID, &pr.RepositoryID, &upstreamID, &pr.Number, &pr.Title, &body, &pr.State,
			&author, &head, &base, &labels, &assignees, &reviewers, &milestone,
			&draft, &isMerged, &mergeable, &mergeableState,
			&pr.Comments, &pr.ReviewComments, &pr.Commits, &pr.Additions, &pr.Deletions, &pr.ChangedFiles,
			&htmlURL, &created, &updated, &closed, &merged}
		if withRef {
			dest = append(dest, refDest(&pr.RepositoryRef)...)
		}
		if err := sc.Scan(dest...); err != nil {
			return pr, err
		}

		pr.UpstreamID = upstreamID.Int64
		pr.Body = body.String
		pr.Draft = draft != 0
		pr.Merged = isMerged != 0
		pr.Mergeable = scanNullBool(mergeable)
		pr.MergeableState = mergeableState.String
		pr.HTMLURL = htmlURL.String
		pr.CreatedAt = parseTime(created)
		pr.UpdatedAt = parseTime(updated)
		pr.ClosedAt = parseTimePtr(closed)
		pr.MergedAt = parseTimePtr(merged)
		pr.Labels = []domain.Label{}
		pr.Assignees = []domain.Actor{}
		pr.RequestedReviewers = []domain.Actor{}
		for column, pair := range map[string]struct {
			src sql.NullString
			dst any
		}{
			"author":              {author, &pr.Author},
			"head":                {head, &pr.Head},
			"base":                {base, &pr.Base},
			"labels":              {labels, &pr.Labels},
			"assignees":           {assignees, &pr.Assignees},
			"requested_reviewers": {reviewers, &pr.RequestedReviewers},
			"milestone":           {milestone, &pr.Milestone},
		} {
			if err := decodeJSON(column, pair.src, pair.dst); err != nil {
				return pr, err
			}
		}
		return pr, nil
	}
}

// GetPullRequest returns a live cached pull request
func (s *Store) GetPullRequest(ctx context.Context, id string) (*domain.PullRequest, error) {
	query := "SELECT " + selectColumns("", pullRequestColumns) + " FROM pull_requests WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindPullRequest, query, scanPullRequest(false), id)
}

// SavePullRequest upserts a pull request under its repository
func (s *Store) SavePullRequest(ctx context.Context, pr *domain.PullRequest) error {
	if pr == nil || pr.ID == "" || pr.RepositoryID == "" {
		return apperrors.NewValidationError("pull request id and repository id are required")
	}
	blobs, err := jsonColumns(pr.Author, pr.Head, pr.Base, nonNilSlice(pr.Labels),
		nonNilSlice(pr.Assignees), nonNilSlice(pr.RequestedReviewers), pr.Milestone)
	if err != nil {
		return apperrors.NewStoreError("failed to encode pull request", err)
	}

	values := []any{pr.ID, pr.RepositoryID, pr.UpstreamID, pr.Number, pr.Title, nullString(pr.Body), pr.State}
	values = append(values, blobs...)
	values = append(values,
		boolInt(pr.Draft), boolInt(pr.Merged), nullBool(pr.Mergeable), nullString(pr.MergeableState),
		pr.Comments, pr.ReviewComments, pr.Commits, pr.Additions, pr.Deletions, pr.ChangedFiles,
		nullString(pr.HTMLURL), formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt),
		formatTimePtr(pr.ClosedAt), formatTimePtr(pr.MergedAt))
	return s.upsert(ctx, "pull_requests", storage.KindPullRequest, pullRequestColumns, values)
}

func (s *Store) listPullRequests(ctx context.Context, where string, args ...any) ([]domain.PullRequest, error) {
	query := "SELECT " + selectColumns("c", pullRequestColumns) + ", " + refColumns +
		" FROM pull_requests c" + refJoin + where + " ORDER BY c.updated_at DESC NULLS LAST, c.id"
	return queryList(ctx, s, storage.KindPullRequest, query, scanPullRequest(true), args...)
}

// GetPullRequestsForRepository lists a repository's pull requests, most recently updated first
func (s *Store) GetPullRequestsForRepository(ctx context.Context, repositoryID string) ([]domain.PullRequest, error) {
	return s.listPullRequests(ctx, " WHERE c.repository_id = ?", repositoryID)
}

// GetPullRequestsForIdentity lists pull requests across an identity's repositories
func (s *Store) GetPullRequestsForIdentity(ctx context.Context, identityID string) ([]domain.PullRequest, error) {
	return s.listPullRequests(ctx, " WHERE r.identity_id = ?", identityID)
}

// GetAllPullRequests lists every pull request, most recently updated first
func (s *Store) GetAllPullRequests(ctx context.Context) ([]domain.PullRequest, error) {
	return s.listPullRequests(ctx, "")
}

// Releases

var releaseColumns = []string{
	"id", "repository_id", "upstream_id", "tag_name", "name", "body", "draft", "prerelease",
	"author", "assets", "html_url", "tarball_url", "zipball_url", "created_at", "published_at",
}

func scanRelease(withRef bool) func(scanner) (domain.Release, error) {
	return func(sc scanner) (domain.Release, error) {
		var (
			rel                                   domain.Release
			upstreamID                            sql.NullInt64
			name, body, htmlURL, tarball, zipball sql.NullString
			author, assets                        sql.NullString
			created, published                    sql.NullString
			draft, prerelease                     int
		)
		dest := []any{&rel.ID, &rel.RepositoryID, &upstreamID, &rel.TagName, &name, &body, &draft, &prerelease,
			&author, &assets, &htmlURL, &tarball, &zipball, &created, &published}
		if withRef {
			dest = append(dest, refDest(&rel.RepositoryRef)...)
		}
		if err := sc.Scan(dest...); err != nil {
			return rel, err
		}

		rel.UpstreamID = upstreamID.Int64
		rel.Name = name.String
		rel.Body = body.String
		rel.Draft = draft != 0
		rel.Prerelease = prerelease != 0
		rel.HTMLURL = htmlURL.String
		rel.TarballURL = tarball.String
		rel.ZipballURL = zipball.String
		rel.CreatedAt = parseTime(created)
		rel.PublishedAt = parseTimePtr(published)
		rel.Assets = []domain.ReleaseAsset{}
		if err := decodeJSON("author", author, &rel.Author); err != nil {
			return rel, err
		}
		if err := decodeJSON("assets", assets, &rel.Assets); err != nil {
			return rel, err
		}
		return rel, nil
	}
}

// GetRelease returns a live cached release
func (s *Store) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	query := "SELECT " + selectColumns("", releaseColumns) + " FROM releases WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindRelease, query, scanRelease(false), id)
}

// SaveRelease upserts a release under its repository
func (s *Store) SaveRelease(ctx context.Context, rel *domain.Release) error {
	if rel == nil || rel.ID == "" || rel.RepositoryID == "" {
		return apperrors.NewValidationError("release id and repository id are required")
	}
	blobs, err := jsonColumns(rel.Author, nonNilSlice(rel.Assets))
	if err != nil {
		return apperrors.NewStoreError("failed to encode release", err)
	}

	values := []any{rel.ID, rel.RepositoryID, rel.UpstreamID, rel.TagName, nullString(rel.Name),
		nullString(rel.Body), boolInt(rel.Draft), boolInt(rel.Prerelease)}
	values = append(values, blobs...)
	values = append(values, nullString(rel.HTMLURL), nullString(rel.TarballURL), nullString(rel.ZipballURL),
		formatTime(rel.CreatedAt), formatTimePtr(rel.PublishedAt))
	return s.upsert(ctx, "releases", storage.KindRelease, releaseColumns, values)
}

func (s *Store) listReleases(ctx context.Context, where string, args ...any) ([]domain.Release, error) {
	query := "SELECT " + selectColumns("c", releaseColumns) + ", " + refColumns +
		" FROM releases c" + refJoin + where +
		" ORDER BY COALESCE(c.published_at, c.created_at) DESC NULLS LAST, c.id"
	return queryList(ctx, s, storage.KindRelease, query, scanRelease(true), args...)
}

// GetReleasesForRepository lists a repository's releases, most recently published first
func (s *Store) GetReleasesForRepository(ctx context.Context, repositoryID string) ([]domain.Release, error) {
	return s.listReleases(ctx, " WHERE c.repository_id = ?", repositoryID)
}

// GetAllReleases lists every release, most recently published first
func (s *Store) GetAllReleases(ctx context.Context) ([]domain.Release, error) {
	return s.listReleases(ctx, "")
}

// Branches

var branchColumns = []string{"id", "repository_id", "name", "commit_sha", "commit_url", "protected"}

func scanBranch(sc scanner) (domain.Branch, error) {
	var (
		b              domain.Branch
		sha, commitURL sql.NullString
		protected      int
	)
	if err := sc.Scan(&b.ID, &b.RepositoryID, &b.Name, &sha, &commitURL, &protected); err != nil {
		return b, err
	}
	b.CommitSHA = sha.String
	b.CommitURL = commitURL.String
	b.Protected = protected != 0
	return b, nil
}

// GetBranch returns a live cached branch
func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	query := "SELECT " + selectColumns("", branchColumns) + " FROM branches WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindBranch, query, scanBranch, id)
}

// SaveBranch upserts a branch under its repository
func (s *Store) SaveBranch(ctx context.Context, b *domain.Branch) error {
	if b == nil || b.ID == "" || b.RepositoryID == "" {
		return apperrors.NewValidationError("branch id and repository id are required")
	}
	values := []any{b.ID, b.RepositoryID, b.Name, nullString(b.CommitSHA), nullString(b.CommitURL), boolInt(b.Protected)}
	return s.upsert(ctx, "branches", storage.KindBranch, branchColumns, values)
}

// GetBranchesForRepository lists a repository's branches by name
func (s *Store) GetBranchesForRepository(ctx context.Context, repositoryID string) ([]domain.Branch, error) {
	query := "SELECT " + selectColumns("", branchColumns) + " FROM branches WHERE repository_id = ? ORDER BY name"
	return queryList(ctx, s, storage.KindBranch, query, scanBranch, repositoryID)
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
