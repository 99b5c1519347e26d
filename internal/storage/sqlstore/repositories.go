package sqlstore

import (
	"context"
	"database/sql"

	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

var repositoryColumns = []string{
	"id", "identity_id", "upstream_id", "name", "full_name", "description", "private",
	"html_url", "clone_url", "ssh_url", "homepage", "language", "size",
	"stars", "watchers", "forks", "open_issues", "default_branch",
	"created_at", "updated_at", "pushed_at", "archived", "disabled", "topics", "license",
}

func scanRepository(sc scanner) (domain.Repository, error) {
	var (
		r                                      domain.Repository
		upstreamID                             sql.NullInt64
		description, htmlURL, cloneURL, sshURL sql.NullString
		homepage, language, defaultBranch      sql.NullString
		created, updated, pushed               sql.NullString
		topics, license                        sql.NullString
		private, archived, disabled            int
	)
	err := sc.Scan(&r.ID, &r.IdentityID, &upstreamID, &r.Name, &r.FullName, &description, &private,
		&htmlURL, &cloneURL, &sshURL, &homepage, &language, &r.Size,
		&r.Counts.Stars, &r.Counts.Watchers, &r.Counts.Forks, &r.Counts.OpenIssues, &defaultBranch,
		&created, &updated, &pushed, &archived, &disabled, &topics, &license)
	if err != nil {
		return r, err
	}

	r.UpstreamID = upstreamID.Int64
	r.Description = description.String
	r.Private = private != 0
	r.URLs = domain.RepositoryURLs{
		HTML:     htmlURL.String,
		Clone:    cloneURL.String,
		SSH:      sshURL.String,
		Homepage: homepage.String,
	}
	r.Language = language.String
	r.DefaultBranch = defaultBranch.String
	r.Timestamps = domain.RepositoryTimestamps{
		Created: parseTime(created),
		Updated: parseTime(updated),
		Pushed:  parseTime(pushed),
	}
	r.Archived = archived != 0
	r.Disabled = disabled != 0
	r.License = license.String
	r.Topics = []string{}
	if err := decodeJSON("topics", topics, &r.Topics); err != nil {
		return r, err
	}
	return r, nil
}

// GetRepository returns a live cached repository
func (s *Store) GetRepository(ctx context.Context, id string) (*domain.Repository, error) {
	query := "SELECT " + selectColumns("", repositoryColumns) + " FROM repositories WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindRepository, query, scanRepository, id)
}

// SaveRepository upserts a repository under its identity
func (s *Store) SaveRepository(ctx context.Context, r *domain.Repository) error {
	if r == nil || r.ID == "" || r.IdentityID == "" {
		return apperrors.NewValidationError("repository id and identity id are required")
	}
	topics, err := encodeJSON(nonNilStrings(r.Topics))
	if err != nil {
		return apperrors.NewStoreError("failed to encode repository", err)
	}

	values := []any{
		r.ID, r.IdentityID, r.UpstreamID, r.Name, r.FullName, nullString(r.Description), boolInt(r.Private),
		nullString(r.URLs.HTML), nullString(r.URLs.Clone), nullString(r.URLs.SSH), nullString(r.URLs.Homepage),
		nullString(r.Language), r.Size,
		r.Counts.Stars, r.Counts.Watchers, r.Counts.Forks, r.Counts.OpenIssues, nullString(r.DefaultBranch),
		formatTime(r.Timestamps.Created), formatTime(r.Timestamps.Updated), formatTime(r.Timestamps.Pushed),
		boolInt(r.Archived), boolInt(r.Disabled), topics, nullString(r.License),
	}
	return s.upsert(ctx, "repositories", storage.KindRepository, repositoryColumns, values)
}

// GetRepositoriesForIdentity lists an identity's repositories, most recently updated first
func (s *Store) GetRepositoriesForIdentity(ctx context.Context, identityID string) ([]domain.Repository, error) {
	query := "SELECT " + selectColumns("", repositoryColumns) +
		" FROM repositories WHERE identity_id = ? ORDER BY updated_at DESC NULLS LAST, id"
	return queryList(ctx, s, storage.KindRepository, query, scanRepository, identityID)
}

// GetAllRepositories lists every repository, most recently updated first
func (s *Store) GetAllRepositories(ctx context.Context) ([]domain.Repository, error) {
	query := "SELECT " + selectColumns("", repositoryColumns) +
		" FROM repositories ORDER BY updated_at DESC NULLS LAST, id"
	return queryList(ctx, s, storage.KindRepository, query, scanRepository)
}

// CountRepositories returns the number of repository rows, expired or not
func (s *Store) CountRepositories(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT COUNT(*) FROM repositories")
	return int(n), err
}
