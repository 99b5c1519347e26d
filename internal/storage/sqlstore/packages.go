package sqlstore

import (
	"context"
	"database/sql"

	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// Registry packages

var registryPackageColumns = []string{
	"id", "scope", "name", "version", "description", "keywords", "author", "maintainers",
	"repository", "homepage", "license", "published_at", "links", "publisher", "score", "search_score",
}

func scanRegistryPackage(sc scanner) (domain.RegistryPackage, error) {
	var (
		p                                   domain.RegistryPackage
		scope, version, description         sql.NullString
		keywords, author, maintainers, repo sql.NullString
		homepage, license, published        sql.NullString
		links, publisher, score             sql.NullString
		searchScore                         sql.NullFloat64
	)
	err := sc.Scan(&p.ID, &scope, &p.Name, &version, &description, &keywords, &author, &maintainers,
		&repo, &homepage, &license, &published, &links, &publisher, &score, &searchScore)
	if err != nil {
		return p, err
	}

	p.Scope = scope.String
	p.Version = version.String
	p.Description = description.String
	p.Homepage = homepage.String
	p.License = license.String
	p.PublishedAt = parseTimePtr(published)
	p.SearchScore = searchScore.Float64
	p.Keywords = []string{}
	p.Maintainers = []domain.RegistryPerson{}
	for column, pair := range map[string]struct {
		src sql.NullString
		dst any
	}{
		"keywords":    {keywords, &p.Keywords},
		"author":      {author, &p.Author},
		"maintainers": {maintainers, &p.Maintainers},
		"repository":  {repo, &p.Repository},
		"links":       {links, &p.Links},
		"publisher":   {publisher, &p.Publisher},
		"score":       {score, &p.Score},
	} {
		if err := decodeJSON(column, pair.src, pair.dst); err != nil {
			return p, err
		}
	}
	return p, nil
}

// GetRegistryPackage returns a live cached registry package by "<scope>/<name>"
func (s *Store) GetRegistryPackage(ctx context.Context, id string) (*domain.RegistryPackage, error) {
	query := "SELECT " + selectColumns("", registryPackageColumns) + " FROM registry_packages WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindRegistryPackage, query, scanRegistryPackage, id)
}

// SaveRegistryPackage upserts a registry package
func (s *Store) SaveRegistryPackage(ctx context.Context, p *domain.RegistryPackage) error {
	if p == nil || p.ID == "" {
		return apperrors.NewValidationError("registry package id is required")
	}
	blobs, err := jsonColumns(nonNilStrings(p.Keywords), p.Author, nonNilSlice(p.Maintainers), p.Repository)
	if err != nil {
		return apperrors.NewStoreError("failed to encode registry package", err)
	}
	tail, err := jsonColumns(p.Links, p.Publisher, p.Score)
	if err != nil {
		return apperrors.NewStoreError("failed to encode registry package", err)
	}

	values := []any{p.ID, nullString(p.Scope), p.Name, nullString(p.Version), nullString(p.Description)}
	values = append(values, blobs...)
	values = append(values, nullString(p.Homepage), nullString(p.License), formatTimePtr(p.PublishedAt))
	values = append(values, tail...)
	values = append(values, p.SearchScore)
	return s.upsert(ctx, "registry_packages", storage.KindRegistryPackage, registryPackageColumns, values)
}

// GetAllRegistryPackages lists every registry package by id
func (s *Store) GetAllRegistryPackages(ctx context.Context) ([]domain.RegistryPackage, error) {
	query := "SELECT " + selectColumns("", registryPackageColumns) + " FROM registry_packages ORDER BY id"
	return queryList(ctx, s, storage.KindRegistryPackage, query, scanRegistryPackage)
}

// Workspace packages

var workspacePackageColumns = []string{
	"id", "name", "version", "description", "author", "license", "repository",
	"runtime_deps", "dev_deps", "internal_deps", "dependents", "manifest_path",
}

func scanWorkspacePackage(sc scanner) (domain.WorkspacePackage, error) {
	var (
		id                                         string
		wp                                         domain.WorkspacePackage
		version, description, author, license      sql.NullString
		repo, manifestPath                         sql.NullString
		runtimeDeps, devDeps, internal, dependents sql.NullString
	)
	err := sc.Scan(&id, &wp.Package.Name, &version, &description, &author, &license, &repo,
		&runtimeDeps, &devDeps, &internal, &dependents, &manifestPath)
	if err != nil {
		return wp, err
	}

	wp.Package.Version = version.String
	wp.Package.Description = description.String
	wp.Package.Author = author.String
	wp.Package.License = license.String
	wp.Package.Repository = repo.String
	wp.ManifestPath = manifestPath.String
	wp.RuntimeDeps = []domain.Dependency{}
	wp.DevDeps = []domain.Dependency{}
	wp.InternalDeps = []domain.Dependency{}
	wp.Dependents = []string{}
	for column, pair := range map[string]struct {
		src sql.NullString
		dst any
	}{
		"runtime_deps":  {runtimeDeps, &wp.RuntimeDeps},
		"dev_deps":      {devDeps, &wp.DevDeps},
		"internal_deps": {internal, &wp.InternalDeps},
		"dependents":    {dependents, &wp.Dependents},
	} {
		if err := decodeJSON(column, pair.src, pair.dst); err != nil {
			return wp, err
		}
	}
	return wp, nil
}

// GetWorkspacePackage returns a live cached workspace package by name
func (s *Store) GetWorkspacePackage(ctx context.Context, name string) (*domain.WorkspacePackage, error) {
	query := "SELECT " + selectColumns("", workspacePackageColumns) + " FROM workspace_packages WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindWorkspacePackage, query, scanWorkspacePackage, name)
}

// SaveWorkspacePackage upserts a workspace package keyed by its name
func (s *Store) SaveWorkspacePackage(ctx context.Context, wp *domain.WorkspacePackage) error {
	if wp == nil || wp.Package.Name == "" {
		return apperrors.NewValidationError("workspace package name is required")
	}
	blobs, err := jsonColumns(nonNilSlice(wp.RuntimeDeps), nonNilSlice(wp.DevDeps),
		nonNilSlice(wp.InternalDeps), nonNilStrings(wp.Dependents))
	if err != nil {
		return apperrors.NewStoreError("failed to encode workspace package", err)
	}

	values := []any{wp.Package.Name, wp.Package.Name, nullString(wp.Package.Version),
		nullString(wp.Package.Description), nullString(wp.Package.Author),
		nullString(wp.Package.License), nullString(wp.Package.Repository)}
	values = append(values, blobs...)
	values = append(values, nullString(wp.ManifestPath))
	return s.upsert(ctx, "workspace_packages", storage.KindWorkspacePackage, workspacePackageColumns, values)
}

// GetAllWorkspacePackages lists every workspace package by name
func (s *Store) GetAllWorkspacePackages(ctx context.Context) ([]domain.WorkspacePackage, error) {
	query := "SELECT " + selectColumns("", workspacePackageColumns) + " FROM workspace_packages ORDER BY name"
	return queryList(ctx, s, storage.KindWorkspacePackage, query, scanWorkspacePackage)
}
