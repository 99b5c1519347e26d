package sqlstore

import (
	"context"
	"database/sql"

	"github.com/kurihiro0119/runghost/internal/domain"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

var identityColumns = []string{
	"id", "name", "username", "description", "avatar", "tags", "workspaces",
	"registry_scopes", "user_data", "totals", "stats", "last_updated",
}

func scanIdentity(sc scanner) (domain.CachedIdentity, error) {
	var (
		ci                                 domain.CachedIdentity
		description, avatar                sql.NullString
		tags, workspaces, scopes           sql.NullString
		userData, totals, stats, updatedAt sql.NullString
	)
	err := sc.Scan(&ci.Identity.ID, &ci.Identity.Name, &ci.Identity.Username, &description, &avatar,
		&tags, &workspaces, &scopes, &userData, &totals, &stats, &updatedAt)
	if err != nil {
		return ci, err
	}

	ci.Identity.Description = description.String
	ci.Identity.Avatar = avatar.String
	ci.LastUpdated = parseTime(updatedAt)
	for column, pair := range map[string]struct {
		src sql.NullString
		dst any
	}{
		"tags":            {tags, &ci.Identity.Tags},
		"workspaces":      {workspaces, &ci.Identity.Workspaces},
		"registry_scopes": {scopes, &ci.Identity.RegistryScopes},
		"user_data":       {userData, &ci.User},
		"totals":          {totals, &ci.Totals},
		"stats":           {stats, &ci.Stats},
	} {
		if err := decodeJSON(column, pair.src, pair.dst); err != nil {
			return ci, err
		}
	}
	return ci, nil
}

func identityValues(ci *domain.CachedIdentity) ([]any, error) {
	blobs, err := jsonColumns(
		nonNilStrings(ci.Identity.Tags),
		nonNilStrings(ci.Identity.Workspaces),
		nonNilStrings(ci.Identity.RegistryScopes),
		ci.User, ci.Totals, ci.Stats,
	)
	if err != nil {
		return nil, err
	}

	values := []any{ci.Identity.ID, ci.Identity.Name, ci.Identity.Username,
		nullString(ci.Identity.Description), nullString(ci.Identity.Avatar)}
	values = append(values, blobs...)
	return append(values, formatTime(ci.LastUpdated)), nil
}

// GetIdentity returns the live cached projection of an identity
func (s *Store) GetIdentity(ctx context.Context, id string) (*domain.CachedIdentity, error) {
	query := "SELECT " + selectColumns("", identityColumns) + " FROM identities WHERE id = ? AND expires_at > ?"
	return getOne(ctx, s, storage.KindIdentity, query, scanIdentity, id)
}

// SaveIdentity upserts the cached projection of an identity
func (s *Store) SaveIdentity(ctx context.Context, ci *domain.CachedIdentity) error {
	if ci == nil || ci.Identity.ID == "" {
		return apperrors.NewValidationError("identity id is required")
	}
	if ci.LastUpdated.IsZero() {
		ci.LastUpdated = s.now()
	}
	values, err := identityValues(ci)
	if err != nil {
		return apperrors.NewStoreError("failed to encode identity", err)
	}
	return s.upsert(ctx, "identities", storage.KindIdentity, identityColumns, values)
}

// EnsureIdentity inserts an expired placeholder when the identity has no row
func (s *Store) EnsureIdentity(ctx context.Context, identity domain.Identity) error {
	if identity.ID == "" {
		return apperrors.NewValidationError("identity id is required")
	}
	values, err := identityValues(&domain.CachedIdentity{Identity: identity})
	if err != nil {
		return apperrors.NewStoreError("failed to encode identity", err)
	}
	values[len(values)-1] = nil

	query := insertSQL("identities", identityColumns) + " ON CONFLICT (id) DO NOTHING"
	// cached now, expired since the epoch
	args := append(values, s.nowMs(), int64(0))
	if _, err := s.exec(ctx, query, args...); err != nil {
		return apperrors.NewStoreError("failed to save identity", err)
	}
	return nil
}

// CountIdentities returns the number of identity rows, expired or not
func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT COUNT(*) FROM identities")
	return int(n), err
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
