// Package migration imports the legacy cache.json snapshot into the store.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/storage"
)

const (
	// SnapshotName is the legacy snapshot file inside the data directory
	SnapshotName = "cache.json"
	// BackupSuffix is appended to the snapshot name when it is kept
	BackupSuffix = ".backup"
)

// Options configures a migration run
type Options struct {
	// Delete removes the snapshot instead of renaming it to cache.json.backup
	Delete bool
}

// Result reports a migration run. Success is true whenever the pass
// completed; per-entity failures are listed in Errors.
type Result struct {
	Success              bool     `json:"success"`
	IdentitiesMigrated   int      `json:"identitiesMigrated"`
	RepositoriesMigrated int      `json:"repositoriesMigrated"`
	Errors               []string `json:"errors"`
	Message              string   `json:"message"`
	// BackupPath is set when the snapshot was renamed
	BackupPath string `json:"backupPath,omitempty"`
}

// Snapshot is the legacy cache layout: identities keyed by id and
// repository details keyed by "<identityId>/<repoName>".
type Snapshot struct {
	Identities   map[string]domain.CachedIdentity   `json:"identities"`
	Repositories map[string]domain.RepositoryDetail `json:"repositories"`
}

// SnapshotPath returns the snapshot location inside dataDir
func SnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, SnapshotName)
}

// Needed reports whether a snapshot exists and the store is still empty
func Needed(ctx context.Context, dataDir string, store storage.Store) (bool, string, error) {
	if _, err := os.Stat(SnapshotPath(dataDir)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Sprintf("Migration not needed: no %s found", SnapshotName), nil
		}
		return false, "", err
	}

	identities, err := store.CountIdentities(ctx)
	if err != nil {
		return false, "", err
	}
	repos, err := store.CountRepositories(ctx)
	if err != nil {
		return false, "", err
	}
	if identities > 0 || repos > 0 {
		return false, "Migration not needed: the store already holds data", nil
	}
	return true, "", nil
}

// Migrate imports <dataDir>/cache.json when the store holds no identities
// and no repositories, then backs the snapshot up or deletes it.
func Migrate(ctx context.Context, dataDir string, store storage.Store, opts Options) Result {
	res := Result{Errors: []string{}}

	needed, msg, err := Needed(ctx, dataDir, store)
	if err != nil {
		res.Message = fmt.Sprintf("Migration failed: %v", err)
		return res
	}
	if !needed {
		res.Success = true
		res.Message = msg
		return res
	}

	path := SnapshotPath(dataDir)
	data, err := os.ReadFile(path)
	if err != nil {
		res.Message = fmt.Sprintf("Migration failed: %v", err)
		return res
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		res.Message = fmt.Sprintf("Migration failed: invalid %s: %v", SnapshotName, err)
		return res
	}

	migratedRepos := map[string]bool{}

	for _, id := range sortedKeys(snap.Identities) {
		ci := snap.Identities[id]
		if ci.Identity.ID == "" {
			ci.Identity.ID = id
		}
		repos := ci.Repositories
		ci.Repositories = nil

		if err := store.SaveIdentity(ctx, &ci); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("identity %s: %v", id, err))
			continue
		}
		res.IdentitiesMigrated++

		for _, repo := range repos {
			repo.IdentityID = id
			if repo.ID == "" {
				repo.ID = domain.RepositoryID(id, repo.Name)
			}
			if err := store.SaveRepository(ctx, &repo); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("repository %s: %v", repo.ID, err))
				continue
			}
			migratedRepos[repo.ID] = true
		}
	}

	for _, key := range sortedKeys(snap.Repositories) {
		detail := snap.Repositories[key]
		repoID := key
		if detail.Repository.ID != "" {
			repoID = detail.Repository.ID
		}
		identityID, repoName, ok := domain.SplitRepositoryID(repoID)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("repository %s: invalid key", key))
			continue
		}

		if detail.Repository.Name != "" {
			repo := detail.Repository
			repo.ID = repoID
			repo.IdentityID = identityID
			if err := store.SaveRepository(ctx, &repo); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("repository %s: %v", repoID, err))
				continue
			}
			migratedRepos[repoID] = true
		} else if !migratedRepos[repoID] {
			res.Errors = append(res.Errors, fmt.Sprintf("repository %s/%s: missing repository record", identityID, repoName))
			continue
		}

		res.Errors = append(res.Errors, migrateChildren(ctx, store, repoID, detail)...)
	}
	res.RepositoriesMigrated = len(migratedRepos)

	if opts.Delete {
		if err := os.Remove(path); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to delete %s: %v", path, err))
		}
	} else {
		backup := path + BackupSuffix
		if err := os.Rename(path, backup); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to back up %s: %v", path, err))
		} else {
			res.BackupPath = backup
		}
	}

	res.Success = true
	res.Message = fmt.Sprintf("Migrated %d identities and %d repositories", res.IdentitiesMigrated, res.RepositoriesMigrated)
	slog.Info("Migration completed",
		"identities", res.IdentitiesMigrated,
		"repositories", res.RepositoriesMigrated,
		"errors", len(res.Errors))
	return res
}

// migrateChildren saves the issues, releases and branches of one repository
func migrateChildren(ctx context.Context, store storage.Store, repoID string, detail domain.RepositoryDetail) []string {
	var errs []string
	for _, issue := range detail.Issues {
		issue.RepositoryID = repoID
		if issue.ID == "" {
			issue.ID = domain.ChildID(repoID, fmt.Sprint(issue.Number))
		}
		if err := store.SaveIssue(ctx, &issue); err != nil {
			errs = append(errs, fmt.Sprintf("issue %s: %v", issue.ID, err))
		}
	}
	for _, rel := range detail.Releases {
		rel.RepositoryID = repoID
		if rel.ID == "" {
			rel.ID = domain.ChildID(repoID, rel.TagName)
		}
		if err := store.SaveRelease(ctx, &rel); err != nil {
			errs = append(errs, fmt.Sprintf("release %s: %v", rel.ID, err))
		}
	}
	for _, br := range detail.Branches {
		br.RepositoryID = repoID
		if br.ID == "" {
			br.ID = domain.ChildID(repoID, br.Name)
		}
		if err := store.SaveBranch(ctx, &br); err != nil {
			errs = append(errs, fmt.Sprintf("branch %s: %v", br.ID, err))
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
