// Package workspace finds and parses package manifests under local directories.
package workspace

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kurihiro0119/runghost/internal/domain"
)

const (
	// ManifestName is the manifest file looked for in each directory
	ManifestName = "package.json"
	// MaxDepth bounds how far below the root the walk descends
	MaxDepth = 10
)

var skipDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
	".next":        true,
}

// Scan walks root in pre-order and returns every directory holding a
// manifest at its top level. Hidden and build-output directories are not
// entered; descent continues below a directory that has a manifest.
func Scan(root string) ([]string, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: errors.New("not a directory")}
	}

	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			slog.Debug("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		if path != root {
			if Skipped(d.Name()) {
				return filepath.SkipDir
			}
			if depth(root, path) > MaxDepth {
				return filepath.SkipDir
			}
		}

		if fi, err := os.Stat(filepath.Join(path, ManifestName)); err == nil && fi.Mode().IsRegular() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

// Skipped reports whether the walk ignores a directory with this name
func Skipped(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// manifest is the subset of package.json the dashboard reads
type manifest struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Description     string            `json:"description"`
	License         json.RawMessage   `json:"license"`
	Author          json.RawMessage   `json:"author"`
	Repository      json.RawMessage   `json:"repository"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ParseManifest reads dir's manifest. It returns nil when the manifest is
// missing, malformed or unnamed. Runtime dependencies whose name starts
// with a scope of any identity are also listed as internal.
func ParseManifest(dir string, identities []domain.Identity) *domain.WorkspacePackage {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to read manifest", "path", path, "error", err)
		}
		return nil
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("Failed to parse manifest", "path", path, "error", err)
		return nil
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil
	}

	pkg := &domain.WorkspacePackage{
		Package: domain.ManifestInfo{
			Name:        m.Name,
			Version:     m.Version,
			Description: m.Description,
			Author:      stringOrField(m.Author, "name"),
			License:     stringOrField(m.License, "type"),
			Repository:  stringOrField(m.Repository, "url"),
		},
		RuntimeDeps:  dependencies(m.Dependencies),
		DevDeps:      dependencies(m.DevDependencies),
		InternalDeps: []domain.Dependency{},
		Dependents:   []string{},
		ManifestPath: path,
	}

	scopes := ScopesOf(identities)
	for _, dep := range pkg.RuntimeDeps {
		if InScopes(dep.Name, scopes) {
			pkg.InternalDeps = append(pkg.InternalDeps, dep)
		}
	}
	return pkg
}

// ScopesOf returns the normalized registry scopes of all identities
func ScopesOf(identities []domain.Identity) []string {
	seen := map[string]bool{}
	var scopes []string
	for _, ident := range identities {
		for _, s := range ident.NormalizedScopes() {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

// InScopes reports whether name belongs to one of the normalized scopes
func InScopes(name string, scopes []string) bool {
	for _, s := range scopes {
		if strings.HasPrefix(name, s+"/") {
			return true
		}
	}
	return false
}

func dependencies(m map[string]string) []domain.Dependency {
	deps := make([]domain.Dependency, 0, len(m))
	for name, version := range m {
		deps = append(deps, domain.Dependency{Name: name, Version: version})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps
}

// stringOrField reads a manifest value given either as a string or as an
// object carrying the string under field.
func stringOrField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj[field].(string); ok {
			return v
		}
	}
	return ""
}
