// Package depgraph joins local workspace packages with published registry
// packages into the dependency graph the dashboard renders.
package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/storage"
	"github.com/kurihiro0119/runghost/internal/workspace"
)

// RegistrySource lists the published packages of each scope
type RegistrySource interface {
	GetByScopes(ctx context.Context, scopes []string) (map[string][]domain.RegistryPackage, error)
}

// Options configures a Builder
type Options struct {
	// Roots are the workspace directories to scan
	Roots      []string
	Identities []domain.Identity
	Store      storage.Store
	Registry   RegistrySource
}

// Builder builds the enhanced dependency graph, caching scans and registry
// lookups in the store.
type Builder struct {
	roots      []string
	identities []domain.Identity
	store      storage.Store
	registry   RegistrySource

	mu sync.Mutex
}

// NewBuilder creates a graph builder
func NewBuilder(opts Options) *Builder {
	return &Builder{
		roots:      opts.Roots,
		identities: opts.Identities,
		store:      opts.Store,
		registry:   opts.Registry,
	}
}

// BuildCached returns the graph. Unless forced, stored workspace and
// registry packages are reused when the store holds any; otherwise the
// roots are scanned and the registry queried, and the results persisted.
func (b *Builder) BuildCached(ctx context.Context, force bool) (*domain.EnhancedGraph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	packages, scanned, err := b.workspacePackages(ctx, force)
	if err != nil {
		return nil, err
	}

	graph := &domain.EnhancedGraph{
		Organizations:     map[string][]string{},
		Interdependencies: []domain.Interdependency{},
		RegistryScopes:    map[string]domain.RegistryScope{},
		RegistryPackages:  []domain.RegistryPackage{},
		CrossDependencies: []domain.CrossDependency{},
	}
	graph.Repositories, graph.Interdependencies = linkPackages(packages)
	graph.Organizations = organizations(graph.Repositories)

	if scanned {
		for i := range graph.Repositories {
			if err := b.store.SaveWorkspacePackage(ctx, &graph.Repositories[i]); err != nil {
				return nil, err
			}
		}
	}

	scopes, owners := b.scopeOwners()
	byScope, err := b.registryPackages(ctx, scopes, force)
	if err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		pkgs := byScope[scope]
		if pkgs == nil {
			pkgs = []domain.RegistryPackage{}
		}
		graph.RegistryScopes[scope] = domain.RegistryScope{
			Scope:      scope,
			Packages:   pkgs,
			IdentityID: owners[scope],
		}
		graph.RegistryPackages = append(graph.RegistryPackages, pkgs...)
	}

	graph.CrossDependencies = crossDependencies(graph.Repositories, graph.RegistryPackages)

	slog.Debug("Built dependency graph",
		"packages", len(graph.Repositories),
		"interdependencies", len(graph.Interdependencies),
		"registryPackages", len(graph.RegistryPackages),
		"crossDependencies", len(graph.CrossDependencies))
	return graph, nil
}

// workspacePackages returns the packages to graph sorted by name; scanned
// reports whether they came from disk rather than the store.
func (b *Builder) workspacePackages(ctx context.Context, force bool) ([]domain.WorkspacePackage, bool, error) {
	if !force {
		stored, err := b.store.GetAllWorkspacePackages(ctx)
		if err != nil {
			return nil, false, err
		}
		if len(stored) > 0 {
			return stored, false, nil
		}
	}

	seen := map[string]bool{}
	var packages []domain.WorkspacePackage
	for _, root := range b.roots {
		dirs, err := workspace.Scan(root)
		if err != nil {
			slog.Warn("Failed to scan workspace", "root", root, "error", err)
			continue
		}
		for _, dir := range dirs {
			pkg := workspace.ParseManifest(dir, b.identities)
			if pkg == nil || seen[pkg.Package.Name] {
				continue
			}
			seen[pkg.Package.Name] = true
			packages = append(packages, *pkg)
		}
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Package.Name < packages[j].Package.Name })
	return packages, true, nil
}

// scopeOwners collects configured scopes in identity order; the first
// identity naming a scope owns it.
func (b *Builder) scopeOwners() ([]string, map[string]string) {
	var scopes []string
	owners := map[string]string{}
	for _, ident := range b.identities {
		for _, s := range ident.NormalizedScopes() {
			if _, ok := owners[s]; ok {
				continue
			}
			owners[s] = ident.ID
			scopes = append(scopes, s)
		}
	}
	return scopes, owners
}

func (b *Builder) registryPackages(ctx context.Context, scopes []string, force bool) (map[string][]domain.RegistryPackage, error) {
	byScope := map[string][]domain.RegistryPackage{}
	if len(scopes) == 0 {
		return byScope, nil
	}

	if !force {
		stored, err := b.store.GetAllRegistryPackages(ctx)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			for _, p := range stored {
				byScope[p.Scope] = append(byScope[p.Scope], p)
			}
			return byScope, nil
		}
	}

	if b.registry == nil {
		return byScope, nil
	}
	fetched, err := b.registry.GetByScopes(ctx, scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registry packages: %w", err)
	}
	for scope, pkgs := range fetched {
		for i := range pkgs {
			if err := b.store.SaveRegistryPackage(ctx, &pkgs[i]); err != nil {
				return nil, err
			}
		}
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID < pkgs[j].ID })
		byScope[scope] = pkgs
	}
	return byScope, nil
}

// linkPackages emits an edge for every internal dependency that names a
// workspace package and rebuilds each target's dependents from those edges.
func linkPackages(packages []domain.WorkspacePackage) ([]domain.WorkspacePackage, []domain.Interdependency) {
	nodes := make([]domain.WorkspacePackage, len(packages))
	index := make(map[string]int, len(packages))
	for i, p := range packages {
		p.Dependents = []string{}
		nodes[i] = p
		index[p.Package.Name] = i
	}

	edges := []domain.Interdependency{}
	for _, p := range nodes {
		for _, dep := range p.InternalDeps {
			target, ok := index[dep.Name]
			if !ok {
				continue
			}
			edges = append(edges, domain.Interdependency{From: p.Package.Name, To: dep.Name, Version: dep.Version})
			if !slices.Contains(nodes[target].Dependents, p.Package.Name) {
				nodes[target].Dependents = append(nodes[target].Dependents, p.Package.Name)
			}
		}
	}
	return nodes, edges
}

// organizations buckets scoped package names by their "@org" prefix
func organizations(packages []domain.WorkspacePackage) map[string][]string {
	orgs := map[string][]string{}
	for _, p := range packages {
		scope, _ := domain.SplitPackageName(p.Package.Name)
		if scope == "" {
			continue
		}
		if !slices.Contains(orgs[scope], p.Package.Name) {
			orgs[scope] = append(orgs[scope], p.Package.Name)
		}
	}
	return orgs
}

func crossDependencies(packages []domain.WorkspacePackage, registry []domain.RegistryPackage) []domain.CrossDependency {
	known := make(map[string]domain.RegistryPackage, len(registry))
	for _, p := range registry {
		known[p.ID] = p
	}

	edges := []domain.CrossDependency{}
	for _, p := range packages {
		for _, dep := range p.RuntimeDeps {
			reg, ok := known[dep.Name]
			if !ok {
				continue
			}
			edges = append(edges, domain.CrossDependency{
				From:    p.Package.Name,
				To:      dep.Name,
				Version: dep.Version,
				ToScope: reg.Scope,
			})
		}
	}
	return edges
}

// FilterForIdentity narrows a graph to one identity: packages named under
// one of its scopes (with or without "@") or whose manifest path contains
// its id. Edges are kept when their source passes the same test.
func FilterForIdentity(graph *domain.EnhancedGraph, identity domain.Identity) *domain.EnhancedGraph {
	var prefixes []string
	for _, s := range identity.NormalizedScopes() {
		prefixes = append(prefixes, s+"/", strings.TrimPrefix(s, "@")+"/")
	}
	match := func(name, manifestPath string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
		return identity.ID != "" && manifestPath != "" && strings.Contains(manifestPath, identity.ID)
	}

	paths := make(map[string]string, len(graph.Repositories))
	for _, p := range graph.Repositories {
		paths[p.Package.Name] = p.ManifestPath
	}

	out := &domain.EnhancedGraph{
		Repositories:      []domain.WorkspacePackage{},
		Interdependencies: []domain.Interdependency{},
		RegistryScopes:    map[string]domain.RegistryScope{},
		RegistryPackages:  []domain.RegistryPackage{},
		CrossDependencies: []domain.CrossDependency{},
	}
	for _, p := range graph.Repositories {
		if match(p.Package.Name, p.ManifestPath) {
			out.Repositories = append(out.Repositories, p)
		}
	}
	for _, e := range graph.Interdependencies {
		if match(e.From, paths[e.From]) {
			out.Interdependencies = append(out.Interdependencies, e)
		}
	}
	for _, p := range graph.RegistryPackages {
		if match(p.ID, "") {
			out.RegistryPackages = append(out.RegistryPackages, p)
		}
	}
	for _, e := range graph.CrossDependencies {
		if match(e.From, paths[e.From]) {
			out.CrossDependencies = append(out.CrossDependencies, e)
		}
	}
	for scope, rs := range graph.RegistryScopes {
		if rs.IdentityID == identity.ID || slices.Contains(identity.NormalizedScopes(), scope) {
			out.RegistryScopes[scope] = rs
		}
	}
	out.Organizations = organizations(out.Repositories)
	return out
}
