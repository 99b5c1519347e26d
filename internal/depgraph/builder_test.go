package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/storage/sqlstore"
)

type fakeRegistry struct {
	calls    atomic.Int32
	packages map[string][]domain.RegistryPackage
}

func (f *fakeRegistry) GetByScopes(ctx context.Context, scopes []string) (map[string][]domain.RegistryPackage, error) {
	f.calls.Add(1)
	out := map[string][]domain.RegistryPackage{}
	for _, s := range scopes {
		out[s] = append([]domain.RegistryPackage{}, f.packages[s]...)
	}
	return out, nil
}

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(body), 0o644))
}

var testIdentities = []domain.Identity{
	{ID: "work", RegistryScopes: []string{"@org"}},
	{ID: "oss", RegistryScopes: []string{"ext", "@org"}},
}

func newScenario(t *testing.T) (*Builder, *fakeRegistry, string) {
	t.Helper()
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "a"), `{"name": "@org/a", "version": "1.0.0",
		"dependencies": {"@org/b": "^1.0.0", "@ext/x": "2.0.0"}}`)
	writeManifest(t, filepath.Join(root, "b"), `{"name": "@org/b", "version": "1.0.0"}`)
	writeManifest(t, filepath.Join(root, "c"), `{"name": "@org/c", "version": "1.0.0",
		"dependencies": {"@org/a": "^1.0.0"}}`)
	// a copy of b deeper in the tree is ignored as a duplicate
	writeManifest(t, filepath.Join(root, "vendor", "b"), `{"name": "@org/b", "version": "0.1.0"}`)

	store, err := sqlstore.New(sqlstore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := &fakeRegistry{packages: map[string][]domain.RegistryPackage{
		"@ext": {{ID: "@ext/x", Scope: "@ext", Name: "x", Version: "2.0.0"}},
	}}
	b := NewBuilder(Options{
		Roots:      []string{root},
		Identities: testIdentities,
		Store:      store,
		Registry:   reg,
	})
	return b, reg, root
}

func dependentsOf(g *domain.EnhancedGraph, name string) []string {
	for _, p := range g.Repositories {
		if p.Package.Name == name {
			return p.Dependents
		}
	}
	return nil
}

func TestBuildScenario(t *testing.T) {
	b, _, _ := newScenario(t)

	g, err := b.BuildCached(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, g.Repositories, 3)
	assert.ElementsMatch(t, []domain.Interdependency{
		{From: "@org/a", To: "@org/b", Version: "^1.0.0"},
		{From: "@org/c", To: "@org/a", Version: "^1.0.0"},
	}, g.Interdependencies)
	assert.Equal(t, []domain.CrossDependency{
		{From: "@org/a", To: "@ext/x", Version: "2.0.0", ToScope: "@ext"},
	}, g.CrossDependencies)
	assert.Equal(t, map[string][]string{"@org": {"@org/a", "@org/b", "@org/c"}}, g.Organizations)
	assert.Equal(t, []string{"@org/a"}, dependentsOf(g, "@org/b"))
	assert.Equal(t, []string{"@org/c"}, dependentsOf(g, "@org/a"))
	assert.Empty(t, dependentsOf(g, "@org/c"))

	require.Contains(t, g.RegistryScopes, "@ext")
	assert.Equal(t, "oss", g.RegistryScopes["@ext"].IdentityID)
	assert.Equal(t, "work", g.RegistryScopes["@org"].IdentityID)
	assert.Empty(t, g.RegistryScopes["@org"].Packages)
	require.Len(t, g.RegistryPackages, 1)
}

func TestBuildCachedIsIdempotent(t *testing.T) {
	b, reg, root := newScenario(t)
	ctx := context.Background()

	first, err := b.BuildCached(ctx, false)
	require.NoError(t, err)

	// later disk changes are not seen until a forced build
	writeManifest(t, filepath.Join(root, "d"), `{"name": "@org/d", "dependencies": {"@org/a": "1.0.0"}}`)

	second, err := b.BuildCached(ctx, false)
	require.NoError(t, err)

	assert.ElementsMatch(t, first.Interdependencies, second.Interdependencies)
	assert.ElementsMatch(t, first.CrossDependencies, second.CrossDependencies)
	assert.Equal(t, dependentsOf(first, "@org/a"), dependentsOf(second, "@org/a"))
	assert.Equal(t, int32(1), reg.calls.Load())

	forced, err := b.BuildCached(ctx, true)
	require.NoError(t, err)
	assert.Len(t, forced.Repositories, 4)
	assert.ElementsMatch(t, []string{"@org/c", "@org/d"}, dependentsOf(forced, "@org/a"))
	assert.Equal(t, int32(2), reg.calls.Load())
}

func TestFilterForIdentity(t *testing.T) {
	graph := &domain.EnhancedGraph{
		Repositories: []domain.WorkspacePackage{
			{Package: domain.ManifestInfo{Name: "@org/a"}, ManifestPath: "/src/a/package.json"},
			{Package: domain.ManifestInfo{Name: "tool"}, ManifestPath: "/src/oss/tool/package.json"},
			{Package: domain.ManifestInfo{Name: "@other/z"}, ManifestPath: "/src/z/package.json"},
		},
		Interdependencies: []domain.Interdependency{
			{From: "@org/a", To: "tool", Version: "1"},
			{From: "@other/z", To: "@org/a", Version: "1"},
		},
		RegistryScopes: map[string]domain.RegistryScope{
			"@org":   {Scope: "@org", IdentityID: "oss"},
			"@other": {Scope: "@other", IdentityID: "work"},
		},
		RegistryPackages: []domain.RegistryPackage{
			{ID: "@org/pub", Scope: "@org"},
			{ID: "@other/pub", Scope: "@other"},
		},
		CrossDependencies: []domain.CrossDependency{
			{From: "tool", To: "@org/pub", Version: "1", ToScope: "@org"},
			{From: "@other/z", To: "@other/pub", Version: "1", ToScope: "@other"},
		},
	}

	out := FilterForIdentity(graph, domain.Identity{ID: "oss", RegistryScopes: []string{"org"}})

	names := []string{}
	for _, p := range out.Repositories {
		names = append(names, p.Package.Name)
	}
	assert.Equal(t, []string{"@org/a", "tool"}, names)
	assert.Equal(t, []domain.Interdependency{{From: "@org/a", To: "tool", Version: "1"}}, out.Interdependencies)
	require.Len(t, out.RegistryPackages, 1)
	assert.Equal(t, "@org/pub", out.RegistryPackages[0].ID)
	assert.Equal(t, []domain.CrossDependency{{From: "tool", To: "@org/pub", Version: "1", ToScope: "@org"}}, out.CrossDependencies)
	assert.Contains(t, out.RegistryScopes, "@org")
	assert.NotContains(t, out.RegistryScopes, "@other")
	assert.Equal(t, map[string][]string{"@org": {"@org/a"}}, out.Organizations)
}
