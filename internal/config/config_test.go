package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadFilesMergesLayers(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.yaml")
	project := filepath.Join(dir, "project.yaml")

	writeFile(t, global, `
port: 4000
theme: light
identities:
  work:
    name: Work
    username: work-user
    token: global-token
  personal:
    username: me
    token: ${PERSONAL_TOKEN}
    registryScopes: ["myscope"]
`)
	writeFile(t, project, `
port: 5000
cache:
  issuesTimeout: 120
identities:
  work:
    name: Work Override
    username: work-user
    token: project-token
`)

	env := map[string]string{"PERSONAL_TOKEN": "from-env"}
	port := 6000
	cfg, err := LoadFiles([]string{global, project, filepath.Join(dir, "missing.yaml")}, Overrides{Port: &port}, func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "light", cfg.Theme)
	assert.Equal(t, 120, cfg.Cache.IssuesTimeout)
	assert.Equal(t, 6*60*60, cfg.Cache.RepositoryTimeout)
	require.Len(t, cfg.Identities, 2)
	assert.Equal(t, "project-token", cfg.Identities["work"].Token)
	assert.Equal(t, "Work Override", cfg.Identities["work"].Name)
	assert.Equal(t, "from-env", cfg.Identities["personal"].Token)
	require.NoError(t, cfg.Validate())
}

func TestIdentityListIsSortedAndDefaultsName(t *testing.T) {
	cfg := Default()
	cfg.Identities = map[string]IdentityConfig{
		"zeta":  {Username: "z", Token: "t"},
		"alpha": {Name: "Alpha", Username: "a", Token: "t", RegistryScopes: []string{"@a"}},
	}

	list := cfg.IdentityList()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].ID)
	assert.Equal(t, "z", list[1].Name)
	assert.NotNil(t, list[1].RegistryScopes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"missing username", func(c *Config) {
			c.Identities["x"] = IdentityConfig{Token: "t"}
		}, "identities.x.username"},
		{"missing token", func(c *Config) {
			c.Identities["x"] = IdentityConfig{Username: "u"}
		}, "identities.x.token"},
		{"bad id", func(c *Config) {
			c.Identities["a b"] = IdentityConfig{Username: "u", Token: "t"}
		}, "identities.a b"},
		{"zero ttl", func(c *Config) { c.Cache.BranchesTimeout = 0 }, "cache.branchesTimeout"},
		{"remote url", func(c *Config) { c.Database.URL = "libsql://x" }, "database.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data"), ExpandHome("~/data"))
	assert.Equal(t, "relative/data", ExpandHome("relative/data"))
}

func TestRequireProjectDirAndWriteDefault(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, RequireProjectDir(dir))

	path, created, err := WriteDefault(dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)
	require.NoError(t, RequireProjectDir(dir))

	_, created, err = WriteDefault(dir)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := LoadFiles([]string{path}, Overrides{}, func(string) string { return "" })
	require.NoError(t, err)
	assert.Contains(t, cfg.Identities, "personal")
	assert.Equal(t, 3000, cfg.Port)
}
