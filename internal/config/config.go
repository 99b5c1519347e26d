package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/runghost/internal/domain"
)

const (
	// DirName is the per-project configuration directory
	DirName = ".runghost"
	// FileName is the configuration file inside DirName
	FileName = "config.yaml"
)

// DatabaseConfig selects the cache store backend
type DatabaseConfig struct {
	// URL is empty for the local SQLite file, or a postgres:// URL for a remote store
	URL       string `yaml:"url,omitempty"`
	AuthToken string `yaml:"authToken,omitempty"`
}

// CacheConfig holds per-kind TTLs in seconds
type CacheConfig struct {
	IdentityTimeout   int `yaml:"identityTimeout"`
	RepositoryTimeout int `yaml:"repositoryTimeout"`
	IssuesTimeout     int `yaml:"issuesTimeout"`
	ReleasesTimeout   int `yaml:"releasesTimeout"`
	BranchesTimeout   int `yaml:"branchesTimeout"`
	CommitsTimeout    int `yaml:"commitsTimeout"`
	RegistryTimeout   int `yaml:"registryTimeout"`
	WorkspaceTimeout  int `yaml:"workspaceTimeout"`
}

// IdentityConfig is one configured GitHub account
type IdentityConfig struct {
	Name           string   `yaml:"name"`
	Username       string   `yaml:"username"`
	Token          string   `yaml:"token"`
	Description    string   `yaml:"description,omitempty"`
	Avatar         string   `yaml:"avatar,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
	Workspaces     []string `yaml:"workspaces,omitempty"`
	RegistryScopes []string `yaml:"registryScopes,omitempty"`
}

// GitHubConfig configures the per-identity upstream clients
type GitHubConfig struct {
	UserAgent  string `yaml:"userAgent"`
	MaxRetries int    `yaml:"maxRetries"`
	// RetryDelay is in milliseconds
	RetryDelay int `yaml:"retryDelay"`
}

// Config holds the application configuration
type Config struct {
	Port            int                       `yaml:"port"`
	Host            string                    `yaml:"host"`
	DataDirectory   string                    `yaml:"dataDirectory"`
	Database        DatabaseConfig            `yaml:"database"`
	Cache           CacheConfig               `yaml:"cache"`
	Identities      map[string]IdentityConfig `yaml:"identities"`
	Theme           string                    `yaml:"theme"`
	ItemsPerPage    int                       `yaml:"itemsPerPage"`
	RefreshInterval int                       `yaml:"refreshInterval"`
	GitHub          GitHubConfig              `yaml:"github"`
	Verbose         bool                      `yaml:"verbose"`
	Debug           bool                      `yaml:"debug"`
}

// Overrides are command-line values applied after every file layer.
// Nil fields were not set on the command line.
type Overrides struct {
	Port    *int
	Host    *string
	DataDir *string
	Theme   *string
	Verbose *bool
	Debug   *bool
}

// Default returns the built-in configuration layer
func Default() *Config {
	return &Config{
		Port:          3000,
		Host:          "localhost",
		DataDirectory: filepath.Join(DirName, "data"),
		Cache: CacheConfig{
			IdentityTimeout:   24 * 60 * 60,
			RepositoryTimeout: 6 * 60 * 60,
			IssuesTimeout:     60 * 60,
			ReleasesTimeout:   2 * 60 * 60,
			BranchesTimeout:   30 * 60,
			CommitsTimeout:    15 * 60,
			RegistryTimeout:   24 * 60 * 60,
			WorkspaceTimeout:  60 * 60,
		},
		Identities:      map[string]IdentityConfig{},
		Theme:           "dark",
		ItemsPerPage:    20,
		RefreshInterval: 300,
		GitHub: GitHubConfig{
			UserAgent:  "runghost-dashboard",
			MaxRetries: 3,
			RetryDelay: 1000,
		},
	}
}

// Load merges defaults, the global file (~/.runghost/config.yaml), the project
// file (<projectDir>/.runghost/config.yaml), environment and command-line overrides.
func Load(projectDir string, overrides Overrides) (*Config, error) {
	// Load .env files if they exist (ignore error if not found)
	_ = godotenv.Load(filepath.Join(projectDir, ".env"))
	_ = godotenv.Load(filepath.Join(projectDir, DirName, ".env"))

	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, DirName, FileName)
		if filepath.Clean(global) != filepath.Clean(filepath.Join(projectDir, DirName, FileName)) {
			paths = append(paths, global)
		}
	}
	paths = append(paths, filepath.Join(projectDir, DirName, FileName))

	return LoadFiles(paths, overrides, os.Getenv)
}

// LoadFiles merges the given files over the defaults in order; missing files are skipped
func LoadFiles(paths []string, overrides Overrides, getenv func(string) string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		if err := cfg.mergeFile(p); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(getenv)
	cfg.applyOverrides(overrides)
	cfg.expandSecrets(getenv)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if c.Identities == nil {
		c.Identities = map[string]IdentityConfig{}
	}
	// yaml.v3 decodes onto the existing values, so unset keys keep the lower layer
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("RUNGHOST_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := getenv("RUNGHOST_HOST"); v != "" {
		c.Host = v
	}
	if v := getenv("RUNGHOST_DATA_DIR"); v != "" {
		c.DataDirectory = v
	}
	if v := getenv("RUNGHOST_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("RUNGHOST_DATABASE_AUTH_TOKEN"); v != "" {
		c.Database.AuthToken = v
	}
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.Host != nil {
		c.Host = *o.Host
	}
	if o.DataDir != nil {
		c.DataDirectory = *o.DataDir
	}
	if o.Theme != nil {
		c.Theme = *o.Theme
	}
	if o.Verbose != nil {
		c.Verbose = *o.Verbose
	}
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
}

// expandSecrets resolves ${VAR} references in tokens so secrets can live in .env
func (c *Config) expandSecrets(getenv func(string) string) {
	for id, ident := range c.Identities {
		ident.Token = os.Expand(ident.Token, getenv)
		c.Identities[id] = ident
	}
	c.Database.AuthToken = os.Expand(c.Database.AuthToken, getenv)
}

// DataDir returns the data directory with "~" expanded to the user home
func (c *Config) DataDir() string {
	return ExpandHome(c.DataDirectory)
}

// ExpandHome expands a leading "~" to the current user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// IdentityList returns the configured identities sorted by id
func (c *Config) IdentityList() []domain.Identity {
	ids := make([]string, 0, len(c.Identities))
	for id := range c.Identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]domain.Identity, 0, len(ids))
	for _, id := range ids {
		ident, _ := c.Identity(id)
		list = append(list, ident)
	}
	return list
}

// Identity returns the identity with the given id
func (c *Config) Identity(id string) (domain.Identity, bool) {
	ic, ok := c.Identities[id]
	if !ok {
		return domain.Identity{}, false
	}
	name := ic.Name
	if name == "" {
		name = ic.Username
	}
	return domain.Identity{
		ID:             id,
		Name:           name,
		Username:       ic.Username,
		Token:          ic.Token,
		Description:    ic.Description,
		Avatar:         ic.Avatar,
		Tags:           nonNil(ic.Tags),
		Workspaces:     nonNil(ic.Workspaces),
		RegistryScopes: nonNil(ic.RegistryScopes),
	}, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Message: "must be between 1 and 65535"}
	}
	if strings.TrimSpace(c.DataDirectory) == "" {
		return &ConfigError{Field: "dataDirectory", Message: "is required"}
	}
	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return &ConfigError{Field: "database.url", Message: "must be a postgres:// URL"}
	}
	timeouts := map[string]int{
		"cache.identityTimeout":   c.Cache.IdentityTimeout,
		"cache.repositoryTimeout": c.Cache.RepositoryTimeout,
		"cache.issuesTimeout":     c.Cache.IssuesTimeout,
		"cache.releasesTimeout":   c.Cache.ReleasesTimeout,
		"cache.branchesTimeout":   c.Cache.BranchesTimeout,
		"cache.commitsTimeout":    c.Cache.CommitsTimeout,
		"cache.registryTimeout":   c.Cache.RegistryTimeout,
		"cache.workspaceTimeout":  c.Cache.WorkspaceTimeout,
	}
	for field, v := range timeouts {
		if v <= 0 {
			return &ConfigError{Field: field, Message: "must be a positive number of seconds"}
		}
	}
	for id, ident := range c.Identities {
		if !identityIDPattern(id) {
			return &ConfigError{Field: "identities." + id, Message: "id may only contain letters, digits, '-' and '_'"}
		}
		if ident.Username == "" {
			return &ConfigError{Field: "identities." + id + ".username", Message: "is required"}
		}
		if ident.Token == "" {
			return &ConfigError{Field: "identities." + id + ".token", Message: "is required"}
		}
	}
	return nil
}

func identityIDPattern(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// RequireProjectDir fails when <projectDir>/.runghost does not exist
func RequireProjectDir(projectDir string) error {
	dir := filepath.Join(projectDir, DirName)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &ConfigError{Field: DirName, Message: "directory not found; run 'runghost init' first"}
	}
	return nil
}

// WriteDefault creates <projectDir>/.runghost/config.yaml with the default
// configuration and returns its path. An existing file is left untouched.
func WriteDefault(projectDir string) (string, bool, error) {
	dir := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	cfg := Default()
	cfg.Identities = map[string]IdentityConfig{
		"personal": {
			Name:           "Personal",
			Username:       "your-github-username",
			Token:          "${GITHUB_TOKEN}",
			RegistryScopes: []string{},
		},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
