package domain

import (
	"strings"
	"time"
)

// Identity represents a configured GitHub account.
// The token never leaves the process: it is excluded from every JSON encoding.
type Identity struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Username       string   `json:"username"`
	Token          string   `json:"-"`
	Description    string   `json:"description,omitempty"`
	Avatar         string   `json:"avatar,omitempty"`
	Tags           []string `json:"tags"`
	Workspaces     []string `json:"workspaces"`
	RegistryScopes []string `json:"registryScopes"`
}

// NormalizedScopes returns the identity's registry scopes with a leading "@"
func (i Identity) NormalizedScopes() []string {
	scopes := make([]string, 0, len(i.RegistryScopes))
	for _, s := range i.RegistryScopes {
		if n := NormalizeScope(s); n != "" {
			scopes = append(scopes, n)
		}
	}
	return scopes
}

// NormalizeScope prepends "@" to a scope when it is missing
func NormalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return ""
	}
	if !strings.HasPrefix(scope, "@") {
		return "@" + scope
	}
	return scope
}

// UpstreamUser is the authenticated GitHub user behind an identity
type UpstreamUser struct {
	Login       string    `json:"login"`
	ID          int64     `json:"id"`
	Name        string    `json:"name,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	HTMLURL     string    `json:"htmlUrl,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	Email       string    `json:"email,omitempty"`
	PublicRepos int       `json:"publicRepos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// IdentityTotals counts open work across an identity's repositories
type IdentityTotals struct {
	Issues       int `json:"issues"`
	PullRequests int `json:"pullRequests"`
	Releases     int `json:"releases"`
}

// IdentityStats summarizes an identity's repositories
type IdentityStats struct {
	TotalStars        int            `json:"totalStars"`
	TotalForks        int            `json:"totalForks"`
	TotalSize         int            `json:"totalSize"`
	LanguageBreakdown map[string]int `json:"languageBreakdown"`
	ActivityScore     int            `json:"activityScore"`
}

// CachedIdentity is the cached projection of one identity and its upstream account
type CachedIdentity struct {
	Identity     Identity       `json:"identity"`
	User         UpstreamUser   `json:"user"`
	Totals       IdentityTotals `json:"totals"`
	Stats        IdentityStats  `json:"stats"`
	Repositories []Repository   `json:"repositories,omitempty"`
	LastUpdated  time.Time      `json:"lastUpdated"`
}
