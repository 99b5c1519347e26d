package domain

import (
	"strings"
	"time"
)

// RepositoryURLs holds the links GitHub exposes for a repository
type RepositoryURLs struct {
	HTML     string `json:"html"`
	Clone    string `json:"clone"`
	SSH      string `json:"ssh"`
	Homepage string `json:"homepage,omitempty"`
}

// RepositoryCounts holds the popularity counters of a repository
type RepositoryCounts struct {
	Stars      int `json:"stars"`
	Watchers   int `json:"watchers"`
	Forks      int `json:"forks"`
	OpenIssues int `json:"openIssues"`
}

// RepositoryTimestamps holds the upstream lifecycle timestamps of a repository
type RepositoryTimestamps struct {
	Created time.Time `json:"created,omitzero"`
	Updated time.Time `json:"updated,omitzero"`
	Pushed  time.Time `json:"pushed,omitzero"`
}

// Repository represents a GitHub repository owned by one configured identity.
// ID is "<identityId>/<repoName>".
type Repository struct {
	ID            string               `json:"id"`
	IdentityID    string               `json:"identityId"`
	UpstreamID    int64                `json:"upstreamId"`
	Name          string               `json:"name"`
	FullName      string               `json:"fullName"`
	Description   string               `json:"description,omitempty"`
	Private       bool                 `json:"private"`
	URLs          RepositoryURLs       `json:"urls"`
	Language      string               `json:"language,omitempty"`
	Size          int                  `json:"size"`
	Counts        RepositoryCounts     `json:"counts"`
	DefaultBranch string               `json:"defaultBranch"`
	Timestamps    RepositoryTimestamps `json:"timestamps"`
	Archived      bool                 `json:"archived"`
	Disabled      bool                 `json:"disabled"`
	Topics        []string             `json:"topics"`
	License       string               `json:"license,omitempty"`
}

// RepositoryID builds the cache key of a repository
func RepositoryID(identityID, repoName string) string {
	return identityID + "/" + repoName
}

// ChildID builds the cache key of an entity parented to a repository
// (issue number, pull request number, release tag or branch name).
func ChildID(repositoryID, key string) string {
	return repositoryID + "/" + key
}

// SplitRepositoryID splits "<identityId>/<repoName>" into its parts
func SplitRepositoryID(id string) (identityID, repoName string, ok bool) {
	identityID, repoName, ok = strings.Cut(id, "/")
	return identityID, repoName, ok && identityID != "" && repoName != ""
}

// RepositoryDetail is the full per-repository view: the repository plus its children
type RepositoryDetail struct {
	Repository   Repository    `json:"repository"`
	Issues       []Issue       `json:"issues"`
	PullRequests []PullRequest `json:"pullRequests"`
	Releases     []Release     `json:"releases"`
	Branches     []Branch      `json:"branches"`
	LastUpdated  time.Time     `json:"lastUpdated"`
}
