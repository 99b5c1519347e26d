package domain

import "time"

// Actor is a GitHub user referenced from an issue, pull request or release
type Actor struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	HTMLURL   string `json:"htmlUrl,omitempty"`
}

// Label is an issue or pull request label
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Milestone is an issue or pull request milestone
type Milestone struct {
	Number int        `json:"number"`
	Title  string     `json:"title"`
	State  string     `json:"state"`
	DueOn  *time.Time `json:"dueOn,omitempty"`
}

// RepositoryRef annotates child rows read across repositories
type RepositoryRef struct {
	IdentityID         string `json:"identityId,omitempty"`
	RepositoryName     string `json:"repositoryName,omitempty"`
	RepositoryFullName string `json:"repositoryFullName,omitempty"`
}

// Issue represents a GitHub issue. ID is "<repoId>/<number>".
type Issue struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repositoryId"`
	UpstreamID   int64      `json:"upstreamId"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Body         string     `json:"body,omitempty"`
	State        string     `json:"state"`
	Author       *Actor     `json:"author,omitempty"`
	Labels       []Label    `json:"labels"`
	Assignees    []Actor    `json:"assignees"`
	Milestone    *Milestone `json:"milestone,omitempty"`
	Comments     int        `json:"comments"`
	HTMLURL      string     `json:"htmlUrl"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	RepositoryRef
}

// BranchRef is the head or base of a pull request
type BranchRef struct {
	Ref   string `json:"ref"`
	SHA   string `json:"sha"`
	Label string `json:"label,omitempty"`
}

// PullRequest represents a GitHub pull request. ID is "<repoId>/<number>".
//
// Mergeable is tri-state: nil means GitHub has not computed it yet.
type PullRequest struct {
	ID                 string     `json:"id"`
	RepositoryID       string     `json:"repositoryId"`
	UpstreamID         int64      `json:"upstreamId"`
	Number             int        `json:"number"`
	Title              string     `json:"title"`
	Body               string     `json:"body,omitempty"`
	State              string     `json:"state"`
	Author             *Actor     `json:"author,omitempty"`
	Head               *BranchRef `json:"head,omitempty"`
	Base               *BranchRef `json:"base,omitempty"`
	Labels             []Label    `json:"labels"`
	Assignees          []Actor    `json:"assignees"`
	RequestedReviewers []Actor    `json:"requestedReviewers"`
	Milestone          *Milestone `json:"milestone,omitempty"`
	Draft              bool       `json:"draft"`
	Merged             bool       `json:"merged"`
	Mergeable          *bool      `json:"mergeable"`
	MergeableState     string     `json:"mergeableState"`
	Comments           int        `json:"comments"`
	ReviewComments     int        `json:"reviewComments"`
	Commits            int        `json:"commits"`
	Additions          int        `json:"additions"`
	Deletions          int        `json:"deletions"`
	ChangedFiles       int        `json:"changedFiles"`
	HTMLURL            string     `json:"htmlUrl"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	MergedAt           *time.Time `json:"mergedAt,omitempty"`
	RepositoryRef
}

// ReleaseAsset is a file attached to a release
type ReleaseAsset struct {
	Name               string `json:"name"`
	ContentType        string `json:"contentType,omitempty"`
	Size               int    `json:"size"`
	DownloadCount      int    `json:"downloadCount"`
	BrowserDownloadURL string `json:"browserDownloadUrl"`
}

// Release represents a GitHub release. ID is "<repoId>/<tag>".
type Release struct {
	ID           string         `json:"id"`
	RepositoryID string         `json:"repositoryId"`
	UpstreamID   int64          `json:"upstreamId"`
	TagName      string         `json:"tagName"`
	Name         string         `json:"name,omitempty"`
	Body         string         `json:"body,omitempty"`
	Draft        bool           `json:"draft"`
	Prerelease   bool           `json:"prerelease"`
	Author       *Actor         `json:"author,omitempty"`
	Assets       []ReleaseAsset `json:"assets"`
	HTMLURL      string         `json:"htmlUrl"`
	TarballURL   string         `json:"tarballUrl,omitempty"`
	ZipballURL   string         `json:"zipballUrl,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
	RepositoryRef
}

// Branch represents a repository branch. ID is "<repoId>/<name>".
type Branch struct {
	ID           string `json:"id"`
	RepositoryID string `json:"repositoryId"`
	Name         string `json:"name"`
	CommitSHA    string `json:"commitSha"`
	CommitURL    string `json:"commitUrl,omitempty"`
	Protected    bool   `json:"protected"`
}
