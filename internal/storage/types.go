package storage

import (
	"regexp"
	"strings"
	"time"

	"github.com/kurihiro0119/runghost/internal/config"
	apperrors "github.com/kurihiro0119/runghost/internal/errors"
)

// Kind names a cached entity kind
type Kind string

const (
	KindIdentity         Kind = "identity"
	KindRepository       Kind = "repository"
	KindIssue            Kind = "issue"
	KindPullRequest      Kind = "pull_request"
	KindRelease          Kind = "release"
	KindBranch           Kind = "branch"
	KindCommit           Kind = "commit"
	KindRegistryPackage  Kind = "registry_package"
	KindWorkspacePackage Kind = "workspace_package"
)

// TTLPolicy maps each kind to how long a saved row stays fresh
type TTLPolicy map[Kind]time.Duration

// DefaultTTLPolicy returns the built-in expirations
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		KindIdentity:         24 * time.Hour,
		KindRepository:       6 * time.Hour,
		KindIssue:            time.Hour,
		KindPullRequest:      time.Hour,
		KindRelease:          2 * time.Hour,
		KindBranch:           30 * time.Minute,
		KindCommit:           15 * time.Minute,
		KindRegistryPackage:  24 * time.Hour,
		KindWorkspacePackage: time.Hour,
	}
}

// TTLPolicyFromConfig builds a policy from the cache section (seconds).
// Non-positive values keep the default. Pull requests share the issue TTL.
func TTLPolicyFromConfig(c config.CacheConfig) TTLPolicy {
	p := DefaultTTLPolicy()
	set := func(k Kind, seconds int) {
		if seconds > 0 {
			p[k] = time.Duration(seconds) * time.Second
		}
	}
	set(KindIdentity, c.IdentityTimeout)
	set(KindRepository, c.RepositoryTimeout)
	set(KindIssue, c.IssuesTimeout)
	set(KindPullRequest, c.IssuesTimeout)
	set(KindRelease, c.ReleasesTimeout)
	set(KindBranch, c.BranchesTimeout)
	set(KindCommit, c.CommitsTimeout)
	set(KindRegistryPackage, c.RegistryTimeout)
	set(KindWorkspacePackage, c.WorkspaceTimeout)
	return p
}

// For returns the TTL of kind, falling back to the default policy
func (p TTLPolicy) For(kind Kind) time.Duration {
	if d, ok := p[kind]; ok && d > 0 {
		return d
	}
	return DefaultTTLPolicy()[kind]
}

// TableStatus counts the rows of one cache table
type TableStatus struct {
	Table string `json:"table"`
	Total int64  `json:"total"`
	Live  int64  `json:"live"`
}

// Status describes the cache store
type Status struct {
	Backend      string        `json:"backend"`
	Location     string        `json:"location"`
	Tables       []TableStatus `json:"tables"`
	TotalEntries int64         `json:"totalEntries"`
	LiveEntries  int64         `json:"liveEntries"`
}

// ColumnInfo describes one table column
type ColumnInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"notnull"`
	PK      bool   `json:"pk"`
}

// TableInfo describes one table in the catalog
type TableInfo struct {
	Name    string       `json:"name"`
	Count   int64        `json:"count"`
	Columns []ColumnInfo `json:"columns"`
}

// Pagination describes a page of table records
type Pagination struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"hasNext"`
	HasPrev bool  `json:"hasPrev"`
}

// TablePage is one page of raw table records
type TablePage struct {
	Table      string           `json:"table"`
	Columns    []ColumnInfo     `json:"columns"`
	Records    []map[string]any `json:"records"`
	Pagination Pagination       `json:"pagination"`
}

// QueryResult is the outcome of a diagnostic SELECT
type QueryResult struct {
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int              `json:"rowCount"`
	ExecutionTime int64            `json:"executionTime"`
}

// ErrOnlySelect is the message for rejected diagnostic statements
const ErrOnlySelect = "Only SELECT queries are allowed"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to interpolate into SQL
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidateTableName returns a validation error for names that are not plain identifiers
func ValidateTableName(name string) error {
	if !ValidIdentifier(name) {
		return apperrors.NewValidationError("Invalid table name")
	}
	return nil
}

// ValidateSelect rejects anything but a single SELECT statement
func ValidateSelect(query string) error {
	q := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(q, "select") {
		return apperrors.NewValidationError(ErrOnlySelect)
	}
	if strings.Contains(strings.TrimRight(q, "; \t\r\n"), ";") {
		return apperrors.NewValidationError(ErrOnlySelect)
	}
	return nil
}
