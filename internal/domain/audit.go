package domain

import "time"

// Audit services
const (
	ServiceGitHub   = "github"
	ServiceRegistry = "registry"
)

// AuditRecord describes a single outbound HTTP call
type AuditRecord struct {
	ID                 string         `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	Service            string         `json:"service"`
	Method             string         `json:"method"`
	URL                string         `json:"url"`
	ResponseTime       int64          `json:"responseTime"`
	ResponseStatus     *int           `json:"responseStatus,omitempty"`
	ResponseSize       *int64         `json:"responseSize,omitempty"`
	Error              string         `json:"error,omitempty"`
	IdentityID         string         `json:"identityId,omitempty"`
	RateLimitRemaining *int           `json:"rateLimitRemaining,omitempty"`
	RateLimitReset     *int64         `json:"rateLimitReset,omitempty"`
	CacheHit           *bool          `json:"cacheHit,omitempty"`
	UserAgent          string         `json:"userAgent,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Failed reports whether the call errored or returned a status >= 400
func (r AuditRecord) Failed() bool {
	return r.Error != "" || (r.ResponseStatus != nil && *r.ResponseStatus >= 400)
}
