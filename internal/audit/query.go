package audit

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kurihiro0119/runghost/internal/domain"
)

const (
	// DefaultQueryLimit applies when a filter carries no limit
	DefaultQueryLimit = 100

	// RateLimitWarningThreshold flags entries whose remaining quota is at or below it
	RateLimitWarningThreshold = 10

	topEndpointCount = 10
)

// Filter narrows audit queries. Dates are YYYY-MM-DD and inclusive.
type Filter struct {
	StartDate  string `form:"startDate" json:"startDate,omitempty"`
	EndDate    string `form:"endDate" json:"endDate,omitempty"`
	Service    string `form:"service" json:"service,omitempty"`
	Method     string `form:"method" json:"method,omitempty"`
	IdentityID string `form:"identityId" json:"identityId,omitempty"`
	// Status is "success" or "error"
	Status string `form:"status" json:"status,omitempty"`
	Limit  int    `form:"limit" json:"limit,omitempty"`
	Offset int    `form:"offset" json:"offset,omitempty"`
}

func (f Filter) matches(e domain.AuditRecord) bool {
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
		return false
	}
	if f.IdentityID != "" && e.IdentityID != f.IdentityID {
		return false
	}
	switch f.Status {
	case "success":
		return !e.Failed()
	case "error":
		return e.Failed()
	}
	return true
}

// EndpointStat summarizes one normalized endpoint
type EndpointStat struct {
	Endpoint            string  `json:"endpoint"`
	Count               int     `json:"count"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// Stats aggregates audit records
type Stats struct {
	TotalRequests       int            `json:"totalRequests"`
	SuccessfulRequests  int            `json:"successfulRequests"`
	FailedRequests      int            `json:"failedRequests"`
	AverageResponseTime float64        `json:"averageResponseTime"`
	TotalResponseSize   int64          `json:"totalResponseSize"`
	RequestsByService   map[string]int `json:"requestsByService"`
	RequestsByMethod    map[string]int `json:"requestsByMethod"`
	RequestsByHour      map[string]int `json:"requestsByHour"`
	RequestsByDate      map[string]int `json:"requestsByDate"`
	RateLimitWarnings   int            `json:"rateLimitWarnings"`
	CacheHitRate        float64        `json:"cacheHitRate"`
	TopEndpoints        []EndpointStat `json:"topEndpoints"`
}

// Query returns matching records newest first, paginated by offset and limit
func (s *Sink) Query(filter Filter) ([]domain.AuditRecord, error) {
	records, err := s.filtered(filter)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	offset := max(filter.Offset, 0)

	if offset >= len(records) {
		return []domain.AuditRecord{}, nil
	}
	end := min(offset+limit, len(records))
	return records[offset:end], nil
}

// Stats computes aggregates over every record matching the filter; pagination is ignored
func (s *Sink) Stats(filter Filter) (Stats, error) {
	records, err := s.filtered(filter)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(records), nil
}

func (s *Sink) filtered(filter Filter) ([]domain.AuditRecord, error) {
	all, err := s.load(filter.StartDate, filter.EndDate)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AuditRecord, 0, len(all))
	for _, e := range all {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Summarize computes Stats over records
func Summarize(records []domain.AuditRecord) Stats {
	stats := Stats{
		TotalRequests:     len(records),
		RequestsByService: make(map[string]int),
		RequestsByMethod:  make(map[string]int),
		RequestsByHour:    make(map[string]int),
		RequestsByDate:    make(map[string]int),
		TopEndpoints:      []EndpointStat{},
	}
	if len(records) == 0 {
		return stats
	}

	type endpointAcc struct {
		count int
		total int64
	}
	endpoints := make(map[string]*endpointAcc)

	var totalTime int64
	var cacheHits int
	for _, e := range records {
		if e.Failed() {
			stats.FailedRequests++
		} else {
			stats.SuccessfulRequests++
		}
		totalTime += e.ResponseTime
		if e.ResponseSize != nil {
			stats.TotalResponseSize += *e.ResponseSize
		}

		ts := e.Timestamp.UTC()
		stats.RequestsByService[e.Service]++
		stats.RequestsByMethod[strings.ToUpper(e.Method)]++
		stats.RequestsByHour[ts.Format("15")]++
		stats.RequestsByDate[ts.Format(dateLayout)]++

		if e.RateLimitRemaining != nil && *e.RateLimitRemaining <= RateLimitWarningThreshold {
			stats.RateLimitWarnings++
		}
		if e.CacheHit != nil && *e.CacheHit {
			cacheHits++
		}

		key := NormalizeEndpoint(e.URL)
		acc, ok := endpoints[key]
		if !ok {
			acc = &endpointAcc{}
			endpoints[key] = acc
		}
		acc.count++
		acc.total += e.ResponseTime
	}

	n := float64(len(records))
	stats.AverageResponseTime = float64(totalTime) / n
	stats.CacheHitRate = float64(cacheHits) / n

	for endpoint, acc := range endpoints {
		stats.TopEndpoints = append(stats.TopEndpoints, EndpointStat{
			Endpoint:            endpoint,
			Count:               acc.count,
			AverageResponseTime: float64(acc.total) / float64(acc.count),
		})
	}
	sort.Slice(stats.TopEndpoints, func(i, j int) bool {
		a, b := stats.TopEndpoints[i], stats.TopEndpoints[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Endpoint < b.Endpoint
	})
	if len(stats.TopEndpoints) > topEndpointCount {
		stats.TopEndpoints = stats.TopEndpoints[:topEndpointCount]
	}

	return stats
}

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	hashSegment    = regexp.MustCompile(`^[0-9a-fA-F]{7,}$`)
)

// NormalizeEndpoint strips the query string and collapses numeric path
// segments to :id and hex segments of seven or more characters to :hash.
func NormalizeEndpoint(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}

	segments := strings.Split(rawURL, "/")
	for i, seg := range segments {
		switch {
		case numericSegment.MatchString(seg):
			segments[i] = ":id"
		case hashSegment.MatchString(seg):
			segments[i] = ":hash"
		}
	}
	return strings.Join(segments, "/")
}
