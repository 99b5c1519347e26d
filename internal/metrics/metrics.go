// Package metrics exposes Prometheus counters for outbound calls and cache reads.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// upstreamRequests counts outbound HTTP calls by service and status class
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runghost_upstream_requests_total",
		Help: "Total outbound HTTP requests by service and status class",
	}, []string{"service", "status"})

	// upstreamDuration tracks outbound call latency
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runghost_upstream_request_duration_seconds",
		Help:    "Outbound HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
	}, []string{"service"})

	// cacheReads counts cache store reads by entity kind and result
	cacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runghost_cache_reads_total",
		Help: "Total cache store reads by kind and result (hit or miss)",
	}, []string{"kind", "result"})

	// auditFlushes counts audit buffer flushes by result
	auditFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runghost_audit_flushes_total",
		Help: "Total audit buffer flushes by result",
	}, []string{"result"})
)

// ObserveUpstream records one outbound call. status 0 means a transport error.
func ObserveUpstream(service string, status int, elapsed time.Duration) {
	upstreamRequests.WithLabelValues(service, statusClass(status)).Inc()
	upstreamDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObserveCacheRead records a cache hit or miss for a kind
func ObserveCacheRead(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheReads.WithLabelValues(kind, result).Inc()
}

// ObserveAuditFlush records the outcome of an audit flush
func ObserveAuditFlush(err error) {
	if err != nil {
		auditFlushes.WithLabelValues("error").Inc()
		return
	}
	auditFlushes.WithLabelValues("ok").Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
