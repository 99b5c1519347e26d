package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/runghost/internal/domain"
)

// RefreshStats counts what a refresh fetched. Errors holds one message per
// identity or repository that failed; the rest of the refresh still runs.
type RefreshStats struct {
	Identities   int      `json:"identities"`
	Repositories int      `json:"repositories"`
	Releases     int      `json:"releases"`
	Issues       int      `json:"issues"`
	PullRequests int      `json:"pullRequests"`
	Branches     int      `json:"branches"`
	Errors       []string `json:"errors"`
}

// RefreshResult is the outcome of Refresh
type RefreshResult struct {
	Stats     RefreshStats `json:"stats"`
	Refreshed []string     `json:"refreshed"`
}

func (s *RefreshStats) add(o RefreshStats) {
	s.Identities += o.Identities
	s.Repositories += o.Repositories
	s.Releases += o.Releases
	s.Issues += o.Issues
	s.PullRequests += o.PullRequests
	s.Branches += o.Branches
	s.Errors = append(s.Errors, o.Errors...)
}

// Refresh forces a re-fetch of one identity, or of all when identityID is
// empty. Identities refresh in parallel; repositories of one identity are
// swept in order.
func (a *aggregator) Refresh(ctx context.Context, identityID string) domain.Result[*RefreshResult] {
	targets := a.order
	if identityID != "" {
		if _, err := a.identity(identityID); err != nil {
			return domain.Fail[*RefreshResult](err)
		}
		targets = []string{identityID}
	}

	var (
		mu     sync.Mutex
		result = &RefreshResult{Stats: RefreshStats{Errors: []string{}}, Refreshed: []string{}}
	)

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			stats, ok := a.refreshIdentity(ctx, a.identities[id])

			mu.Lock()
			defer mu.Unlock()
			result.Stats.add(stats)
			if ok {
				result.Refreshed = append(result.Refreshed, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Refreshed)
	sort.Strings(result.Stats.Errors)

	slog.Info("Refresh completed",
		"identities", result.Stats.Identities,
		"repositories", result.Stats.Repositories,
		"errors", len(result.Stats.Errors))
	return domain.OK(result)
}

// refreshIdentity re-fetches one identity and then every repository detail.
// ok is false when the identity itself could not be fetched.
func (a *aggregator) refreshIdentity(ctx context.Context, ident domain.Identity) (RefreshStats, bool) {
	var stats RefreshStats

	data, err := a.fetchIdentity(ctx, ident)
	if err != nil {
		slog.Warn("Failed to refresh identity", "identity", ident.ID, "error", err)
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", ident.ID, err))
		return stats, false
	}
	stats.Identities = 1
	stats.Repositories = len(data.Repositories)

	for _, repo := range data.Repositories {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s/%s: %v", ident.ID, repo.Name, ctx.Err()))
			break
		}
		detail, err := a.fetchDetail(ctx, ident, repo.Name)
		if err != nil {
			slog.Warn("Failed to refresh repository", "identity", ident.ID, "repository", repo.Name, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s/%s: %v", ident.ID, repo.Name, err))
			continue
		}
		stats.Releases += len(detail.Releases)
		stats.Issues += len(detail.Issues)
		stats.PullRequests += len(detail.PullRequests)
		stats.Branches += len(detail.Branches)
	}
	return stats, true
}
