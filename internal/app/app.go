// Package app wires the process-wide services. Each service is built on
// first use and shared afterwards; Close flushes the audit sink and closes
// the store.
package app

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/runghost/internal/aggregator"
	"github.com/kurihiro0119/runghost/internal/api"
	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/collector"
	"github.com/kurihiro0119/runghost/internal/config"
	"github.com/kurihiro0119/runghost/internal/depgraph"
	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/registry"
	"github.com/kurihiro0119/runghost/internal/storage"
	"github.com/kurihiro0119/runghost/internal/storage/sqlstore"
)

// App owns the services of one process
type App struct {
	cfg *config.Config

	mu         sync.Mutex
	sink       *audit.Sink
	store      *sqlstore.Store
	aggregator aggregator.Aggregator
	registry   *registry.Client
	graph      *depgraph.Builder
	closed     bool
}

// New creates an App over a loaded configuration
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Config returns the configuration the App was built with
func (a *App) Config() *config.Config {
	return a.cfg
}

// AuditSink returns the audit sink, creating it on first use
func (a *App) AuditSink() (*audit.Sink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auditSinkLocked()
}

func (a *App) auditSinkLocked() (*audit.Sink, error) {
	if a.closed {
		return nil, errors.New("app is closed")
	}
	if a.sink == nil {
		sink, err := audit.NewSink(a.cfg.DataDir(), audit.Options{})
		if err != nil {
			return nil, err
		}
		a.sink = sink
	}
	return a.sink, nil
}

// Store returns the cache store, creating it on first use
func (a *App) Store() (storage.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked()
}

func (a *App) storeLocked() (*sqlstore.Store, error) {
	if a.closed {
		return nil, errors.New("app is closed")
	}
	if a.store == nil {
		store, err := sqlstore.New(sqlstore.Options{
			DataDir:   a.cfg.DataDir(),
			URL:       a.cfg.Database.URL,
			AuthToken: a.cfg.Database.AuthToken,
			TTL:       storage.TTLPolicyFromConfig(a.cfg.Cache),
		})
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	return a.store, nil
}

// Aggregator returns the GitHub aggregator, creating it on first use
func (a *App) Aggregator() (aggregator.Aggregator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.aggregator != nil {
		return a.aggregator, nil
	}
	sink, err := a.auditSinkLocked()
	if err != nil {
		return nil, err
	}
	store, err := a.storeLocked()
	if err != nil {
		return nil, err
	}

	gh := a.cfg.GitHub
	a.aggregator = aggregator.NewAggregator(aggregator.Options{
		Identities: a.cfg.IdentityList(),
		Store:      store,
		NewClient: func(identity domain.Identity) (collector.Collector, error) {
			return collector.NewGitHubCollector(collector.Options{
				Identity:   identity,
				UserAgent:  gh.UserAgent,
				MaxRetries: gh.MaxRetries,
				RetryDelay: time.Duration(gh.RetryDelay) * time.Millisecond,
				Recorder:   sink,
			})
		},
	})
	return a.aggregator, nil
}

// Registry returns the registry client, creating it on first use
func (a *App) Registry() (*registry.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registryLocked()
}

func (a *App) registryLocked() (*registry.Client, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	sink, err := a.auditSinkLocked()
	if err != nil {
		return nil, err
	}
	a.registry = registry.NewClient(registry.Options{Recorder: sink})
	return a.registry, nil
}

// Graph returns the dependency graph builder, creating it on first use
func (a *App) Graph() (*depgraph.Builder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.graph != nil {
		return a.graph, nil
	}
	store, err := a.storeLocked()
	if err != nil {
		return nil, err
	}
	reg, err := a.registryLocked()
	if err != nil {
		return nil, err
	}

	identities := a.cfg.IdentityList()
	a.graph = depgraph.NewBuilder(depgraph.Options{
		Roots:      WorkspaceRoots(identities),
		Identities: identities,
		Store:      store,
		Registry:   reg,
	})
	return a.graph, nil
}

// Router builds the HTTP surface over every service
func (a *App) Router() (*gin.Engine, error) {
	agg, err := a.Aggregator()
	if err != nil {
		return nil, err
	}
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	sink, err := a.AuditSink()
	if err != nil {
		return nil, err
	}
	graph, err := a.Graph()
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(api.Deps{
		Aggregator: agg,
		Store:      store,
		Audit:      sink,
		Graph:      graph,
		Identities: a.cfg.IdentityList(),
	})
	return api.SetupRoutes(handler), nil
}

// WorkspaceRoots collects the distinct workspace directories of every
// identity, with "~" expanded.
func WorkspaceRoots(identities []domain.Identity) []string {
	seen := map[string]bool{}
	var roots []string
	for _, ident := range identities {
		for _, w := range ident.Workspaces {
			root := config.ExpandHome(w)
			if root == "" || seen[root] {
				continue
			}
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots
}

// Close flushes the audit buffer and closes the store. It is safe to call twice.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			slog.Warn("Failed to flush audit log", "error", err)
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
