// Package sqlstore implements the cache store over database/sql, on a local
// SQLite file by default or on PostgreSQL when a remote URL is configured.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/metrics"
	"github.com/kurihiro0119/runghost/internal/storage"
)

// FileName is the local store file inside the data directory
const FileName = "runghost.db"

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// Options configures a Store
type Options struct {
	// DataDir holds the local store file when URL is empty
	DataDir string
	// URL selects the backend: empty or file:<path> for SQLite,
	// postgres:// or postgresql:// for PostgreSQL
	URL string
	// AuthToken becomes the PostgreSQL password when the URL carries none
	AuthToken string
	TTL       storage.TTLPolicy
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Store implements storage.Store
type Store struct {
	driver   string
	dsn      string
	path     string
	location string
	ttl      storage.TTLPolicy
	now      func() time.Time

	mu    sync.RWMutex
	db    *sql.DB
	ready bool
	group singleflight.Group
}

var _ storage.Store = (*Store)(nil)

// New configures a store. The database is opened lazily by Init.
func New(opts Options) (*Store, error) {
	s := &Store{
		ttl: opts.TTL,
		now: opts.Clock,
	}
	if s.ttl == nil {
		s.ttl = storage.DefaultTTLPolicy()
	}
	if s.now == nil {
		s.now = time.Now
	}

	raw := strings.TrimSpace(opts.URL)
	switch {
	case raw == "":
		s.driver = driverSQLite
		s.path = filepath.Join(opts.DataDir, FileName)
	case strings.HasPrefix(raw, "file:"):
		s.driver = driverSQLite
		s.path = strings.TrimPrefix(raw, "file:")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("invalid database url: %v", err))
		}
		if _, hasPassword := u.User.Password(); !hasPassword && opts.AuthToken != "" {
			u.User = url.UserPassword(u.User.Username(), opts.AuthToken)
		}
		s.driver = driverPostgres
		s.dsn = u.String()
		s.location = u.Redacted()
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported database url %q", raw))
	}

	if s.driver == driverSQLite {
		s.dsn = s.path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		s.location = s.path
	}
	return s, nil
}

// Backend returns the driver name
func (s *Store) Backend() string {
	return s.driver
}

// Local reports whether the store is a local file
func (s *Store) Local() bool {
	return s.driver == driverSQLite
}

func (s *Store) open() (*sql.DB, error) {
	if s.Local() {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, err
		}
	}
	return sql.Open(s.driver, s.dsn)
}

// Init opens the database and applies the schema. Concurrent callers share
// one initialization.
func (s *Store) Init(ctx context.Context) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if ready {
		return nil
	}

	_, err, _ := s.group.Do("init", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ready {
			return nil, nil
		}

		if s.db == nil {
			db, err := s.open()
			if err != nil {
				return nil, apperrors.NewStoreError("failed to open store", err)
			}
			s.db = db
		}

		for _, stmt := range schemaStatements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return nil, apperrors.NewStoreError("failed to initialize store", err)
			}
		}

		s.ready = true
		slog.Debug("Cache store initialized", "backend", s.driver, "location", s.location)
		return nil, nil
	})
	return err
}

// conn returns the initialized handle
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, apperrors.NewStoreError("store is closed", nil)
	}
	return s.db, nil
}

// bind rewrites ? placeholders for the active driver
func (s *Store) bind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, s.bind(query), args...)
}

// upsert writes one row of table with fresh cache bookkeeping for kind
func (s *Store) upsert(ctx context.Context, table string, kind storage.Kind, cols []string, values []any) error {
	now := s.nowMs()
	args := append(values, now, now+s.ttl.For(kind).Milliseconds())
	if _, err := s.exec(ctx, upsertSQL(table, cols), args...); err != nil {
		return apperrors.NewStoreError(fmt.Sprintf("failed to save %s", kind), err)
	}
	return nil
}

// getOne reads a live row by id; a missing, expired or malformed row is a miss
func getOne[T any](ctx context.Context, s *Store, kind storage.Kind, query string, scan func(scanner) (T, error), id string) (*T, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	v, err := scan(db.QueryRowContext(ctx, s.bind(query), id, s.nowMs()))
	var malformed *malformedRowError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		metrics.ObserveCacheRead(string(kind), false)
		return nil, nil
	case errors.As(err, &malformed):
		slog.Warn("Ignoring malformed cache row", "kind", kind, "id", id, "error", err)
		metrics.ObserveCacheRead(string(kind), false)
		return nil, nil
	case err != nil:
		return nil, apperrors.NewStoreError(fmt.Sprintf("failed to read %s", kind), err)
	}

	metrics.ObserveCacheRead(string(kind), true)
	return &v, nil
}

// queryList reads every row of a query, skipping malformed ones
func queryList[T any](ctx context.Context, s *Store, kind storage.Kind, query string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, apperrors.NewStoreError(fmt.Sprintf("failed to list %s", kind), err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		var malformed *malformedRowError
		if errors.As(err, &malformed) {
			slog.Warn("Skipping malformed cache row", "kind", kind, "error", err)
			continue
		}
		if err != nil {
			return nil, apperrors.NewStoreError(fmt.Sprintf("failed to list %s", kind), err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError(fmt.Sprintf("failed to list %s", kind), err)
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, s.bind(query), args...).Scan(&n); err != nil {
		return 0, apperrors.NewStoreError("failed to count rows", err)
	}
	return n, nil
}

// childTables maps each parent table to the tables referencing it
var childTables = map[string][]string{
	"identities":   {"repositories"},
	"repositories": {"issues", "pull_requests", "releases", "branches"},
}

var parentColumn = map[string]string{
	"identities":   "identity_id",
	"repositories": "repository_id",
}

// ClearExpired deletes expired rows, children first. A parent row is kept
// while live children still reference it.
func (s *Store) ClearExpired(ctx context.Context) (map[string]int64, error) {
	now := s.nowMs()
	deleted := make(map[string]int64, len(tableNames))

	for i := len(tableNames) - 1; i >= 0; i-- {
		table := tableNames[i]
		query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", table)
		for _, child := range childTables[table] {
			query += fmt.Sprintf(" AND NOT EXISTS (SELECT 1 FROM %s c WHERE c.%s = %s.id)", child, parentColumn[table], table)
		}

		res, err := s.exec(ctx, query, now)
		if err != nil {
			return deleted, apperrors.NewStoreError("failed to clear expired "+table, err)
		}
		n, _ := res.RowsAffected()
		deleted[table] = n
	}
	return deleted, nil
}

// ClearAll deletes every row of every table, children first
func (s *Store) ClearAll(ctx context.Context) error {
	for i := len(tableNames) - 1; i >= 0; i-- {
		if _, err := s.exec(ctx, "DELETE FROM "+tableNames[i]); err != nil {
			return apperrors.NewStoreError("failed to clear "+tableNames[i], err)
		}
	}
	return nil
}

// ResetStore recreates a local store from scratch; a remote store is cleared
func (s *Store) ResetStore(ctx context.Context) error {
	if !s.Local() {
		return s.ClearAll(ctx)
	}

	s.mu.Lock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Failed to close store before reset", "error", err)
		}
		s.db = nil
	}
	s.ready = false
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.mu.Unlock()
			return apperrors.NewStoreError("failed to delete store file", err)
		}
	}
	s.mu.Unlock()

	return s.Init(ctx)
}

// Status reports per-table totals and live counts
func (s *Store) Status(ctx context.Context) (*storage.Status, error) {
	now := s.nowMs()
	st := &storage.Status{
		Backend:  s.driver,
		Location: s.location,
		Tables:   make([]storage.TableStatus, 0, len(tableNames)),
	}

	for _, table := range tableNames {
		total, err := s.count(ctx, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return nil, err
		}
		live, err := s.count(ctx, "SELECT COUNT(*) FROM "+table+" WHERE expires_at > ?", now)
		if err != nil {
			return nil, err
		}
		st.Tables = append(st.Tables, storage.TableStatus{Table: table, Total: total, Live: live})
		st.TotalEntries += total
		st.LiveEntries += live
	}
	return st, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
