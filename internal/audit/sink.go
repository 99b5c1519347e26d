// Package audit records every outbound HTTP call to date-partitioned JSON
// files and computes aggregate statistics over them.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/metrics"
)

const (
	// DirName is the audit directory below the data directory
	DirName = "audit_logs"

	// DefaultBatchSize triggers a flush when the buffer reaches it
	DefaultBatchSize = 100

	// DefaultFlushInterval is the periodic flush tick
	DefaultFlushInterval = 5 * time.Second

	dateLayout = "2006-01-02"
	filePrefix = "audit_"
	fileSuffix = ".json"
)

// Recorder is the write side of the sink, as seen by the HTTP audit wrapper
type Recorder interface {
	Record(entry domain.AuditRecord)
}

// Options tunes a Sink
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Sink buffers audit records in memory and appends them to
// <dataDir>/audit_logs/audit_<YYYY-MM-DD>.json on flush.
type Sink struct {
	dir           string
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	buffer []domain.AuditRecord

	// fileMu serializes flushes so two batches never interleave on one file
	fileMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSink creates the audit directory and starts the periodic flush
func NewSink(dataDir string, opts Options) (*Sink, error) {
	dir := filepath.Join(dataDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &Sink{
		dir:           dir,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		now:           opts.Clock,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.flushInterval <= 0 {
		s.flushInterval = DefaultFlushInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	go s.loop()
	return s, nil
}

// Dir returns the directory audit files are written to
func (s *Sink) Dir() string {
	return s.dir
}

func (s *Sink) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				slog.Warn("Audit flush failed, retrying on next tick", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Record enqueues an entry. It never fails: flush errors are logged and the
// entries stay buffered for the next attempt.
func (s *Sink) Record(entry domain.AuditRecord) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(); err != nil {
			slog.Warn("Audit overflow flush failed", "error", err)
		}
	}
}

// Pending returns the number of buffered, unflushed entries
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush writes every buffered entry to its date file. Entries of a group whose
// write fails are put back at the front of the buffer.
func (s *Sink) Flush() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	groups := make(map[string][]domain.AuditRecord)
	var dates []string
	for _, e := range batch {
		date := e.Timestamp.UTC().Format(dateLayout)
		if _, ok := groups[date]; !ok {
			dates = append(dates, date)
		}
		groups[date] = append(groups[date], e)
	}

	var failed []domain.AuditRecord
	var errs []error
	for _, date := range dates {
		if err := s.appendToFile(date, groups[date]); err != nil {
			errs = append(errs, fmt.Errorf("audit %s: %w", date, err))
			failed = append(failed, groups[date]...)
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.buffer = append(failed, s.buffer...)
		s.mu.Unlock()
	}

	err := errors.Join(errs...)
	metrics.ObserveAuditFlush(err)
	return err
}

func (s *Sink) filePath(date string) string {
	return filepath.Join(s.dir, filePrefix+date+fileSuffix)
}

func (s *Sink) appendToFile(date string, entries []domain.AuditRecord) error {
	path := s.filePath(date)

	existing, err := readFile(path)
	if err != nil {
		// A corrupt file is treated like a missing one
		slog.Warn("Audit file unreadable, starting fresh", "path", path, "error", err)
		existing = nil
	}

	data, err := json.MarshalIndent(append(existing, entries...), "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readFile returns the records of one date file; a missing or empty file yields none
func readFile(path string) ([]domain.AuditRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []domain.AuditRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Close stops the periodic flush and writes out the buffer
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.Flush()
	})
	return err
}

// files lists the date files whose date falls in [start, end]; empty bounds are open
func (s *Sink) files(start, end string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) != len(filePrefix)+len(dateLayout)+len(fileSuffix) {
			continue
		}
		if name[:len(filePrefix)] != filePrefix || name[len(name)-len(fileSuffix):] != fileSuffix {
			continue
		}
		date := name[len(filePrefix) : len(name)-len(fileSuffix)]
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}
		if start != "" && date < start {
			continue
		}
		if end != "" && date > end {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// load reads every record matching the date bounds, including buffered ones
func (s *Sink) load(start, end string) ([]domain.AuditRecord, error) {
	dates, err := s.files(start, end)
	if err != nil {
		return nil, err
	}

	var all []domain.AuditRecord
	for _, date := range dates {
		records, err := readFile(s.filePath(date))
		if err != nil {
			slog.Warn("Skipping unreadable audit file", "date", date, "error", err)
			continue
		}
		all = append(all, records...)
	}

	s.mu.Lock()
	for _, e := range s.buffer {
		date := e.Timestamp.UTC().Format(dateLayout)
		if (start == "" || date >= start) && (end == "" || date <= end) {
			all = append(all, e)
		}
	}
	s.mu.Unlock()

	return all, nil
}
