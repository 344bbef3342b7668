// Package memory provides the in-memory history store used by default and
// in tests. It implements the snapshot, drift report, performance, and
// record counting interfaces of the domain packages.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/performance"
)

// Store keeps all history in process memory, ordered by timestamp
type Store struct {
	mu          sync.RWMutex
	references  map[string]*distribution.Snapshot
	snapshots   map[string][]*distribution.Snapshot
	reports     map[string][]*drift.Report
	perf        map[string][]*performance.Snapshot
	recordTimes map[string][]time.Time
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		references:  make(map[string]*distribution.Snapshot),
		snapshots:   make(map[string][]*distribution.Snapshot),
		reports:     make(map[string][]*drift.Report),
		perf:        make(map[string][]*performance.Snapshot),
		recordTimes: make(map[string][]time.Time),
	}
}

// SaveReference implements distribution.SnapshotStore
func (s *Store) SaveReference(ctx context.Context, snapshot *distribution.Snapshot) error {
	s.mu.Lock()
	s.references[snapshot.Dataset] = snapshot
	s.mu.Unlock()
	return nil
}

// Reference implements distribution.SnapshotStore
func (s *Store) Reference(ctx context.Context, dataset string) (*distribution.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.references[dataset]
	if !ok {
		return nil, fmt.Errorf("no reference snapshot for dataset %s", dataset)
	}
	return snapshot, nil
}

// AppendSnapshot implements distribution.SnapshotStore
func (s *Store) AppendSnapshot(ctx context.Context, snapshot *distribution.Snapshot) error {
	s.mu.Lock()
	s.snapshots[snapshot.Dataset] = append(s.snapshots[snapshot.Dataset], snapshot)
	s.mu.Unlock()
	return nil
}

// Snapshots implements distribution.SnapshotStore
func (s *Store) Snapshots(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*distribution.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*distribution.Snapshot
	for _, snapshot := range s.snapshots[dataset] {
		if !inRange(snapshot.Timestamp, from, to) {
			continue
		}
		out = append(out, snapshot)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendReport implements drift.ReportStore
func (s *Store) AppendReport(ctx context.Context, report *drift.Report) error {
	s.mu.Lock()
	s.reports[report.Dataset] = append(s.reports[report.Dataset], report)
	s.mu.Unlock()
	return nil
}

// Reports implements drift.ReportStore
func (s *Store) Reports(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*drift.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*drift.Report
	for _, report := range s.reports[dataset] {
		if !inRange(report.Timestamp, from, to) {
			continue
		}
		out = append(out, report)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendPerformance implements performance.Store
func (s *Store) AppendPerformance(ctx context.Context, snapshot *performance.Snapshot) error {
	s.mu.Lock()
	s.perf[snapshot.ModelName] = append(s.perf[snapshot.ModelName], snapshot)
	s.mu.Unlock()
	return nil
}

// Performance implements performance.Store
func (s *Store) Performance(ctx context.Context, modelName string, from, to time.Time, limit int) ([]*performance.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*performance.Snapshot
	for _, snapshot := range s.perf[modelName] {
		if !inRange(snapshot.Timestamp, from, to) {
			continue
		}
		out = append(out, snapshot)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AddRecords notes the arrival of n new records for a dataset
func (s *Store) AddRecords(ctx context.Context, dataset string, n int, at time.Time) {
	s.mu.Lock()
	for i := 0; i < n; i++ {
		s.recordTimes[dataset] = append(s.recordTimes[dataset], at)
	}
	s.mu.Unlock()
}

// RecordsSince implements the retraining engine's record counter
func (s *Store) RecordsSince(ctx context.Context, dataset string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, at := range s.recordTimes[dataset] {
		if at.After(since) {
			count++
		}
	}
	return count, nil
}

// inRange checks a half-open interval; zero bounds are open-ended
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
