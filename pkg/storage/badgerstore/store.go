// Package badgerstore persists monitoring history in an embedded Badger
// database. Keys embed a zero-padded nanosecond timestamp so a prefix scan
// yields ascending timestamp order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/performance"
)

// Store is a Badger-backed history store
type Store struct {
	db  *badger.DB
	log *logger.Logger
}

// Open creates or opens the database at path
func Open(path string, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logging is noisy; ours covers it
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", path, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

func refKey(dataset string) []byte {
	return []byte(fmt.Sprintf("ref/%s", dataset))
}

func timedKey(kind, scope string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s/%s/%019d", kind, scope, ts.UnixNano()))
}

func timedPrefix(kind, scope string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", kind, scope))
}

func (s *Store) put(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// scan walks a prefix in key order and decodes each value through decode.
// decode reports whether it kept the entry, for the limit accounting.
func (s *Store) scan(prefix []byte, limit int, decode func(data []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		kept := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				ok, err := decode(data)
				if err != nil {
					return err
				}
				if ok {
					kept++
				}
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && kept >= limit {
				return nil
			}
		}
		return nil
	})
}

// SaveReference implements distribution.SnapshotStore
func (s *Store) SaveReference(ctx context.Context, snapshot *distribution.Snapshot) error {
	return s.put(refKey(snapshot.Dataset), snapshot)
}

// Reference implements distribution.SnapshotStore
func (s *Store) Reference(ctx context.Context, dataset string) (*distribution.Snapshot, error) {
	var snapshot distribution.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(dataset))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &snapshot)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("no reference snapshot for dataset %s", dataset)
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// AppendSnapshot implements distribution.SnapshotStore
func (s *Store) AppendSnapshot(ctx context.Context, snapshot *distribution.Snapshot) error {
	return s.put(timedKey("snap", snapshot.Dataset, snapshot.Timestamp), snapshot)
}

// Snapshots implements distribution.SnapshotStore
func (s *Store) Snapshots(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*distribution.Snapshot, error) {
	var out []*distribution.Snapshot
	err := s.scan(timedPrefix("snap", dataset), limit, func(data []byte) (bool, error) {
		var snapshot distribution.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return false, err
		}
		if !inRange(snapshot.Timestamp, from, to) {
			return false, nil
		}
		out = append(out, &snapshot)
		return true, nil
	})
	return out, err
}

// AppendReport implements drift.ReportStore
func (s *Store) AppendReport(ctx context.Context, report *drift.Report) error {
	return s.put(timedKey("report", report.Dataset, report.Timestamp), report)
}

// Reports implements drift.ReportStore
func (s *Store) Reports(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*drift.Report, error) {
	var out []*drift.Report
	err := s.scan(timedPrefix("report", dataset), limit, func(data []byte) (bool, error) {
		var report drift.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return false, err
		}
		if !inRange(report.Timestamp, from, to) {
			return false, nil
		}
		out = append(out, &report)
		return true, nil
	})
	return out, err
}

// AppendPerformance implements performance.Store
func (s *Store) AppendPerformance(ctx context.Context, snapshot *performance.Snapshot) error {
	return s.put(timedKey("perf", snapshot.ModelName, snapshot.Timestamp), snapshot)
}

// Performance implements performance.Store
func (s *Store) Performance(ctx context.Context, modelName string, from, to time.Time, limit int) ([]*performance.Snapshot, error) {
	var out []*performance.Snapshot
	err := s.scan(timedPrefix("perf", modelName), limit, func(data []byte) (bool, error) {
		var snapshot performance.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return false, err
		}
		if !inRange(snapshot.Timestamp, from, to) {
			return false, nil
		}
		out = append(out, &snapshot)
		return true, nil
	})
	return out, err
}

// AddRecords notes the arrival of n new records for a dataset. Each batch
// is one key; the count is stored as the value.
func (s *Store) AddRecords(ctx context.Context, dataset string, n int, at time.Time) error {
	key := []byte(fmt.Sprintf("rec/%s/%019d/%s", dataset, at.UnixNano(), uuid.NewString()[:8]))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(fmt.Sprintf("%d", n)))
	})
}

// RecordsSince implements the retraining engine's record counter
func (s *Store) RecordsSince(ctx context.Context, dataset string, since time.Time) (int64, error) {
	prefix := []byte(fmt.Sprintf("rec/%s/", dataset))
	// Seeking past the cutoff timestamp skips older batches entirely.
	seek := []byte(fmt.Sprintf("rec/%s/%019d", dataset, since.UnixNano()+1))

	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				var n int64
				if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
					return err
				}
				total += n
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return total, err
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
