// Package store persists run results on disk so a report can be
// assembled after the clusters are gone. Samples are appended under a
// monotonic sequence number; an in-memory btree index keeps per-run
// lookups fast without scanning the whole database.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/perusta/types"
)

// Bucket names in bbolt
var (
	bucketSamples = []byte("samples")
	bucketRuns    = []byte("runs")
	bucketMeta    = []byte("meta")
)

// Store is the on-disk result store for engine runs
type Store struct {
	mu sync.RWMutex

	// In-memory index over runs
	index *btree.BTreeG[*RunState]

	// On-disk storage
	db *bbolt.DB

	// Current sequence number
	currentSeq int64

	dir string
}

// RunState tracks one engine run in the index
type RunState struct {
	RunID       string
	Backend     string
	ClusterID   string
	FirstSeq    int64
	LastSeq     int64
	SampleCount int
	Completed   bool
}

// Open opens or creates the store under dir
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "perusta.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSamples, bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		index: btree.NewG[*RunState](32, func(a, b *RunState) bool {
			return a.RunID < b.RunID
		}),
		db:  db,
		dir: dir,
	}

	if err := s.loadSequence(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// storedSample is the on-disk shape of one sample
type storedSample struct {
	RunID  string       `json:"run_id"`
	Sample types.Sample `json:"sample"`
}

// RecordSample appends one sample for a run
func (s *Store) RecordSample(runID string, sample types.Sample) (int64, error) {
	return s.RecordSampleBatch(runID, []types.Sample{sample})
}

// RecordSampleBatch appends samples atomically under one sequence number
func (s *Store) RecordSampleBatch(runID string, samples []types.Sample) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentSeq++
	seq := s.currentSeq

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSamples)

		for i, sample := range samples {
			key := makeSampleKey(seq, runID, i)
			value, err := json.Marshal(storedSample{RunID: runID, Sample: sample})
			if err != nil {
				return err
			}
			if err := bucket.Put(key, value); err != nil {
				return err
			}
		}

		metaBucket := tx.Bucket(bucketMeta)
		return metaBucket.Put([]byte("current_sequence"), int64ToBytes(seq))
	})
	if err != nil {
		return 0, err
	}

	s.touchRun(runID, seq, len(samples))
	return seq, nil
}

// storedRun is the on-disk shape of a run record
type storedRun struct {
	RunID     string                `json:"run_id"`
	Metadata  types.ClusterMetadata `json:"metadata"`
	StartedAt time.Time             `json:"started_at"`
	Completed bool                  `json:"completed"`
}

// RecordRun records the cluster metadata a run executed against
func (s *Store) RecordRun(runID string, meta types.ClusterMetadata) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentSeq++
	seq := s.currentSeq

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		value, err := json.Marshal(storedRun{
			RunID:     runID,
			Metadata:  meta,
			StartedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(runID), value); err != nil {
			return err
		}

		metaBucket := tx.Bucket(bucketMeta)
		return metaBucket.Put([]byte("current_sequence"), int64ToBytes(seq))
	})
	if err != nil {
		return 0, err
	}

	state := &RunState{RunID: runID}
	existing, found := s.index.Get(state)
	if !found {
		existing = &RunState{
			RunID:    runID,
			FirstSeq: seq,
			LastSeq:  seq,
		}
	}
	existing.Backend = meta.Service
	existing.ClusterID = meta.ClusterID
	s.index.ReplaceOrInsert(existing)

	return seq, nil
}

// CompleteRun marks a run finished
func (s *Store) CompleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		data := bucket.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		var run storedRun
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		run.Completed = true
		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(runID), value)
	})
	if err != nil {
		return err
	}

	state := &RunState{RunID: runID}
	if existing, found := s.index.Get(state); found {
		existing.Completed = true
		s.index.ReplaceOrInsert(existing)
	}
	return nil
}

// GetRunState returns the indexed state for a run
func (s *Store) GetRunState(runID string) (*RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, found := s.index.Get(&RunState{RunID: runID})
	if !found {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return existing, nil
}

// SamplesForRun returns every sample recorded for a run, in sequence order
func (s *Store) SamplesForRun(runID string) ([]types.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []types.Sample

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSamples).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var stored storedSample
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("corrupt sample at %s: %w", k, err)
			}
			if stored.RunID == runID {
				results = append(results, stored.Sample)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RunsByBackend returns the indexed runs that used the named backend
func (s *Store) RunsByBackend(backend string) ([]*RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*RunState
	s.index.Ascend(func(state *RunState) bool {
		if state.Backend == backend {
			results = append(results, state)
		}
		return true
	})
	return results, nil
}

// CurrentSequence returns the current sequence number
func (s *Store) CurrentSequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSeq
}

// Compact drops samples older than the given number of sequence steps
func (s *Store) Compact(keepSequences int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.currentSeq - keepSequences
	if cutoff <= 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSamples)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if seq, _ := parseSampleKey(k); seq < cutoff {
				toDelete = append(toDelete, k)
			}
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) touchRun(runID string, seq int64, count int) {
	state := &RunState{RunID: runID}
	existing, found := s.index.Get(state)
	if !found {
		existing = &RunState{
			RunID:    runID,
			FirstSeq: seq,
		}
	}
	existing.LastSeq = seq
	existing.SampleCount += count
	s.index.ReplaceOrInsert(existing)
}

func (s *Store) loadSequence() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte("current_sequence")); data != nil {
			s.currentSeq = bytesToInt64(data)
		}
		return nil
	})
}

// rebuildIndex restores the run index from disk after reopening
func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if err := runs.ForEach(func(k, v []byte) error {
			var run storedRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("corrupt run record %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(&RunState{
				RunID:     run.RunID,
				Backend:   run.Metadata.Service,
				ClusterID: run.Metadata.ClusterID,
				Completed: run.Completed,
			})
			return nil
		}); err != nil {
			return err
		}

		c := tx.Bucket(bucketSamples).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var stored storedSample
			if err := json.Unmarshal(v, &stored); err != nil {
				continue
			}
			seq, _ := parseSampleKey(k)
			s.touchRun(stored.RunID, seq, 1)
		}
		return nil
	})
}

func makeSampleKey(seq int64, runID string, i int) []byte {
	return []byte(fmt.Sprintf("%016d:%s:%04d", seq, runID, i))
}

func parseSampleKey(key []byte) (int64, string) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) < 2 {
		return 0, ""
	}
	seq, _ := strconv.ParseInt(parts[0], 10, 64)
	return seq, parts[1]
}

func int64ToBytes(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func bytesToInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
