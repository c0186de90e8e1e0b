package predictor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketObservations = []byte("observations")

// record is the on-disk representation of an Observation, timestamped
// so old entries can be pruned.
type record struct {
	Features  [FeatureDim]float64 `json:"features"`
	Targets   [TargetDim]float64  `json:"targets"`
	Timestamp time.Time           `json:"timestamp"`
}

// HistoryStore is a BoltDB-backed append-only log of training
// observations, one bucket, the same "bucket-per-entity" convention
// cuemby-warren's pkg/storage.BoltStore uses — just one entity here.
type HistoryStore struct {
	db *bolt.DB
}

// OpenHistoryStore opens (creating if needed) the observation store
// under dataDir.
func OpenHistoryStore(dataDir string) (*HistoryStore, error) {
	path := filepath.Join(dataDir, "predictor.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open predictor store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObservations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Append records a completed observation, keyed by its timestamp's Unix
// nanosecond value so iteration order is chronological.
func (s *HistoryStore) Append(o Observation, at time.Time) error {
	rec := record{Features: o.Features, Targets: o.Targets, Timestamp: at}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObservations).Put(key, data)
	})
}

// All returns every stored observation in chronological order.
func (s *HistoryStore) All() ([]Observation, error) {
	var out []Observation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObservations).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, Observation{Features: rec.Features, Targets: rec.Targets})
		}
		return nil
	})
	return out, err
}

// Prune removes observations older than olderThan.
func (s *HistoryStore) Prune(olderThan time.Time) error {
	cutoff := make([]byte, 8)
	binary.BigEndian.PutUint64(cutoff, uint64(olderThan.UnixNano()))

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoff) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
