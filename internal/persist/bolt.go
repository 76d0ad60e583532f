// Package persist stores topology snapshots in a bolt file so the broker
// can restart without losing the metadata it brokered.
package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"

	"github.com/Travis-z/undermoon/internal/meta"
)

var (
	bucketTopology = []byte("topology")
	keyLatest      = []byte("latest")
)

// SnapshotStore persists the latest committed topology snapshot as JSON
// under a single bolt bucket. Save is wired to the meta.Store's commit
// hook, which runs commits in order on the writer goroutine, so no extra
// locking is needed here.
type SnapshotStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the snapshot file.
func Open(path string, logger *zap.Logger) (*SnapshotStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTopology)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create topology bucket: %w", err)
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// Save writes the snapshot, replacing the previous one.
func (s *SnapshotStore) Save(top *meta.Topology) error {
	data, err := json.Marshal(top)
	if err != nil {
		return fmt.Errorf("marshal topology: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTopology).Put(keyLatest, data)
	})
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. Returns (nil, nil) when the file holds
// no snapshot yet.
func (s *SnapshotStore) Load() (*meta.Topology, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketTopology).Get(keyLatest); v != nil {
			data = append(data, v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	top := meta.NewTopology()
	if err := json.Unmarshal(data, top); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return top, nil
}

// CommitHook returns a function suitable for meta.Store.SetOnCommit.
// Persistence failures are logged, not propagated: the in-memory topology
// stays authoritative and a later commit retries the write.
func (s *SnapshotStore) CommitHook() func(*meta.Topology) {
	return func(top *meta.Topology) {
		if err := s.Save(top); err != nil {
			s.logger.Error("failed to persist topology snapshot",
				zap.Uint64("epoch", top.Epoch), zap.Error(err))
		}
	}
}

// Close closes the underlying bolt file.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
