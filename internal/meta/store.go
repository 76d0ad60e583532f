package meta

import (
	"sync"
)

// Store holds the authoritative topology behind a single serialization
// point. At most one Update transaction runs at a time; readers always see
// the latest committed snapshot and never observe a transaction in flight.
//
// Update applies the transaction to a deep copy of the current topology
// and swaps the copy in only if the transaction succeeds, so a failing
// transaction leaves no partial mutation visible anywhere.
//
// Thread Safety:
// All methods are safe for concurrent use. Readers do not block writers:
// a reader entering during a commit gets either the pre- or post-commit
// snapshot, both fully settled.
type Store struct {
	writeMu  sync.Mutex   // serializes Update transactions
	mu       sync.RWMutex // guards the snapshot pointer swap
	top      *Topology
	onCommit func(*Topology)
}

// NewStore creates a store holding an empty topology at epoch zero.
func NewStore() *Store {
	return &Store{top: NewTopology()}
}

// SetOnCommit installs a hook invoked after every committed Update with
// the new settled snapshot. The hook runs on the writer's goroutine while
// the writer lock is held, so commits stay ordered; it must not call back
// into Update. Used for snapshot persistence.
func (s *Store) SetOnCommit(fn func(*Topology)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onCommit = fn
}

// View runs fn against the current settled snapshot. The snapshot is
// shared and read-only; fn must not mutate it or retain it past the call.
// Use Snapshot for a private copy.
func (s *Store) View(fn func(*Topology)) {
	s.mu.RLock()
	top := s.top
	s.mu.RUnlock()
	fn(top)
}

// Snapshot returns a deep copy of the current settled topology, safe for
// the caller to hold and serialize.
func (s *Store) Snapshot() *Topology {
	s.mu.RLock()
	top := s.top
	s.mu.RUnlock()
	return top.Clone()
}

// Epoch returns the current consistency epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.top.Epoch
}

// Update runs fn as a serialized transaction. fn receives a private copy
// of the topology; if it returns nil the copy is committed with the epoch
// advanced, otherwise nothing changes and the error is returned as-is.
func (s *Store) Update(fn func(*Topology) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur := s.top
	s.mu.RUnlock()

	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Epoch++

	s.mu.Lock()
	s.top = next
	s.mu.Unlock()

	if s.onCommit != nil {
		s.onCommit(next)
	}
	return nil
}

// Restore replaces the topology wholesale, used once at startup to load a
// persisted snapshot. The restored epoch is kept so proxies that cached an
// epoch across a broker restart do not see it move backwards.
func (s *Store) Restore(top *Topology) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if top.Hosts == nil {
		top.Hosts = make(map[string]*Host)
	}
	if top.Nodes == nil {
		top.Nodes = make(map[string]*Node)
	}
	if top.Clusters == nil {
		top.Clusters = make(map[string]*Cluster)
	}
	if top.Migrations == nil {
		top.Migrations = make(map[string]*Migration)
	}
	if top.Replications == nil {
		top.Replications = make(map[string]*ReplicationPair)
	}

	s.mu.Lock()
	s.top = top
	s.mu.Unlock()
}
