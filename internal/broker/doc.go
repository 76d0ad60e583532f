// Package broker implements the metadata broker's core components: host
// registration, cluster membership, migration orchestration, and replica
// assignment.
//
// # Architecture
//
// Every component is a thin, stateless front over the shared meta.Store;
// the store's Update method is the single serialization point for the
// whole topology, so cross-component invariants hold at every epoch:
//
//	API Gateway
//	    │
//	    ├──▶ HostRegistry ───────────┐
//	    ├──▶ ClusterDirectory ───────┤
//	    ├──▶ MigrationCoordinator ───┼──▶ meta.Store (single writer)
//	    └──▶ ReplicationCoordinator ─┘
//
// The components layer leaf-first: the registry manages hosts and their
// free nodes; the directory draws free nodes into clusters; the migration
// and replication coordinators operate on cluster members only.
//
// # Migrations
//
// A migration's bookkeeping (record creation, slot tagging, node pinning)
// commits synchronously; the data movement runs on a background goroutine
// with cooperative cancellation and reports back through its own short
// transaction. While a migration is active both nodes are pinned: they
// cannot be detached from the cluster or removed from their host.
//
// Cancellation leaves slot ownership exactly as it stood at the
// cancellation instant; nothing is rolled back. A transfer failure parks
// the record in a failed terminal state and unpins the nodes so an
// operator can retry.
//
// # Slot ownership
//
// Clusters span slots [0, meta.SlotNum). The first node assigned to a
// cluster owns the full range; half-mode migrations split ownership at
// the policy's cut point (midpoint by default), all-mode migrations drain
// the source completely and return it to the free pool.
package broker
