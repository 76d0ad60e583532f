// Package meta holds the broker's authoritative topology model and the
// transactional store that guards it.
//
// # Overview
//
// The topology graph tracks four entity families and their relationships:
//
//	Host ──owns──▶ Node ──member of──▶ Cluster
//	                │
//	                ├── src/dst of ──▶ Migration
//	                └── replica in ──▶ ReplicationPair
//
// Ownership flows strictly Host→Node and Cluster→membership entry. The
// reverse edges (node→host, node→cluster) are plain address lookups into
// the topology's index maps, never owning pointers, so the graph stays
// acyclic and serializes cleanly to JSON.
//
// # Consistency model
//
// Store is the single serialization point for the whole graph. Mutations
// run one at a time through Store.Update against a private deep copy;
// the copy replaces the live snapshot only when the transaction returns
// nil. Readers (View, Snapshot) always observe a fully committed epoch,
// and a committed Topology value is immutable from that point on.
//
// Invariants held at every epoch:
//
//   - every node address appears in exactly one host's node list
//   - a node's cluster reference is set iff the cluster lists the node
//   - a node is free iff it has no cluster and no active migration pins it
//   - active migrations reference members of their own cluster only
//   - a replica mirrors exactly one master, a master member of the same cluster
//
// Topology.Validate checks all of these; the property tests run it after
// every mutation of randomized operation sequences.
//
// # Errors
//
// Components report *Error values carrying a stable Code (for example
// "NodeAlreadyOwned") and one of four Kinds. Match with errors.Is against
// the package sentinels; the HTTP gateway maps Kinds to status codes.
package meta
