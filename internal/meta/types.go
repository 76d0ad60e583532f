package meta

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// SlotNum is the fixed size of a cluster's keyspace. Every cluster spans
// slots [0, SlotNum) and membership determines which node owns which
// contiguous ranges of it.
const SlotNum = 16384

// Role describes what a node currently does for its cluster.
type Role string

const (
	// RoleMaster nodes own slot ranges and serve writes.
	RoleMaster Role = "master"
	// RoleReplica nodes mirror exactly one master and own no slots.
	RoleReplica Role = "replica"
	// RoleFree nodes are registered with a host but belong to no cluster.
	RoleFree Role = "free"
)

// MigrationMode selects how much of the source node's slot ownership a
// migration relocates.
type MigrationMode string

const (
	// MigrationHalf moves roughly half of the source's slots to the
	// destination; both nodes remain masters afterwards.
	MigrationHalf MigrationMode = "half"
	// MigrationAll moves every slot the source owns; on completion the
	// source leaves the cluster and becomes free.
	MigrationAll MigrationMode = "all"
)

// MigrationStatus is the lifecycle state of a migration record.
type MigrationStatus string

const (
	MigrationPending   MigrationStatus = "pending"
	MigrationRunning   MigrationStatus = "running"
	MigrationCompleted MigrationStatus = "completed"
	MigrationCancelled MigrationStatus = "cancelled"
	// MigrationFailed marks a migration whose data transfer broke down.
	// Terminal like Cancelled, but distinguishable so operators can tell
	// an explicit stop from a transfer error.
	MigrationFailed MigrationStatus = "failed"
)

// Terminal reports whether the status is final. Only non-terminal
// migrations pin their nodes.
func (s MigrationStatus) Terminal() bool {
	switch s {
	case MigrationCompleted, MigrationCancelled, MigrationFailed:
		return true
	}
	return false
}

// SlotRange is a contiguous, inclusive range of slots owned by one node.
// While a migration is moving the range away, Migrating names the
// destination node address; it is empty for settled ranges.
type SlotRange struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Migrating string `json:"tag,omitempty"`
}

// Count returns the number of slots in the range.
func (r SlotRange) Count() int { return r.End - r.Start + 1 }

// Host is a proxy process fronting one or more storage nodes. Nodes holds
// the addresses of the nodes it fronts, sorted ascending.
type Host struct {
	ProxyAddress string   `json:"proxy_address"`
	Nodes        []string `json:"nodes"`
}

// Node is a storage-owning unit registered under exactly one host.
// ClusterName is empty while the node is free. Slots is only populated for
// masters.
type Node struct {
	Address      string      `json:"address"`
	ProxyAddress string      `json:"proxy_address"`
	ClusterName  string      `json:"cluster_name,omitempty"`
	Role         Role        `json:"role"`
	Slots        []SlotRange `json:"slots"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Slots = slices.Clone(n.Slots)
	return &c
}

// Cluster is a named keyspace made of assigned nodes. Nodes holds member
// addresses sorted ascending.
type Cluster struct {
	Name  string   `json:"name"`
	Nodes []string `json:"nodes"`
}

// Migration is a record of one slot-ownership transfer between two members
// of the same cluster. Ranges lists the slot ranges being moved, fixed when
// the migration starts.
type Migration struct {
	Cluster string          `json:"cluster"`
	Src     string          `json:"src_node"`
	Dst     string          `json:"dst_node"`
	Mode    MigrationMode   `json:"mode"`
	Status  MigrationStatus `json:"status"`
	Ranges  []SlotRange     `json:"ranges"`
}

// Key returns the map key a migration record is stored under.
func (m *Migration) Key() string { return MigrationKey(m.Cluster, m.Src, m.Dst) }

// MigrationKey builds the storage key for a (cluster, src, dst) migration.
func MigrationKey(cluster, src, dst string) string {
	return cluster + "/" + src + "/" + dst
}

// ReplicationPair associates a replica node with the single master it
// mirrors. Keyed by replica address: a replica mirrors exactly one master.
type ReplicationPair struct {
	Cluster string `json:"cluster"`
	Master  string `json:"master_node"`
	Replica string `json:"replica_node"`
}

// Topology is the complete broker metadata graph. A Topology value handed
// out by the Store is a settled snapshot and must be treated as read-only;
// all mutation happens inside Store.Update transactions.
//
// Hosts and Clusters own ordered address lists; Nodes is the global
// node-address index carrying the back-references (host, cluster) as plain
// lookups, never as owning pointers.
type Topology struct {
	Epoch        uint64                      `json:"epoch"`
	Hosts        map[string]*Host            `json:"hosts"`
	Nodes        map[string]*Node            `json:"nodes"`
	Clusters     map[string]*Cluster         `json:"clusters"`
	Migrations   map[string]*Migration       `json:"migrations"`
	Replications map[string]*ReplicationPair `json:"replications"`
}

// NewTopology returns an empty topology at epoch zero.
func NewTopology() *Topology {
	return &Topology{
		Hosts:        make(map[string]*Host),
		Nodes:        make(map[string]*Node),
		Clusters:     make(map[string]*Cluster),
		Migrations:   make(map[string]*Migration),
		Replications: make(map[string]*ReplicationPair),
	}
}

// Clone returns a deep copy sharing no memory with the receiver.
func (t *Topology) Clone() *Topology {
	next := &Topology{
		Epoch:        t.Epoch,
		Hosts:        make(map[string]*Host, len(t.Hosts)),
		Nodes:        make(map[string]*Node, len(t.Nodes)),
		Clusters:     make(map[string]*Cluster, len(t.Clusters)),
		Migrations:   make(map[string]*Migration, len(t.Migrations)),
		Replications: make(map[string]*ReplicationPair, len(t.Replications)),
	}
	for addr, h := range t.Hosts {
		next.Hosts[addr] = &Host{
			ProxyAddress: h.ProxyAddress,
			Nodes:        slices.Clone(h.Nodes),
		}
	}
	for addr, n := range t.Nodes {
		next.Nodes[addr] = n.Clone()
	}
	for name, cl := range t.Clusters {
		next.Clusters[name] = &Cluster{
			Name:  cl.Name,
			Nodes: slices.Clone(cl.Nodes),
		}
	}
	for key, m := range t.Migrations {
		c := *m
		c.Ranges = slices.Clone(m.Ranges)
		next.Migrations[key] = &c
	}
	for addr, p := range t.Replications {
		c := *p
		next.Replications[addr] = &c
	}
	return next
}

// HostAddresses returns all proxy addresses sorted ascending.
func (t *Topology) HostAddresses() []string {
	addrs := make([]string, 0, len(t.Hosts))
	for addr := range t.Hosts {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// ClusterNames returns all cluster names sorted ascending.
func (t *Topology) ClusterNames() []string {
	names := make([]string, 0, len(t.Clusters))
	for name := range t.Clusters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ActiveMigration finds the non-terminal migration for the unordered
// (cluster, a, b) pair, or nil if none is active.
func (t *Topology) ActiveMigration(cluster, a, b string) *Migration {
	for _, key := range []string{MigrationKey(cluster, a, b), MigrationKey(cluster, b, a)} {
		if m, ok := t.Migrations[key]; ok && !m.Status.Terminal() {
			return m
		}
	}
	return nil
}

// NodePinned reports whether any non-terminal migration references the
// node as source or destination.
func (t *Topology) NodePinned(addr string) bool {
	for _, m := range t.Migrations {
		if m.Status.Terminal() {
			continue
		}
		if m.Src == addr || m.Dst == addr {
			return true
		}
	}
	return false
}

// NodeFree reports whether the node carries no cluster assignment and is
// not pinned by an active migration.
func (t *Topology) NodeFree(addr string) bool {
	n, ok := t.Nodes[addr]
	if !ok {
		return false
	}
	return n.ClusterName == "" && !t.NodePinned(addr)
}

// MasterReplicas returns the replica addresses of a master, sorted.
func (t *Topology) MasterReplicas(master string) []string {
	var replicas []string
	for _, p := range t.Replications {
		if p.Master == master {
			replicas = append(replicas, p.Replica)
		}
	}
	slices.Sort(replicas)
	return replicas
}

// Validate checks the cross-entity invariants the store promises at every
// epoch. It exists for tests and debugging; transactions are written so
// that a committed topology always passes.
func (t *Topology) Validate() error {
	owners := make(map[string]string)
	for addr, h := range t.Hosts {
		if addr != h.ProxyAddress {
			return fmt.Errorf("host indexed under %q but addressed %q", addr, h.ProxyAddress)
		}
		if len(h.Nodes) == 0 {
			return fmt.Errorf("host %s has no nodes", addr)
		}
		for _, na := range h.Nodes {
			if prev, dup := owners[na]; dup {
				return fmt.Errorf("node %s owned by both %s and %s", na, prev, addr)
			}
			owners[na] = addr
		}
	}
	for addr, n := range t.Nodes {
		if owners[addr] != n.ProxyAddress {
			return fmt.Errorf("node %s host back-reference %q does not match owner %q", addr, n.ProxyAddress, owners[addr])
		}
		delete(owners, addr)
		if n.ClusterName != "" {
			cl, ok := t.Clusters[n.ClusterName]
			if !ok || !slices.Contains(cl.Nodes, addr) {
				return fmt.Errorf("node %s references cluster %q but is not a member", addr, n.ClusterName)
			}
			if n.Role == RoleFree {
				return fmt.Errorf("node %s is cluster-assigned but role free", addr)
			}
		} else if n.Role != RoleFree {
			return fmt.Errorf("node %s has role %s without a cluster", addr, n.Role)
		}
	}
	for _, extra := range t.HostAddresses() {
		for _, na := range t.Hosts[extra].Nodes {
			if _, ok := t.Nodes[na]; !ok {
				return fmt.Errorf("host %s lists unindexed node %s", extra, na)
			}
		}
	}
	for name, cl := range t.Clusters {
		for _, na := range cl.Nodes {
			n, ok := t.Nodes[na]
			if !ok || n.ClusterName != name {
				return fmt.Errorf("cluster %s lists node %s without matching back-reference", name, na)
			}
		}
	}
	for _, m := range t.Migrations {
		if m.Status.Terminal() {
			continue
		}
		for _, na := range []string{m.Src, m.Dst} {
			n, ok := t.Nodes[na]
			if !ok || n.ClusterName != m.Cluster {
				return fmt.Errorf("active migration %s references %s outside cluster %s", m.Key(), na, m.Cluster)
			}
		}
	}
	for replica, p := range t.Replications {
		if replica != p.Replica {
			return fmt.Errorf("replication pair indexed under %q but replica is %q", replica, p.Replica)
		}
		r, ok := t.Nodes[replica]
		if !ok || r.Role != RoleReplica || r.ClusterName != p.Cluster {
			return fmt.Errorf("replica %s is not a replica member of cluster %s", replica, p.Cluster)
		}
		master, ok := t.Nodes[p.Master]
		if !ok || master.ClusterName != p.Cluster || master.Role != RoleMaster {
			return fmt.Errorf("replication master %s is not a master member of cluster %s", p.Master, p.Cluster)
		}
	}
	return nil
}

// HostInfo is the detail view of one host: the host record with its node
// records resolved, nodes in address order.
type HostInfo struct {
	ProxyAddress string  `json:"proxy_address"`
	Nodes        []*Node `json:"nodes"`
}

// ClusterInfo is the detail view of one cluster, nodes in address order.
type ClusterInfo struct {
	Name  string  `json:"name"`
	Epoch uint64  `json:"epoch"`
	Nodes []*Node `json:"nodes"`
}

// HostInfo resolves the host's node list, or nil if the host is unknown.
func (t *Topology) HostInfo(proxy string) *HostInfo {
	h, ok := t.Hosts[proxy]
	if !ok {
		return nil
	}
	info := &HostInfo{ProxyAddress: h.ProxyAddress}
	for _, addr := range h.Nodes {
		info.Nodes = append(info.Nodes, t.Nodes[addr])
	}
	return info
}

// ClusterInfo resolves the cluster's node list, or nil if unknown.
func (t *Topology) ClusterInfo(name string) *ClusterInfo {
	cl, ok := t.Clusters[name]
	if !ok {
		return nil
	}
	info := &ClusterInfo{Name: cl.Name, Epoch: t.Epoch}
	for _, addr := range cl.Nodes {
		info.Nodes = append(info.Nodes, t.Nodes[addr])
	}
	return info
}
