package broker

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/Travis-z/undermoon/internal/meta"
)

// ClusterDirectory manages named clusters and their node membership.
// Nodes are drawn from the pool of registered, free nodes; the first node
// assigned to a cluster receives the cluster's full slot range, later
// nodes join without slots until a migration grants them some.
//
// Thread Safety:
// All methods are safe for concurrent use; the store provides the
// serialization.
type ClusterDirectory struct {
	store *meta.Store
}

// NewClusterDirectory creates a directory backed by the given store.
func NewClusterDirectory(store *meta.Store) *ClusterDirectory {
	return &ClusterDirectory{store: store}
}

// CreateCluster creates an empty cluster.
//
// Errors:
//   - ErrClusterAlreadyExists if the name is taken
//   - ErrInvalidArgument for an empty name or a name containing '/'
func (d *ClusterDirectory) CreateCluster(name string) (*meta.ClusterInfo, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, meta.Errf(meta.ErrInvalidArgument, "invalid cluster name %q", name)
	}
	var info *meta.ClusterInfo
	err := d.store.Update(func(t *meta.Topology) error {
		if _, ok := t.Clusters[name]; ok {
			return meta.Errf(meta.ErrClusterAlreadyExists, "cluster %s already exists", name)
		}
		t.Clusters[name] = &meta.Cluster{Name: name}
		info = copyClusterInfo(t, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// DeleteCluster deletes a cluster. Only empty clusters can be deleted;
// detach every node first.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrClusterNotEmpty if any node is still assigned
func (d *ClusterDirectory) DeleteCluster(name string) error {
	return d.store.Update(func(t *meta.Topology) error {
		cl, ok := t.Clusters[name]
		if !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", name)
		}
		if len(cl.Nodes) > 0 {
			return meta.Errf(meta.ErrClusterNotEmpty,
				"cluster %s still has %d nodes assigned", name, len(cl.Nodes))
		}
		delete(t.Clusters, name)
		return nil
	})
}

// AddNodeToCluster assigns one free node to the cluster as a master.
// The node is chosen deterministically: the lowest-address free node
// across all registered hosts. The first member of a cluster receives the
// full slot range.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrNoFreeNodeAvailable if no free node exists
func (d *ClusterDirectory) AddNodeToCluster(name string) (*meta.Node, error) {
	var added *meta.Node
	err := d.store.Update(func(t *meta.Topology) error {
		cl, ok := t.Clusters[name]
		if !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", name)
		}
		var free []string
		for addr := range t.Nodes {
			if t.NodeFree(addr) {
				free = append(free, addr)
			}
		}
		if len(free) == 0 {
			return meta.Errf(meta.ErrNoFreeNodeAvailable,
				"no free node available for cluster %s", name)
		}
		slices.Sort(free)
		added = assignMaster(t, cl, t.Nodes[free[0]]).Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// AddNamedNodeToCluster assigns a specific free node to the cluster,
// for operator-directed placement.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrNodeNotFound if the node is not registered
//   - ErrNodeInUse if the node is not free
func (d *ClusterDirectory) AddNamedNodeToCluster(name, nodeAddress string) (*meta.Node, error) {
	var added *meta.Node
	err := d.store.Update(func(t *meta.Topology) error {
		cl, ok := t.Clusters[name]
		if !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", name)
		}
		n, ok := t.Nodes[nodeAddress]
		if !ok {
			return meta.Errf(meta.ErrNodeNotFound, "node %s is not registered", nodeAddress)
		}
		if !t.NodeFree(nodeAddress) {
			return meta.Errf(meta.ErrNodeInUse, "node %s is not free", nodeAddress)
		}
		added = assignMaster(t, cl, n).Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveNodeFromCluster detaches a node from the cluster, returning it to
// the free pool. A master with live replicas cannot be detached; detach
// the replicas first. Detaching a replica also drops its replication
// pair.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrNodeNotInCluster if the node is not a member under that proxy
//   - ErrNodePinnedByMigration if an active migration references it
//   - ErrNodeHasReplica if it is a master with live replicas
func (d *ClusterDirectory) RemoveNodeFromCluster(name, proxyAddress, nodeAddress string) error {
	return d.store.Update(func(t *meta.Topology) error {
		cl, ok := t.Clusters[name]
		if !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", name)
		}
		n, ok := t.Nodes[nodeAddress]
		if !ok || n.ClusterName != name || n.ProxyAddress != proxyAddress {
			return meta.Errf(meta.ErrNodeNotInCluster,
				"node %s (proxy %s) is not a member of cluster %s", nodeAddress, proxyAddress, name)
		}
		if t.NodePinned(nodeAddress) {
			return meta.Errf(meta.ErrNodePinnedByMigration,
				"node %s is pinned by an active migration", nodeAddress)
		}
		if replicas := t.MasterReplicas(nodeAddress); len(replicas) > 0 {
			return meta.Errf(meta.ErrNodeHasReplica,
				"node %s still has replicas %v attached", nodeAddress, replicas)
		}
		delete(t.Replications, nodeAddress)
		detachNode(t, cl, n)
		return nil
	})
}

// ListClusterNames returns all cluster names, sorted.
func (d *ClusterDirectory) ListClusterNames() []string {
	var names []string
	d.store.View(func(t *meta.Topology) {
		names = t.ClusterNames()
	})
	return names
}

// GetCluster returns one cluster's detail view.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
func (d *ClusterDirectory) GetCluster(name string) (*meta.ClusterInfo, error) {
	var info *meta.ClusterInfo
	d.store.View(func(t *meta.Topology) {
		info = copyClusterInfo(t, name)
	})
	if info == nil {
		return nil, meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", name)
	}
	return info, nil
}

// assignMaster makes the node a master member of the cluster. The first
// member gets the full slot range.
func assignMaster(t *meta.Topology, cl *meta.Cluster, n *meta.Node) *meta.Node {
	n.ClusterName = cl.Name
	n.Role = meta.RoleMaster
	if len(cl.Nodes) == 0 {
		n.Slots = []meta.SlotRange{{Start: 0, End: meta.SlotNum - 1}}
	}
	appendMember(cl, n.Address)
	return n
}

// appendMember adds an address to the cluster's member list, keeping it
// sorted.
func appendMember(cl *meta.Cluster, addr string) {
	cl.Nodes = append(cl.Nodes, addr)
	slices.Sort(cl.Nodes)
}

// detachNode clears the node's cluster assignment and slot ownership.
func detachNode(t *meta.Topology, cl *meta.Cluster, n *meta.Node) {
	if idx := slices.Index(cl.Nodes, n.Address); idx >= 0 {
		cl.Nodes = slices.Delete(cl.Nodes, idx, idx+1)
	}
	n.ClusterName = ""
	n.Role = meta.RoleFree
	n.Slots = nil
}

// copyClusterInfo builds a detail view whose nodes are copies.
func copyClusterInfo(t *meta.Topology, name string) *meta.ClusterInfo {
	info := t.ClusterInfo(name)
	if info == nil {
		return nil
	}
	copied := &meta.ClusterInfo{Name: info.Name, Epoch: info.Epoch}
	for _, n := range info.Nodes {
		copied.Nodes = append(copied.Nodes, n.Clone())
	}
	return copied
}
