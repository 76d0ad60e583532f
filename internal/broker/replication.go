package broker

import (
	"golang.org/x/exp/slices"

	"github.com/Travis-z/undermoon/internal/meta"
)

// ReplicationCoordinator assigns free nodes as replicas of cluster
// masters and validates the pairing. A replica mirrors exactly one master
// until it is explicitly detached via cluster node removal.
type ReplicationCoordinator struct {
	store *meta.Store
}

// NewReplicationCoordinator creates a coordinator backed by the store.
func NewReplicationCoordinator(store *meta.Store) *ReplicationCoordinator {
	return &ReplicationCoordinator{store: store}
}

// AssignReplica makes the replica node mirror the master within the named
// cluster. The replica joins the cluster with role replica; the master's
// master role is (re)asserted.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrMasterNotInCluster if master is not a master member of the cluster
//   - ErrNodeNotFound if the replica node is not registered
//   - ErrReplicaAlreadyOwned if the replica already mirrors a master
//   - ErrReplicaNotFree if the replica is cluster-assigned or pinned
func (r *ReplicationCoordinator) AssignReplica(cluster, master, replica string) (*meta.ReplicationPair, error) {
	if master == replica {
		return nil, meta.Errf(meta.ErrInvalidArgument,
			"master and replica are both %s", master)
	}
	var pair meta.ReplicationPair
	err := r.store.Update(func(t *meta.Topology) error {
		cl, ok := t.Clusters[cluster]
		if !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", cluster)
		}
		mn, ok := t.Nodes[master]
		if !ok || mn.ClusterName != cluster {
			return meta.Errf(meta.ErrMasterNotInCluster,
				"node %s is not a member of cluster %s", master, cluster)
		}
		if mn.Role == meta.RoleReplica {
			return meta.Errf(meta.ErrMasterNotInCluster,
				"node %s is a replica and cannot take replicas", master)
		}
		rn, ok := t.Nodes[replica]
		if !ok {
			return meta.Errf(meta.ErrNodeNotFound, "node %s is not registered", replica)
		}
		if existing, ok := t.Replications[replica]; ok {
			return meta.Errf(meta.ErrReplicaAlreadyOwned,
				"node %s already replicates %s", replica, existing.Master)
		}
		if !t.NodeFree(replica) {
			return meta.Errf(meta.ErrReplicaNotFree, "node %s is not free", replica)
		}

		mn.Role = meta.RoleMaster
		rn.Role = meta.RoleReplica
		rn.ClusterName = cluster
		appendMember(cl, replica)

		p := &meta.ReplicationPair{Cluster: cluster, Master: master, Replica: replica}
		t.Replications[replica] = p
		pair = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// ListReplications returns every replication pair, ordered by replica
// address.
func (r *ReplicationCoordinator) ListReplications() []*meta.ReplicationPair {
	var pairs []*meta.ReplicationPair
	r.store.View(func(t *meta.Topology) {
		replicas := make([]string, 0, len(t.Replications))
		for replica := range t.Replications {
			replicas = append(replicas, replica)
		}
		slices.Sort(replicas)
		for _, replica := range replicas {
			p := *t.Replications[replica]
			pairs = append(pairs, &p)
		}
	})
	return pairs
}
