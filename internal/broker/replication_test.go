package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-z/undermoon/internal/meta"
)

// replicationFixture is a cluster with one master plus two free nodes on
// a second host.
func replicationFixture(t *testing.T) (*meta.Store, *ClusterDirectory, *ReplicationCoordinator) {
	t.Helper()
	store := meta.NewStore()
	registry := NewHostRegistry(store)
	directory := NewClusterDirectory(store)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6000"})
	require.NoError(t, err)
	_, err = registry.RegisterHost("127.0.0.2:7000", []string{"127.0.0.2:6002", "127.0.0.2:6003"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)
	_, err = directory.AddNamedNodeToCluster("testdb", "127.0.0.1:6000")
	require.NoError(t, err)

	return store, directory, NewReplicationCoordinator(store)
}

// TestAssignReplica tests the happy path: the replica joins the cluster
// mirroring the master.
func TestAssignReplica(t *testing.T) {
	store, _, replication := replicationFixture(t)

	pair, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6002")
	require.NoError(t, err)
	assert.Equal(t, "testdb", pair.Cluster)
	assert.Equal(t, "127.0.0.1:6000", pair.Master)
	assert.Equal(t, "127.0.0.2:6002", pair.Replica)

	store.View(func(top *meta.Topology) {
		require.NoError(t, top.Validate())
		replica := top.Nodes["127.0.0.2:6002"]
		assert.Equal(t, meta.RoleReplica, replica.Role)
		assert.Equal(t, "testdb", replica.ClusterName)
		assert.Contains(t, top.Clusters["testdb"].Nodes, "127.0.0.2:6002")
		assert.Equal(t, meta.RoleMaster, top.Nodes["127.0.0.1:6000"].Role)
	})
}

// TestAssignReplicaExclusive tests that a replica mirrors exactly one
// master.
func TestAssignReplicaExclusive(t *testing.T) {
	store, directory, replication := replicationFixture(t)

	// Second master to attempt stealing the replica.
	_, err := directory.AddNamedNodeToCluster("testdb", "127.0.0.2:6003")
	require.NoError(t, err)

	_, err = replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6002")
	require.NoError(t, err)

	_, err = replication.AssignReplica("testdb", "127.0.0.2:6003", "127.0.0.2:6002")
	assert.ErrorIs(t, err, meta.ErrReplicaAlreadyOwned)
	requireValid(t, store)
}

// TestAssignReplicaMultipleReplicasPerMaster tests a master may carry
// several replicas.
func TestAssignReplicaMultipleReplicasPerMaster(t *testing.T) {
	store, _, replication := replicationFixture(t)

	_, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6002")
	require.NoError(t, err)
	_, err = replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6003")
	require.NoError(t, err)

	store.View(func(top *meta.Topology) {
		assert.Equal(t,
			[]string{"127.0.0.2:6002", "127.0.0.2:6003"},
			top.MasterReplicas("127.0.0.1:6000"))
	})
	assert.Len(t, replication.ListReplications(), 2)
	requireValid(t, store)
}

// TestAssignReplicaErrors tests the failure modes.
func TestAssignReplicaErrors(t *testing.T) {
	_, directory, replication := replicationFixture(t)

	t.Run("unknown cluster", func(t *testing.T) {
		_, err := replication.AssignReplica("other", "127.0.0.1:6000", "127.0.0.2:6002")
		assert.ErrorIs(t, err, meta.ErrClusterNotFound)
	})

	t.Run("master not in cluster", func(t *testing.T) {
		_, err := replication.AssignReplica("testdb", "127.0.0.2:6003", "127.0.0.2:6002")
		assert.ErrorIs(t, err, meta.ErrMasterNotInCluster)
	})

	t.Run("unknown replica", func(t *testing.T) {
		_, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.9:6009")
		assert.ErrorIs(t, err, meta.ErrNodeNotFound)
	})

	t.Run("replica not free", func(t *testing.T) {
		_, err := directory.AddNamedNodeToCluster("testdb", "127.0.0.2:6003")
		require.NoError(t, err)
		_, err = replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6003")
		assert.ErrorIs(t, err, meta.ErrReplicaNotFree)
	})

	t.Run("master equals replica", func(t *testing.T) {
		_, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.1:6000")
		assert.ErrorIs(t, err, meta.ErrInvalidArgument)
	})

	t.Run("replica cannot take replicas", func(t *testing.T) {
		_, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6002")
		require.NoError(t, err)
		_, err = replication.AssignReplica("testdb", "127.0.0.2:6002", "127.0.0.2:6003")
		assert.ErrorIs(t, err, meta.ErrMasterNotInCluster)
	})
}

// TestDetachReplicaViaNodeRemoval tests that removing a replica from the
// cluster drops its replication pair, and that a master with replicas
// cannot be removed first.
func TestDetachReplicaViaNodeRemoval(t *testing.T) {
	store, directory, replication := replicationFixture(t)

	_, err := replication.AssignReplica("testdb", "127.0.0.1:6000", "127.0.0.2:6002")
	require.NoError(t, err)

	err = directory.RemoveNodeFromCluster("testdb", "127.0.0.1:7000", "127.0.0.1:6000")
	assert.ErrorIs(t, err, meta.ErrNodeHasReplica)

	require.NoError(t, directory.RemoveNodeFromCluster("testdb", "127.0.0.2:7000", "127.0.0.2:6002"))
	store.View(func(top *meta.Topology) {
		require.NoError(t, top.Validate())
		assert.Empty(t, top.Replications)
		assert.Equal(t, meta.RoleFree, top.Nodes["127.0.0.2:6002"].Role)
	})

	// Master is detachable once the replica is gone.
	assert.NoError(t, directory.RemoveNodeFromCluster("testdb", "127.0.0.1:7000", "127.0.0.1:6000"))
}
