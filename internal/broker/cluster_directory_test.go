package broker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-z/undermoon/internal/meta"
)

func newTestDirectory(t *testing.T) (*meta.Store, *HostRegistry, *ClusterDirectory) {
	t.Helper()
	store := meta.NewStore()
	return store, NewHostRegistry(store), NewClusterDirectory(store)
}

// TestCreateDeleteCluster tests the cluster lifecycle.
func TestCreateDeleteCluster(t *testing.T) {
	_, _, directory := newTestDirectory(t)

	info, err := directory.CreateCluster("testdb")
	require.NoError(t, err)
	assert.Equal(t, "testdb", info.Name)
	assert.Empty(t, info.Nodes)

	_, err = directory.CreateCluster("testdb")
	assert.ErrorIs(t, err, meta.ErrClusterAlreadyExists)

	require.NoError(t, directory.DeleteCluster("testdb"))
	err = directory.DeleteCluster("testdb")
	assert.ErrorIs(t, err, meta.ErrClusterNotFound)
}

// TestCreateClusterValidation tests cluster name validation.
func TestCreateClusterValidation(t *testing.T) {
	_, _, directory := newTestDirectory(t)

	for _, name := range []string{"", "a/b"} {
		_, err := directory.CreateCluster(name)
		assert.ErrorIs(t, err, meta.ErrInvalidArgument, "name %q", name)
	}
}

// TestAddNodeToCluster tests the deterministic free-node pick and the
// full-range grant for the first member.
func TestAddNodeToCluster(t *testing.T) {
	store, registry, directory := newTestDirectory(t)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6001", "127.0.0.1:6000"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)

	first, err := directory.AddNodeToCluster("testdb")
	require.NoError(t, err)
	// Lowest-address free node wins.
	assert.Equal(t, "127.0.0.1:6000", first.Address)
	assert.Equal(t, meta.RoleMaster, first.Role)
	require.Len(t, first.Slots, 1)
	assert.Equal(t, meta.SlotRange{Start: 0, End: meta.SlotNum - 1}, first.Slots[0])

	second, err := directory.AddNodeToCluster("testdb")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6001", second.Address)
	assert.Equal(t, meta.RoleMaster, second.Role)
	// Later members join without slots until a migration grants them some.
	assert.Empty(t, second.Slots)

	_, err = directory.AddNodeToCluster("testdb")
	assert.ErrorIs(t, err, meta.ErrNoFreeNodeAvailable)
	requireValid(t, store)
}

// TestAddNamedNodeToCluster tests operator-directed placement.
func TestAddNamedNodeToCluster(t *testing.T) {
	store, registry, directory := newTestDirectory(t)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6000", "127.0.0.1:6001"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)

	node, err := directory.AddNamedNodeToCluster("testdb", "127.0.0.1:6001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6001", node.Address)

	_, err = directory.AddNamedNodeToCluster("testdb", "127.0.0.1:6001")
	assert.ErrorIs(t, err, meta.ErrNodeInUse)

	_, err = directory.AddNamedNodeToCluster("testdb", "127.0.0.1:6009")
	assert.ErrorIs(t, err, meta.ErrNodeNotFound)
	requireValid(t, store)
}

// TestDeleteClusterNotEmpty tests that members block deletion.
func TestDeleteClusterNotEmpty(t *testing.T) {
	_, registry, directory := newTestDirectory(t)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6000"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)
	_, err = directory.AddNodeToCluster("testdb")
	require.NoError(t, err)

	err = directory.DeleteCluster("testdb")
	assert.ErrorIs(t, err, meta.ErrClusterNotEmpty)

	require.NoError(t, directory.RemoveNodeFromCluster("testdb", "127.0.0.1:7000", "127.0.0.1:6000"))
	assert.NoError(t, directory.DeleteCluster("testdb"))
}

// TestRemoveNodeFromCluster tests detaching returns the node to the free
// pool with slots cleared.
func TestRemoveNodeFromCluster(t *testing.T) {
	store, registry, directory := newTestDirectory(t)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6000"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)
	_, err = directory.AddNodeToCluster("testdb")
	require.NoError(t, err)

	require.NoError(t, directory.RemoveNodeFromCluster("testdb", "127.0.0.1:7000", "127.0.0.1:6000"))

	store.View(func(top *meta.Topology) {
		n := top.Nodes["127.0.0.1:6000"]
		assert.Equal(t, meta.RoleFree, n.Role)
		assert.Empty(t, n.ClusterName)
		assert.Empty(t, n.Slots)
	})

	err = directory.RemoveNodeFromCluster("testdb", "127.0.0.1:7000", "127.0.0.1:6000")
	assert.ErrorIs(t, err, meta.ErrNodeNotInCluster)
	requireValid(t, store)
}

// TestRemoveNodeWrongProxy tests that membership is checked against the
// owning proxy.
func TestRemoveNodeWrongProxy(t *testing.T) {
	_, registry, directory := newTestDirectory(t)

	_, err := registry.RegisterHost("127.0.0.1:7000", []string{"127.0.0.1:6000"})
	require.NoError(t, err)
	_, err = directory.CreateCluster("testdb")
	require.NoError(t, err)
	_, err = directory.AddNodeToCluster("testdb")
	require.NoError(t, err)

	err = directory.RemoveNodeFromCluster("testdb", "127.0.0.2:7000", "127.0.0.1:6000")
	assert.ErrorIs(t, err, meta.ErrNodeNotInCluster)
}

// TestClusterListings tests ordered name listing and detail lookup.
func TestClusterListings(t *testing.T) {
	_, _, directory := newTestDirectory(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := directory.CreateCluster(name)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, directory.ListClusterNames())

	info, err := directory.GetCluster("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.Name)

	_, err = directory.GetCluster("missing")
	assert.ErrorIs(t, err, meta.ErrClusterNotFound)
}

// TestRandomOperationSequencesKeepInvariants drives randomized operation
// sequences against the full component stack and checks the topology
// invariants after every mutation.
func TestRandomOperationSequencesKeepInvariants(t *testing.T) {
	store := meta.NewStore()
	registry := NewHostRegistry(store)
	directory := NewClusterDirectory(store)
	replication := NewReplicationCoordinator(store)

	rng := rand.New(rand.NewSource(1))
	proxies := []string{"127.0.0.1:7000", "127.0.0.2:7000", "127.0.0.3:7000"}
	clusters := []string{"alpha", "beta"}
	nodeAddr := func(i int) string { return fmt.Sprintf("127.0.0.1:%d", 6000+i) }

	for i := 0; i < 2000; i++ {
		switch rng.Intn(8) {
		case 0:
			_, _ = registry.RegisterHost(proxies[rng.Intn(len(proxies))], []string{nodeAddr(rng.Intn(12))})
		case 1:
			node := nodeAddr(rng.Intn(12))
			var proxy string
			store.View(func(top *meta.Topology) {
				if n, ok := top.Nodes[node]; ok {
					proxy = n.ProxyAddress
				}
			})
			_ = registry.RemoveNode(proxy, node)
		case 2:
			_, _ = directory.CreateCluster(clusters[rng.Intn(len(clusters))])
		case 3:
			_ = directory.DeleteCluster(clusters[rng.Intn(len(clusters))])
		case 4:
			_, _ = directory.AddNodeToCluster(clusters[rng.Intn(len(clusters))])
		case 5:
			_, _ = directory.AddNamedNodeToCluster(clusters[rng.Intn(len(clusters))], nodeAddr(rng.Intn(12)))
		case 6:
			cluster := clusters[rng.Intn(len(clusters))]
			node := nodeAddr(rng.Intn(12))
			var proxy string
			store.View(func(top *meta.Topology) {
				if n, ok := top.Nodes[node]; ok {
					proxy = n.ProxyAddress
				}
			})
			_ = directory.RemoveNodeFromCluster(cluster, proxy, node)
		case 7:
			_, _ = replication.AssignReplica(
				clusters[rng.Intn(len(clusters))],
				nodeAddr(rng.Intn(12)),
				nodeAddr(rng.Intn(12)))
		}

		store.View(func(top *meta.Topology) {
			if err := top.Validate(); err != nil {
				t.Fatalf("invariants broken after %d operations: %v", i+1, err)
			}
		})
	}
}
