// Package broker implements the metadata broker's core components.
// See doc.go for complete package documentation.
package broker

import (
	"golang.org/x/exp/slices"

	"github.com/Travis-z/undermoon/internal/meta"
)

// HostRegistry manages proxy registration: which proxy address fronts
// which set of storage node addresses, independent of any cluster
// assignment. All mutations run as transactions against the shared
// metadata store, so registry changes serialize with every other topology
// mutation.
//
// Thread Safety:
// All methods are safe for concurrent use; the store provides the
// serialization.
type HostRegistry struct {
	store *meta.Store
}

// NewHostRegistry creates a registry backed by the given store.
func NewHostRegistry(store *meta.Store) *HostRegistry {
	return &HostRegistry{store: store}
}

// RegisterHost registers a proxy and the nodes it fronts. The call is
// idempotent: re-registering an existing host merges the node sets
// (union). Fresh nodes are created free.
//
// Errors:
//   - ErrNodeAlreadyOwned if a node address is already owned by a
//     different host
//   - ErrInvalidArgument for an empty proxy address or empty node set
//
// Returns the host's detail view after the merge.
func (r *HostRegistry) RegisterHost(proxyAddress string, nodeAddresses []string) (*meta.HostInfo, error) {
	if proxyAddress == "" {
		return nil, meta.Errf(meta.ErrInvalidArgument, "proxy address is required")
	}
	if len(nodeAddresses) == 0 {
		return nil, meta.Errf(meta.ErrInvalidArgument, "at least one node address is required")
	}
	for _, addr := range nodeAddresses {
		if addr == "" {
			return nil, meta.Errf(meta.ErrInvalidArgument, "node address must not be empty")
		}
	}

	var info *meta.HostInfo
	err := r.store.Update(func(t *meta.Topology) error {
		h := t.Hosts[proxyAddress]
		if h == nil {
			h = &meta.Host{ProxyAddress: proxyAddress}
			t.Hosts[proxyAddress] = h
		}
		for _, addr := range nodeAddresses {
			if n, ok := t.Nodes[addr]; ok {
				if n.ProxyAddress != proxyAddress {
					return meta.Errf(meta.ErrNodeAlreadyOwned,
						"node %s is already owned by host %s", addr, n.ProxyAddress)
				}
				// Already registered under this host; union merge.
				continue
			}
			t.Nodes[addr] = &meta.Node{
				Address:      addr,
				ProxyAddress: proxyAddress,
				Role:         meta.RoleFree,
			}
			h.Nodes = append(h.Nodes, addr)
		}
		slices.Sort(h.Nodes)
		info = copyHostInfo(t, proxyAddress)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// RemoveNode removes a node from its host. A node can only be removed
// while it is idle: not assigned to a cluster, not pinned by an active
// migration. The host itself is removed once its last node is gone.
//
// Errors:
//   - ErrHostNotFound if the proxy address is not registered
//   - ErrNodeNotFound if the node is not registered under that host
//   - ErrNodeInUse if the node is cluster-assigned or migration-pinned
func (r *HostRegistry) RemoveNode(proxyAddress, nodeAddress string) error {
	return r.store.Update(func(t *meta.Topology) error {
		h := t.Hosts[proxyAddress]
		if h == nil {
			return meta.Errf(meta.ErrHostNotFound, "host %s is not registered", proxyAddress)
		}
		idx := slices.Index(h.Nodes, nodeAddress)
		if idx < 0 {
			return meta.Errf(meta.ErrNodeNotFound,
				"node %s is not registered under host %s", nodeAddress, proxyAddress)
		}
		n := t.Nodes[nodeAddress]
		if n.ClusterName != "" {
			return meta.Errf(meta.ErrNodeInUse,
				"node %s is assigned to cluster %s", nodeAddress, n.ClusterName)
		}
		if t.NodePinned(nodeAddress) {
			return meta.Errf(meta.ErrNodeInUse,
				"node %s is pinned by an active migration", nodeAddress)
		}
		h.Nodes = slices.Delete(h.Nodes, idx, idx+1)
		delete(t.Nodes, nodeAddress)
		if len(h.Nodes) == 0 {
			delete(t.Hosts, proxyAddress)
		}
		return nil
	})
}

// ListHosts returns the detail view of every registered host, ordered by
// proxy address.
func (r *HostRegistry) ListHosts() []*meta.HostInfo {
	var hosts []*meta.HostInfo
	r.store.View(func(t *meta.Topology) {
		for _, addr := range t.HostAddresses() {
			hosts = append(hosts, copyHostInfo(t, addr))
		}
	})
	return hosts
}

// ListHostAddresses returns all registered proxy addresses, sorted.
func (r *HostRegistry) ListHostAddresses() []string {
	var addrs []string
	r.store.View(func(t *meta.Topology) {
		addrs = t.HostAddresses()
	})
	return addrs
}

// GetHost returns one host's detail view.
//
// Errors:
//   - ErrHostNotFound if the proxy address is not registered
func (r *HostRegistry) GetHost(proxyAddress string) (*meta.HostInfo, error) {
	var info *meta.HostInfo
	r.store.View(func(t *meta.Topology) {
		info = copyHostInfo(t, proxyAddress)
	})
	if info == nil {
		return nil, meta.Errf(meta.ErrHostNotFound, "host %s is not registered", proxyAddress)
	}
	return info, nil
}

// copyHostInfo builds a detail view whose nodes are copies, safe to hand
// out past the transaction or view.
func copyHostInfo(t *meta.Topology, proxy string) *meta.HostInfo {
	info := t.HostInfo(proxy)
	if info == nil {
		return nil
	}
	copied := &meta.HostInfo{ProxyAddress: info.ProxyAddress}
	for _, n := range info.Nodes {
		copied.Nodes = append(copied.Nodes, n.Clone())
	}
	return copied
}
