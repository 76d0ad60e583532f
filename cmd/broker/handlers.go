package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/Travis-z/undermoon/internal/meta"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type metadataResponse struct {
	Epoch        uint64                  `json:"epoch"`
	Hosts        []*meta.HostInfo        `json:"hosts"`
	Clusters     []*meta.ClusterInfo     `json:"clusters"`
	Migrations   []*meta.Migration       `json:"migrations"`
	Replications []*meta.ReplicationPair `json:"replications"`
}

type registerHostRequest struct {
	ProxyAddress string   `json:"proxy_address"`
	Nodes        []string `json:"nodes"`
}

type addClusterNodeRequest struct {
	NodeAddress string `json:"node_address"`
}

func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	top := s.store.Snapshot()
	resp := metadataResponse{
		Epoch:        top.Epoch,
		Hosts:        []*meta.HostInfo{},
		Clusters:     []*meta.ClusterInfo{},
		Migrations:   []*meta.Migration{},
		Replications: []*meta.ReplicationPair{},
	}
	for _, addr := range top.HostAddresses() {
		resp.Hosts = append(resp.Hosts, top.HostInfo(addr))
	}
	for _, name := range top.ClusterNames() {
		resp.Clusters = append(resp.Clusters, top.ClusterInfo(name))
	}
	keys := make([]string, 0, len(top.Migrations))
	for key := range top.Migrations {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		resp.Migrations = append(resp.Migrations, top.Migrations[key])
	}
	replicas := make([]string, 0, len(top.Replications))
	for replica := range top.Replications {
		replicas = append(replicas, replica)
	}
	slices.Sort(replicas)
	for _, replica := range replicas {
		resp.Replications = append(resp.Replications, top.Replications[replica])
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *server) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	var req registerHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	info, err := s.hosts.RegisterHost(req.ProxyAddress, req.Nodes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleRemoveHostNode(w http.ResponseWriter, r *http.Request) {
	proxy := r.PathValue("proxy")
	node := r.PathValue("node")
	if err := s.hosts.RemoveNode(proxy, node); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListHostAddresses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Addresses []string `json:"addresses"`
	}{Addresses: s.hosts.ListHostAddresses()})
}

func (s *server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	info, err := s.hosts.GetHost(r.PathValue("address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	info, err := s.clusters.CreateCluster(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.clusters.DeleteCluster(r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddClusterNode assigns a node to the cluster. With an empty body
// the broker picks the lowest-address free node; a body naming a
// node_address requests operator-directed placement.
func (s *server) handleAddClusterNode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req addClusterNodeRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}

	var node *meta.Node
	if req.NodeAddress != "" {
		node, err = s.clusters.AddNamedNodeToCluster(name, req.NodeAddress)
	} else {
		node, err = s.clusters.AddNodeToCluster(name)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *server) handleRemoveClusterNode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	proxy := r.PathValue("proxy")
	node := r.PathValue("node")
	if err := s.clusters.RemoveNodeFromCluster(name, proxy, node); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListClusterNames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Names []string `json:"names"`
	}{Names: s.clusters.ListClusterNames()})
}

func (s *server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	info, err := s.clusters.GetCluster(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleStartMigrationHalf(w http.ResponseWriter, r *http.Request) {
	s.startMigration(w, r, meta.MigrationHalf)
}

func (s *server) handleStartMigrationAll(w http.ResponseWriter, r *http.Request) {
	s.startMigration(w, r, meta.MigrationAll)
}

func (s *server) startMigration(w http.ResponseWriter, r *http.Request, mode meta.MigrationMode) {
	cluster := r.PathValue("cluster")
	src := r.PathValue("src")
	dst := r.PathValue("dst")
	m, err := s.migrations.StartMigration(cluster, src, dst, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *server) handleStopMigration(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")
	src := r.PathValue("src")
	dst := r.PathValue("dst")
	m, err := s.migrations.StopMigration(cluster, src, dst)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *server) handleAssignReplica(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")
	master := r.PathValue("master")
	replica := r.PathValue("replica")
	pair, err := s.replications.AssignReplica(cluster, master, replica)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pair)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps the broker's error kinds onto HTTP statuses and emits
// the code plus message so callers can branch on the code.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch meta.KindOf(err) {
	case meta.KindNotFound:
		status = http.StatusNotFound
	case meta.KindConflict:
		status = http.StatusConflict
	case meta.KindInvalidState:
		status = http.StatusBadRequest
	case meta.KindResourceExhausted:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", zap.Error(err))
	}
	var typed *meta.Error
	code := "Internal"
	if errors.As(err, &typed) {
		code = typed.Code
	}
	s.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}
