package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Travis-z/undermoon/internal/broker"
	"github.com/Travis-z/undermoon/internal/meta"
)

// version is reported by GET /api/version.
const version = "0.1.0"

// server wires the control-plane HTTP surface to the broker components.
// Each handler calls exactly one core operation and translates its typed
// result or error into a response.
type server struct {
	store        *meta.Store
	hosts        *broker.HostRegistry
	clusters     *broker.ClusterDirectory
	migrations   *broker.MigrationCoordinator
	replications *broker.ReplicationCoordinator
	logger       *zap.Logger
}

func newServer(store *meta.Store, logger *zap.Logger) *server {
	return &server{
		store:        store,
		hosts:        broker.NewHostRegistry(store),
		clusters:     broker.NewClusterDirectory(store),
		migrations:   broker.NewMigrationCoordinator(store, logger),
		replications: broker.NewReplicationCoordinator(store),
		logger:       logger,
	}
}

// routes is the statically enumerated route table: one (method, pattern)
// pair per control-plane operation.
func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("PUT /api/hosts/nodes", s.handleRegisterHost)
	mux.HandleFunc("DELETE /api/hosts/nodes/{proxy}/{node}", s.handleRemoveHostNode)
	mux.HandleFunc("GET /api/hosts/addresses", s.handleListHostAddresses)
	mux.HandleFunc("GET /api/hosts/address/{address}", s.handleGetHost)

	mux.HandleFunc("POST /api/clusters/{name}", s.handleCreateCluster)
	mux.HandleFunc("DELETE /api/clusters/{name}", s.handleDeleteCluster)
	mux.HandleFunc("POST /api/clusters/{name}/nodes", s.handleAddClusterNode)
	mux.HandleFunc("DELETE /api/clusters/{name}/nodes/{proxy}/{node}", s.handleRemoveClusterNode)
	mux.HandleFunc("GET /api/clusters/names", s.handleListClusterNames)
	mux.HandleFunc("GET /api/clusters/names/{name}", s.handleGetCluster)

	mux.HandleFunc("POST /api/migrations/half/{cluster}/{src}/{dst}", s.handleStartMigrationHalf)
	mux.HandleFunc("POST /api/migrations/all/{cluster}/{src}/{dst}", s.handleStartMigrationAll)
	mux.HandleFunc("DELETE /api/migrations/{cluster}/{src}/{dst}", s.handleStopMigration)

	mux.HandleFunc("POST /api/replications/{cluster}/{master}/{replica}", s.handleAssignReplica)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
