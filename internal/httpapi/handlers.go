package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/gracecoord/pkg/epoch"
)

// healthCheckTimeout bounds how long a /readyz or /status probe waits on
// the shared object store before reporting unhealthy.
const healthCheckTimeout = 5 * time.Second

// Backend is the subset of *recovery.Backend the HTTP API depends on.
type Backend interface {
	NodeID() string
	Epochs(ctx context.Context) (epoch.Header, error)
	GraceEnforcing(ctx context.Context) (bool, error)
	IsMember(ctx context.Context) (bool, error)
}

type handlers struct {
	backend Backend
}

// Liveness handles GET /healthz: always 200 once the process is up.
func (h *handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "gracecoord"}))
}

// Readiness handles GET /readyz: 200 only once this node has joined the
// grace cohort.
func (h *handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	member, err := h.backend.IsMember(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	if !member {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("not a cluster member"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"node_id": h.backend.NodeID()}))
}

// statusResponse is the payload of GET /status.
type statusResponse struct {
	NodeID    string `json:"node_id"`
	Current   uint64 `json:"current_epoch"`
	Recovery  uint64 `json:"recovery_epoch"`
	InGrace   bool   `json:"in_grace"`
	Enforcing bool   `json:"enforcing"`
}

// Status handles GET /status: the node-agent's view of the cluster epoch
// and its own enforcement state.
func (h *handlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	header, err := h.backend.Epochs(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	enforcing, err := h.backend.GraceEnforcing(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, okResponse(statusResponse{
		NodeID:    h.backend.NodeID(),
		Current:   header.C,
		Recovery:  header.R,
		InGrace:   header.R != 0,
		Enforcing: enforcing,
	}))
}
