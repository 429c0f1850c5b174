// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// Client is the part of controlif.Client the gateway serves from.
type Client interface {
	State() controlif.ConnState
	GetState(ctx context.Context, mask ...string) (*statetree.Node, error)
	Snapshot(mask ...string) *statetree.Node
	GetWorkloadStates(ctx context.Context) (*workloadstate.Collection, error)
	SubscribeEvents(ctx context.Context, mask ...string) (*controlif.Subscription, error)
	Unsubscribe(ctx context.Context, sub *controlif.Subscription) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	client  Client
	clients *ClientRegistry
}

// NewHandlers creates the handler set.
func NewHandlers(client Client, clients *ClientRegistry) *Handlers {
	return &Handlers{client: client, clients: clients}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// apiError is the body of every failed gateway response.
type apiError struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, msg, detail string) {
	writeJSON(w, status, apiError{Error: msg, Detail: detail, RequestID: GetRequestID(r.Context())})
}

// writeError maps control interface errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, controlif.ErrConnection), errors.Is(err, controlif.ErrConnectionLost):
		status = http.StatusServiceUnavailable
	case errors.Is(err, controlif.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, controlif.ErrRequest):
		status = http.StatusBadGateway
	case errors.Is(err, controlif.ErrNotFound):
		status = http.StatusNotFound
	}
	writeProblem(w, r, status, msg, err.Error())
}

// masks collects the mask query parameters; each may hold a comma
// separated list.
func masks(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["mask"] {
		out = append(out, strings.Split(v, ",")...)
	}
	return statetree.NormalizeMask(lo.Compact(out))
}

// Healthz handles GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	state := h.client.State()
	status := http.StatusOK
	if state != controlif.Initialized {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"connection": state.String(),
		"ws_clients": h.clients.Len(),
	})
}

// GetState handles GET /api/v1/state?mask=...&cached=true
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	mask := masks(r)
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		writeJSON(w, http.StatusOK, h.client.Snapshot(mask...))
		return
	}

	state, err := h.client.GetState(r.Context(), mask...)
	if err != nil {
		writeError(w, r, "Failed to read state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetWorkloadStates handles GET /api/v1/workloads/states?agent=&workload=
func (h *Handlers) GetWorkloadStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.client.GetWorkloadStates(r.Context())
	if err != nil {
		writeError(w, r, "Failed to read workload states", err)
		return
	}

	agent := r.URL.Query().Get("agent")
	name := r.URL.Query().Get("workload")
	list := lo.Filter(states.AsList(), func(ws workloadstate.WorkloadState, _ int) bool {
		return (agent == "" || ws.Instance.AgentName == agent) &&
			(name == "" || ws.Instance.WorkloadName == name)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"workloadStates": list})
}
