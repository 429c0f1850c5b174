// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package statehub keeps the client's view of the orchestrator state and
// wakes the waiters interested in execution state changes.
package statehub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// Hub owns the cached state document and the pending waiters.
type Hub struct {
	mu      sync.Mutex
	cache   *statetree.Node
	waiters map[uint64]*Waiter
	nextID  uint64
	closed  error
	log     zerolog.Logger
}

// New returns a hub with an empty cache.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		cache:   statetree.NewMapping(),
		waiters: make(map[uint64]*Waiter),
		log:     log,
	}
}

// Apply merges an unsolicited update into the cache, drops the removed
// paths and evaluates the waiters against every instance the update
// carries.
func (h *Hub) Apply(note *wire.Notification) {
	if note == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cache = statetree.Merge(h.cache, note.State)
	for _, path := range note.Altered.Removed {
		h.cache.DeletePath(path)
	}
	h.evaluate(workloadstate.CollectionFromTree(note.State).AsList())

	h.log.Debug().
		Int("added", len(note.Altered.Added)).
		Int("updated", len(note.Altered.Updated)).
		Int("removed", len(note.Altered.Removed)).
		Msg("Applied state notification")
}

// Overlay installs a state answer that is authoritative for the paths in
// mask and evaluates the waiters against the instances it carries.
func (h *Hub) Overlay(state *statetree.Node, mask []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cache = statetree.Overlay(h.cache, state, mask)
	h.evaluate(workloadstate.CollectionFromTree(state).AsList())
}

// evaluate must be called with h.mu held. Each waiter is tested at most
// once per instance of the update and finishes on the first match.
func (h *Hub) evaluate(update []workloadstate.WorkloadState) {
	if len(update) == 0 || len(h.waiters) == 0 {
		return
	}
	for id, w := range h.waiters {
		for _, ws := range update {
			if !w.target.Matches(ws.Instance) {
				continue
			}
			es, ok := h.executionState(ws.Instance)
			if !ok || !w.pred(es) {
				continue
			}
			if w.finish(WaiterSatisfied, Result{Instance: ws.Instance, State: es}, nil) {
				h.log.Debug().
					Str("instance", ws.Instance.String()).
					Str("state", es.String()).
					Msg("Waiter satisfied")
			}
			delete(h.waiters, id)
			break
		}
	}
}

// executionState must be called with h.mu held.
func (h *Hub) executionState(i workloadstate.InstanceName) (workloadstate.ExecutionState, bool) {
	n, ok := h.cache.Lookup(i.FilterMask())
	if !ok || !n.IsMapping() {
		return workloadstate.ExecutionState{}, false
	}
	es, err := workloadstate.ParseExecutionState(n)
	if err != nil {
		h.log.Warn().Err(err).Str("instance", i.String()).Msg("Unexpected execution state")
	}
	return es, true
}

// Snapshot returns a copy of the cached state restricted to mask.
func (h *Hub) Snapshot(mask ...string) *statetree.Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statetree.Filter(h.cache, mask)
}

// ExecutionState returns the cached state of one instance.
func (h *Hub) ExecutionState(i workloadstate.InstanceName) (workloadstate.ExecutionState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executionState(i)
}

// Instances returns every cached execution state.
func (h *Hub) Instances() *workloadstate.Collection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return workloadstate.CollectionFromTree(h.cache)
}

// Register adds a waiter for target. The cache is checked first, so a
// waiter whose condition already holds is returned satisfied. A zero
// deadline waits until the waiter is cancelled or the hub fails.
func (h *Hub) Register(target Target, pred Predicate, deadline time.Time) *Waiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	w := newWaiter(h, h.nextID, target, pred)

	if h.closed != nil {
		w.finish(WaiterFailed, Result{}, h.closed)
		return w
	}
	if res, ok := h.precheck(target, pred); ok {
		w.finish(WaiterSatisfied, res, nil)
		return w
	}

	h.waiters[w.id] = w
	if !deadline.IsZero() {
		// expire blocks on h.mu until Register returns.
		w.mu.Lock()
		w.timer = time.AfterFunc(time.Until(deadline), w.expire)
		w.mu.Unlock()
	}
	return w
}

// precheck must be called with h.mu held.
func (h *Hub) precheck(target Target, pred Predicate) (Result, bool) {
	if !target.any {
		es, ok := h.executionState(target.instance)
		if ok && pred(es) {
			return Result{Instance: target.instance, State: es}, true
		}
		return Result{}, false
	}
	for _, ws := range workloadstate.CollectionFromTree(h.cache).AsList() {
		if pred(ws.State) {
			return Result{Instance: ws.Instance, State: ws.State}, true
		}
	}
	return Result{}, false
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.waiters, id)
	h.mu.Unlock()
}

// FailAll finishes every pending waiter with err and makes later
// registrations fail at once. err is wrapped so that it matches
// errdefs.ErrConnectionLost.
func (h *Hub) FailAll(err error) int {
	err = errdefs.Lost(err)

	h.mu.Lock()
	if h.closed == nil {
		h.closed = err
	}
	pending := h.waiters
	h.waiters = make(map[uint64]*Waiter)
	h.mu.Unlock()

	failed := 0
	for _, w := range pending {
		if w.finish(WaiterFailed, Result{}, err) {
			failed++
		}
	}
	return failed
}

// Pending returns the number of waiters still registered.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}
