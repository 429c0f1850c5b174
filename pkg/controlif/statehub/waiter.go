// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package statehub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// Target selects the instances a waiter observes.
type Target struct {
	instance workloadstate.InstanceName
	any      bool
}

// Any matches every instance.
var Any = Target{any: true}

// Instance matches exactly one instance.
func Instance(i workloadstate.InstanceName) Target {
	return Target{instance: i}
}

// Matches reports whether i is selected by t.
func (t Target) Matches(i workloadstate.InstanceName) bool {
	return t.any || t.instance == i
}

// Single returns the instance of a target made with Instance.
func (t Target) Single() (workloadstate.InstanceName, bool) {
	return t.instance, !t.any
}

func (t Target) String() string {
	if t.any {
		return "any"
	}
	return t.instance.String()
}

// Predicate decides whether an observed state satisfies a waiter.
type Predicate func(workloadstate.ExecutionState) bool

// StateIs is satisfied once the instance reaches s, whatever the substate.
func StateIs(s workloadstate.State) Predicate {
	return func(es workloadstate.ExecutionState) bool { return es.State == s }
}

// WaiterState is the lifecycle state of a waiter. Every state but Pending
// is terminal.
type WaiterState int

const (
	WaiterPending WaiterState = iota
	WaiterSatisfied
	WaiterTimedOut
	WaiterCancelled
	WaiterFailed
)

func (s WaiterState) String() string {
	switch s {
	case WaiterPending:
		return "pending"
	case WaiterSatisfied:
		return "satisfied"
	case WaiterTimedOut:
		return "timed_out"
	case WaiterCancelled:
		return "cancelled"
	case WaiterFailed:
		return "failed"
	default:
		return fmt.Sprintf("WaiterState(%d)", int(s))
	}
}

// Result is the observation that satisfied a waiter.
type Result struct {
	Instance workloadstate.InstanceName
	State    workloadstate.ExecutionState
}

// Waiter is the completion handle returned by Hub.Register.
type Waiter struct {
	id     uint64
	hub    *Hub
	target Target
	pred   Predicate
	timer  *time.Timer
	done   chan struct{}

	mu     sync.Mutex
	state  WaiterState
	result Result
	err    error
}

func newWaiter(h *Hub, id uint64, target Target, pred Predicate) *Waiter {
	return &Waiter{
		id:     id,
		hub:    h,
		target: target,
		pred:   pred,
		done:   make(chan struct{}),
	}
}

// finish moves a pending waiter to a terminal state. It never touches the
// hub's lock so the hub can call it while holding its own.
func (w *Waiter) finish(state WaiterState, res Result, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WaiterPending {
		return false
	}
	w.state = state
	w.result = res
	w.err = err
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	return true
}

func (w *Waiter) abandon(state WaiterState, err error) bool {
	if !w.finish(state, Result{}, err) {
		return false
	}
	if w.hub != nil {
		w.hub.remove(w.id)
	}
	return true
}

func (w *Waiter) expire() {
	w.abandon(WaiterTimedOut, fmt.Errorf("waiting for %s: %w", w.target, errdefs.ErrTimeout))
}

// Done is closed once the waiter reached a terminal state.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// State returns the current lifecycle state.
func (w *Waiter) State() WaiterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Result returns the satisfying observation, or the error of a waiter that
// ended any other way. It must only be called after Done is closed.
func (w *Waiter) Result() (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.err
}

// Cancel abandons the waiter. It reports false when the waiter had already
// finished.
func (w *Waiter) Cancel() bool {
	return w.abandon(WaiterCancelled, fmt.Errorf("waiting for %s: %w", w.target, errdefs.ErrCancelled))
}

// Wait blocks until the waiter finishes or ctx ends. A context deadline
// turns the waiter TimedOut, any other cancellation turns it Cancelled. An
// outcome reached concurrently with the context ending wins.
func (w *Waiter) Wait(ctx context.Context) (Result, error) {
	select {
	case <-w.done:
		return w.Result()
	case <-ctx.Done():
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		w.expire()
	} else {
		w.Cancel()
	}
	<-w.done
	return w.Result()
}
