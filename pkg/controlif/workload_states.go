// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"fmt"

	"github.com/noldarim/wlctl/pkg/controlif/statehub"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// GetWorkloadStates reads the execution state of every instance.
func (c *Client) GetWorkloadStates(ctx context.Context) (*workloadstate.Collection, error) {
	state, err := c.GetState(ctx, workloadstate.RootPath)
	if err != nil {
		return nil, err
	}
	return workloadstate.CollectionFromTree(state), nil
}

// GetWorkloadStatesOnAgent reads the execution states of the instances
// running on agent.
func (c *Client) GetWorkloadStatesOnAgent(ctx context.Context, agent string) (*workloadstate.Collection, error) {
	state, err := c.GetState(ctx, statetree.JoinPath(workloadstate.RootPath, agent))
	if err != nil {
		return nil, err
	}
	return workloadstate.CollectionFromTree(state), nil
}

// GetWorkloadStatesForName reads the execution states of every instance of
// the workload called name, whatever agent runs it.
func (c *Client) GetWorkloadStatesForName(ctx context.Context, name string) (*workloadstate.Collection, error) {
	all, err := c.GetWorkloadStates(ctx)
	if err != nil {
		return nil, err
	}
	out := workloadstate.NewCollection()
	for _, ws := range all.ForWorkload(name) {
		out.Add(ws)
	}
	return out, nil
}

// GetExecutionStateForInstanceName reads the execution state of one
// instance. It fails with ErrNotFound when the orchestrator does not know
// the instance.
func (c *Client) GetExecutionStateForInstanceName(ctx context.Context, i workloadstate.InstanceName) (workloadstate.ExecutionState, error) {
	state, err := c.GetState(ctx, i.FilterMask())
	if err != nil {
		return workloadstate.ExecutionState{}, err
	}
	n, ok := state.Lookup(i.FilterMask())
	if !ok {
		return workloadstate.ExecutionState{}, fmt.Errorf("instance %s: %w", i, ErrNotFound)
	}
	return workloadstate.ParseExecutionState(n)
}

// WaitForWorkloadToReachState blocks until instance i is in state, whatever
// the substate. It returns at once when the state is already known to
// hold, and fails with ErrTimeout when ctx's deadline, or the client
// timeout when ctx has none, passes first.
func (c *Client) WaitForWorkloadToReachState(ctx context.Context, i workloadstate.InstanceName, state workloadstate.State) error {
	_, err := c.Await(ctx, statehub.Instance(i), statehub.StateIs(state))
	return err
}

// Await blocks until an instance selected by target satisfies pred. The
// matching instance is read from the orchestrator once after the waiter is
// registered, so a state reached before the call is not missed; later
// changes arrive through notifications and subscriptions.
func (c *Client) Await(ctx context.Context, target statehub.Target, pred statehub.Predicate) (statehub.Result, error) {
	s, err := c.session()
	if err != nil {
		return statehub.Result{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	deadline, _ := ctx.Deadline()
	w := s.hub.Register(target, pred, deadline)
	defer func() { c.opts.metrics.waiterDone(w.State().String()) }()

	if w.State() == statehub.WaiterPending {
		c.refresh(ctx, s, target)
	}
	res, err := w.Wait(ctx)
	if err != nil {
		c.log.Debug().Err(err).Str("target", target.String()).Msg("Wait ended without a match")
		return statehub.Result{}, err
	}
	c.log.Debug().
		Str("instance", res.Instance.String()).
		Str("state", res.State.String()).
		Msg("Workload reached state")
	return res, nil
}

// refresh reads the execution states a waiter for target depends on. The
// cache update evaluates the waiter; errors only mean the waiter relies on
// later notifications.
func (c *Client) refresh(ctx context.Context, s *session, target statehub.Target) {
	mask := workloadstate.RootPath
	if i, ok := target.Single(); ok {
		mask = i.FilterMask()
	}
	if _, err := c.getState(ctx, s, []string{mask}); err != nil {
		c.log.Debug().Err(err).Str("mask", mask).Msg("Could not refresh execution states")
	}
}
