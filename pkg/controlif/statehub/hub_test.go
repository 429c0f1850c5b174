// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package statehub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

var nginx = workloadstate.InstanceName{AgentName: "agent_A", WorkloadName: "nginx", WorkloadID: "1234"}

func stateUpdate(i workloadstate.InstanceName, state, sub string) *statetree.Node {
	n := statetree.NewMapping()
	_ = n.SetPath(i.FilterMask(), statetree.MustFromAny(map[string]any{
		"state": state, "subState": sub, "additionalInfo": "",
	}))
	return n
}

func notify(i workloadstate.InstanceName, state, sub string) *wire.Notification {
	return &wire.Notification{
		State:   stateUpdate(i, state, sub),
		Altered: wire.AlteredFields{Updated: []string{i.FilterMask()}},
	}
}

func TestApply_MergesAndRemoves(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Apply(notify(nginx, "Pending", "Starting"))

	other := workloadstate.InstanceName{AgentName: "agent_B", WorkloadName: "db", WorkloadID: "1"}
	hub.Apply(notify(other, "Running", "Ok"))

	es, ok := hub.ExecutionState(nginx)
	require.True(t, ok)
	assert.Equal(t, workloadstate.Pending, es.State)
	assert.Equal(t, 2, hub.Instances().Len())

	hub.Apply(&wire.Notification{
		State:   statetree.NewMapping(),
		Altered: wire.AlteredFields{Removed: []string{other.FilterMask()}},
	})
	_, ok = hub.ExecutionState(other)
	assert.False(t, ok)
	assert.Equal(t, 1, hub.Instances().Len())
}

func TestOverlay(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Apply(notify(nginx, "Running", "Ok"))

	answer := stateUpdate(workloadstate.InstanceName{AgentName: "agent_B", WorkloadName: "db", WorkloadID: "7"}, "Running", "Ok")
	hub.Overlay(answer, []string{"workloadStates"})

	_, ok := hub.ExecutionState(nginx)
	assert.False(t, ok, "answer is authoritative for the masked subtree")
	assert.Equal(t, 1, hub.Instances().Len())
}

func TestSnapshot(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Apply(notify(nginx, "Running", "Ok"))

	snap := hub.Snapshot("workloadStates.agent_A.nginx.1234.state")
	assert.JSONEq(t, `{"workloadStates":{"agent_A":{"nginx":{"1234":{"state":"Running"}}}}}`, snap.String())

	require.NoError(t, snap.SetPath("workloadStates.agent_A.nginx.1234.state", statetree.NewString("Failed")))
	es, _ := hub.ExecutionState(nginx)
	assert.Equal(t, workloadstate.Running, es.State, "snapshot is a copy")
}

func TestWaiter_PrecheckSatisfiesImmediately(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Apply(notify(nginx, "Running", "Ok"))

	w := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})
	assert.Equal(t, WaiterSatisfied, w.State())
	assert.Zero(t, hub.Pending())

	res, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, nginx, res.Instance)
}

func TestWaiter_SatisfiedByNotification(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Apply(notify(nginx, "Pending", "Starting"))

	w := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})
	require.Equal(t, WaiterPending, w.State())

	hub.Apply(notify(workloadstate.InstanceName{AgentName: "agent_A", WorkloadName: "other", WorkloadID: "1"}, "Running", "Ok"))
	assert.Equal(t, WaiterPending, w.State(), "other instances do not satisfy the waiter")

	go hub.Apply(notify(nginx, "Running", "Ok"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, workloadstate.Running, res.State.State)
	assert.Equal(t, WaiterSatisfied, w.State())
	assert.Zero(t, hub.Pending())
}

func TestWaiter_AnyTarget(t *testing.T) {
	hub := New(zerolog.Nop())
	w := hub.Register(Any, StateIs(workloadstate.Failed), time.Time{})

	update := stateUpdate(nginx, "Running", "Ok")
	failed := workloadstate.InstanceName{AgentName: "agent_B", WorkloadName: "db", WorkloadID: "9"}
	_ = update.SetPath(failed.FilterMask(), statetree.MustFromAny(map[string]any{"state": "Failed", "subState": "ExecFailed"}))
	hub.Apply(&wire.Notification{State: update})

	res, err := w.Result()
	require.NoError(t, err)
	assert.Equal(t, failed, res.Instance)
}

func TestWaiter_OverlaySatisfies(t *testing.T) {
	hub := New(zerolog.Nop())
	w := hub.Register(Instance(nginx), StateIs(workloadstate.Succeeded), time.Time{})

	hub.Overlay(stateUpdate(nginx, "Succeeded", "Ok"), []string{nginx.FilterMask()})

	assert.Equal(t, WaiterSatisfied, w.State())
}

func TestWaiter_Deadline(t *testing.T) {
	hub := New(zerolog.Nop())
	w := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Now().Add(20*time.Millisecond))

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("waiter did not time out")
	}
	assert.Equal(t, WaiterTimedOut, w.State())
	_, err := w.Result()
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.Eventually(t, func() bool { return hub.Pending() == 0 }, time.Second, 5*time.Millisecond)

	hub.Apply(notify(nginx, "Running", "Ok"))
	assert.Equal(t, WaiterTimedOut, w.State(), "terminal states are irreversible")
}

func TestWaiter_ContextEnds(t *testing.T) {
	t.Run("deadline times out", func(t *testing.T) {
		hub := New(zerolog.Nop())
		w := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := w.Wait(ctx)
		assert.ErrorIs(t, err, errdefs.ErrTimeout)
		assert.Equal(t, WaiterTimedOut, w.State())
		assert.Zero(t, hub.Pending())
	})

	t.Run("cancel cancels", func(t *testing.T) {
		hub := New(zerolog.Nop())
		w := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := w.Wait(ctx)
		assert.ErrorIs(t, err, errdefs.ErrCancelled)
		assert.Equal(t, WaiterCancelled, w.State())
		assert.Zero(t, hub.Pending())
		assert.False(t, w.Cancel())
	})
}

func TestFailAll(t *testing.T) {
	hub := New(zerolog.Nop())
	w1 := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})
	w2 := hub.Register(Any, StateIs(workloadstate.Removed), time.Now().Add(time.Hour))

	cause := errors.New("eof")
	assert.Equal(t, 2, hub.FailAll(cause))

	for _, w := range []*Waiter{w1, w2} {
		assert.Equal(t, WaiterFailed, w.State())
		_, err := w.Result()
		assert.ErrorIs(t, err, errdefs.ErrConnectionLost)
	}

	late := hub.Register(Instance(nginx), StateIs(workloadstate.Running), time.Time{})
	assert.Equal(t, WaiterFailed, late.State())
}

func TestWaiterStateString(t *testing.T) {
	assert.Equal(t, "timed_out", WaiterTimedOut.String())
	assert.Equal(t, "any", Any.String())
	assert.Equal(t, "nginx.1234.agent_A", Instance(nginx).String())
}
