// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workloadstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/pkg/statetree"
)

func TestStateValid(t *testing.T) {
	tests := []struct {
		state State
		sub   SubState
		valid bool
	}{
		{Running, SubOk, true},
		{Succeeded, SubOk, true},
		{Pending, SubStartingFailed, true},
		{Stopping, SubDeleteFailed, true},
		{Failed, SubLost, true},
		{Removed, SubRemoved, true},
		{Running, SubStarting, false},
		{Failed, SubOk, false},
		{State("Exploded"), SubOk, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state)+"/"+string(tt.sub), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.state.Valid(tt.sub))
		})
	}
}

func TestParseState(t *testing.T) {
	for _, s := range States() {
		got, err := ParseState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.NotEmpty(t, s.SubStates())
	}
	_, err := ParseState("running")
	assert.Error(t, err)
}

func TestParseExecutionState(t *testing.T) {
	t.Run("valid pair", func(t *testing.T) {
		es, err := ParseExecutionState(statetree.MustFromAny(map[string]any{
			"state": "Failed", "subState": "ExecFailed", "additionalInfo": "exit 1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ExecutionState{State: Failed, SubState: SubExecFailed, AdditionalInfo: "exit 1"}, es)
		assert.Equal(t, "Failed(ExecFailed): exit 1", es.String())
	})

	t.Run("missing state means not scheduled", func(t *testing.T) {
		es, err := ParseExecutionState(statetree.NewMapping())
		require.NoError(t, err)
		assert.Equal(t, NotScheduled, es.State)
		assert.Equal(t, SubNotScheduled, es.SubState)
	})

	t.Run("invalid pair kept as received", func(t *testing.T) {
		es, err := ParseExecutionState(statetree.MustFromAny(map[string]any{"state": "Running", "subState": "Lost"}))
		assert.Error(t, err)
		assert.Equal(t, Running, es.State)
		assert.Equal(t, SubLost, es.SubState)
	})

	t.Run("not a mapping", func(t *testing.T) {
		_, err := ParseExecutionState(statetree.NewString("Running"))
		assert.Error(t, err)
	})
}

func TestInstanceName(t *testing.T) {
	i := InstanceName{AgentName: "agent_A", WorkloadName: "nginx", WorkloadID: "1234"}
	assert.Equal(t, "nginx.1234.agent_A", i.String())
	assert.Equal(t, "workloadStates.agent_A.nginx.1234", i.FilterMask())

	parsed, err := ParseInstanceName(i.String())
	require.NoError(t, err)
	assert.Equal(t, i, parsed)

	for _, bad := range []string{"", "nginx", "nginx.1234", "a.b.c.d", "nginx..agent"} {
		_, err := ParseInstanceName(bad)
		assert.Error(t, err, bad)
	}

	fromPath, ok := InstanceFromPath("workloadStates.agent_A.nginx.1234.state")
	require.True(t, ok)
	assert.Equal(t, i, fromPath)
	_, ok = InstanceFromPath("workloadStates.agent_A")
	assert.False(t, ok)
}

func TestCollectionFromTree(t *testing.T) {
	state, err := statetree.ParseYAML([]byte(`
workloadStates:
  agent_B:
    db:
      "9":
        state: Pending
        subState: Starting
        additionalInfo: ""
  agent_A:
    nginx:
      "2":
        state: Running
        subState: Ok
        additionalInfo: ""
      "1":
        state: Succeeded
        subState: Ok
        additionalInfo: ""
    broken: "not a mapping"
`))
	require.NoError(t, err)

	c := CollectionFromTree(state)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"agent_A", "agent_B"}, c.Agents())

	list := c.AsList()
	require.Len(t, list, 3)
	assert.Equal(t, "nginx.1.agent_A", list[0].Instance.String())
	assert.Equal(t, "nginx.2.agent_A", list[1].Instance.String())
	assert.Equal(t, "db.9.agent_B", list[2].Instance.String())

	assert.Len(t, c.OnAgent("agent_A"), 2)
	assert.Len(t, c.ForWorkload("db"), 1)

	es, ok := c.ForInstanceName(InstanceName{AgentName: "agent_B", WorkloadName: "db", WorkloadID: "9"})
	require.True(t, ok)
	assert.Equal(t, SubStarting, es.SubState)
	_, ok = c.ForInstanceName(InstanceName{AgentName: "agent_C", WorkloadName: "db", WorkloadID: "9"})
	assert.False(t, ok)

	back := CollectionFromTree(statetree.MustFromAny(map[string]any{RootPath: c.ToNode()}))
	assert.Equal(t, c.AsList(), back.AsList())

	assert.Zero(t, CollectionFromTree(statetree.NewMapping()).Len())
}
