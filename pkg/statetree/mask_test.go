// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package statetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(t *testing.T) *Node {
	t.Helper()
	n, err := ParseYAML([]byte(`
desiredState:
  apiVersion: v1
  workloads:
    nginx:
      agent: agent_A
      runtime: podman
      tags:
        - key: owner
          value: team
    dynamic:
      agent: agent_B
      runtime: podman
  configs:
    port: "8080"
workloadStates:
  agent_A:
    nginx:
      "1234":
        state: Running
        subState: Ok
        additionalInfo: ""
agents:
  agent_A:
    tags:
      location: lab
`))
	require.NoError(t, err)
	return n
}

func TestFilter(t *testing.T) {
	state := sampleState(t)

	tests := []struct {
		name     string
		mask     []string
		expected string
	}{
		{
			name:     "empty mask returns the whole document",
			mask:     nil,
			expected: state.String(),
		},
		{
			name:     "single subtree",
			mask:     []string{"desiredState.configs"},
			expected: `{"desiredState":{"configs":{"port":"8080"}}}`,
		},
		{
			name:     "leaf path",
			mask:     []string{"workloadStates.agent_A.nginx.1234.state"},
			expected: `{"workloadStates":{"agent_A":{"nginx":{"1234":{"state":"Running"}}}}}`,
		},
		{
			name:     "unresolved path contributes nothing",
			mask:     []string{"desiredState.workloads.missing"},
			expected: `{}`,
		},
		{
			name:     "mix of resolved and unresolved paths",
			mask:     []string{"agents.agent_B", "agents.agent_A.tags"},
			expected: `{"agents":{"agent_A":{"tags":{"location":"lab"}}}}`,
		},
		{
			name:     "overlapping paths keep the wider subtree",
			mask:     []string{"desiredState.workloads.nginx.agent", "desiredState.workloads.nginx"},
			expected: `{"desiredState":{"workloads":{"nginx":{"agent":"agent_A","runtime":"podman","tags":[{"key":"owner","value":"team"}]}}}}`,
		},
		{
			name:     "path through a scalar does not resolve",
			mask:     []string{"desiredState.apiVersion.major"},
			expected: `{}`,
		},
		{
			name:     "empty path selects the root",
			mask:     []string{""},
			expected: state.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(state, tt.mask)
			assert.JSONEq(t, tt.expected, got.String())
		})
	}
}

func TestFilter_Idempotent(t *testing.T) {
	state := sampleState(t)
	masks := [][]string{
		nil,
		{"workloadStates"},
		{"desiredState.workloads.nginx", "desiredState.workloads.nginx.tags"},
		{"agents.agent_A.tags.location", "nope"},
		{"desiredState.configs", "workloadStates.agent_A.nginx.1234"},
	}
	for _, mask := range masks {
		once := Filter(state, mask)
		twice := Filter(once, mask)
		assert.True(t, once.Equal(twice), "mask %v: %s != %s", mask, once, twice)
	}
}

func TestFilter_DoesNotModifyInput(t *testing.T) {
	state := sampleState(t)
	before := state.Clone()

	out := Filter(state, []string{"desiredState.workloads"})
	require.NoError(t, out.SetPath("desiredState.workloads.nginx.agent", NewString("changed")))

	assert.True(t, before.Equal(state))
}

func TestMerge(t *testing.T) {
	t.Run("patch replaces matching leaves and keeps the rest", func(t *testing.T) {
		cache := sampleState(t)
		patch := MustFromAny(map[string]any{
			"workloadStates": map[string]any{
				"agent_A": map[string]any{
					"nginx": map[string]any{
						"1234": map[string]any{"state": "Stopping", "subState": "WaitingToStop"},
					},
				},
			},
		})

		merged := Merge(cache, patch)

		state, ok := merged.Lookup("workloadStates.agent_A.nginx.1234.state")
		require.True(t, ok)
		assert.Equal(t, "Stopping", state.Scalar())
		info, ok := merged.Lookup("workloadStates.agent_A.nginx.1234.additionalInfo")
		require.True(t, ok)
		assert.Equal(t, "", info.Scalar())
		_, ok = merged.Lookup("desiredState.configs.port")
		assert.True(t, ok)

		// input untouched
		orig, _ := cache.Lookup("workloadStates.agent_A.nginx.1234.state")
		assert.Equal(t, "Running", orig.Scalar())
	})

	t.Run("sequences are replaced as a whole", func(t *testing.T) {
		cache := MustFromAny(map[string]any{"args": []any{"a", "b", "c"}})
		patch := MustFromAny(map[string]any{"args": []any{"x"}})

		merged := Merge(cache, patch)

		assert.JSONEq(t, `{"args":["x"]}`, merged.String())
	})

	t.Run("kind mismatch replaces", func(t *testing.T) {
		cache := MustFromAny(map[string]any{"a": map[string]any{"b": 1}})
		patch := MustFromAny(map[string]any{"a": "flat"})

		assert.JSONEq(t, `{"a":"flat"}`, Merge(cache, patch).String())
	})

	t.Run("new keys are added", func(t *testing.T) {
		cache := MustFromAny(map[string]any{"a": 1})
		patch := MustFromAny(map[string]any{"b": 2})

		assert.JSONEq(t, `{"a":1,"b":2}`, Merge(cache, patch).String())
	})

	t.Run("merging the same patch twice is stable", func(t *testing.T) {
		cache := sampleState(t)
		patch := MustFromAny(map[string]any{"agents": map[string]any{"agent_B": map[string]any{}}})

		once := Merge(cache, patch)
		assert.True(t, once.Equal(Merge(once, patch)))
	})

	t.Run("nil inputs", func(t *testing.T) {
		patch := MustFromAny(map[string]any{"a": 1})
		assert.True(t, patch.Equal(Merge(nil, patch)))
		assert.True(t, patch.Equal(Merge(patch, nil)))
	})
}

func TestOverlay(t *testing.T) {
	cache := sampleState(t)
	answer := MustFromAny(map[string]any{
		"workloadStates": map[string]any{
			"agent_B": map[string]any{
				"dynamic": map[string]any{
					"99": map[string]any{"state": "Pending", "subState": "Starting"},
				},
			},
		},
	})

	out := Overlay(cache, answer, []string{"workloadStates", "desiredState.configs.port"})

	_, ok := out.Lookup("workloadStates.agent_A")
	assert.False(t, ok, "masked subtree must be replaced, not merged")
	_, ok = out.Lookup("workloadStates.agent_B.dynamic.99")
	assert.True(t, ok)
	_, ok = out.Lookup("desiredState.configs.port")
	assert.False(t, ok, "path absent from the answer is deleted")
	_, ok = out.Lookup("desiredState.workloads.nginx")
	assert.True(t, ok, "paths outside the mask are kept")

	t.Run("empty mask replaces everything", func(t *testing.T) {
		assert.True(t, answer.Equal(Overlay(cache, answer, nil)))
	})
}

func TestNormalizeMask(t *testing.T) {
	tests := []struct {
		name     string
		in       []string
		expected []string
	}{
		{"nil", nil, []string{}},
		{"dedupe", []string{"a.b", "a.b"}, []string{"a.b"}},
		{"covered by prefix", []string{"a.b.c", "a.b", "a.bc"}, []string{"a.b", "a.bc"}},
		{"trims separators", []string{".a.", "a"}, []string{"a"}},
		{"empty path wins", []string{"a", ""}, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMask(tt.in))
		})
	}
}

func TestCovers(t *testing.T) {
	assert.True(t, Covers(nil, "anything"))
	assert.True(t, Covers([]string{"workloadStates"}, "workloadStates.agent_A"))
	assert.True(t, Covers([]string{"workloadStates.agent_A"}, "workloadStates.agent_A"))
	assert.False(t, Covers([]string{"workloadStates.agent_A"}, "workloadStates"))
	assert.False(t, Covers([]string{"workload"}, "workloadStates"))
}

func TestLeafPaths(t *testing.T) {
	n := MustFromAny(map[string]any{
		"a": map[string]any{"b": 1, "c": []any{1, 2}},
		"d": map[string]any{},
	})
	assert.Equal(t, []string{"a.b", "a.c", "d"}, LeafPaths(n))
}
