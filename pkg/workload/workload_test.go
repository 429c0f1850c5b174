// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/pkg/statetree"
)

func TestMasks(t *testing.T) {
	t.Run("new workload selects the whole definition", func(t *testing.T) {
		w := New("nginx")
		w.SetAgent("agent_A")
		w.AddTag("owner", "team")
		assert.Equal(t, []string{"desiredState.workloads.nginx"}, w.Masks())
	})

	tests := []struct {
		name     string
		edit     func(w *Workload)
		expected []string
	}{
		{
			name: "one mask per field",
			edit: func(w *Workload) {
				w.SetAgent("agent_B")
				w.SetRuntime("podman")
				require.NoError(t, w.SetRestartPolicy("ON_FAILURE"))
			},
			expected: []string{
				"desiredState.workloads.nginx.agent",
				"desiredState.workloads.nginx.runtime",
				"desiredState.workloads.nginx.restartPolicy",
			},
		},
		{
			name: "repeated field is recorded once",
			edit: func(w *Workload) {
				w.SetAgent("a")
				w.SetAgent("b")
			},
			expected: []string{"desiredState.workloads.nginx.agent"},
		},
		{
			name: "tags mask replaces individual tag masks",
			edit: func(w *Workload) {
				w.AddTag("a", "1")
				w.SetTags(map[string]string{"b": "2"})
				w.AddTag("c", "3")
			},
			expected: []string{"desiredState.workloads.nginx.tags"},
		},
		{
			name: "individual tags",
			edit: func(w *Workload) {
				w.AddTag("a", "1")
				w.AddTag("b", "2")
			},
			expected: []string{
				"desiredState.workloads.nginx.tags.a",
				"desiredState.workloads.nginx.tags.b",
			},
		},
		{
			name: "configs mask collapses config aliases",
			edit: func(w *Workload) {
				w.AddConfig("web", "web_config")
				w.AddConfig("db", "db_config")
				w.SetConfigs(map[string]string{"x": "y"})
				w.AddConfig("z", "w")
			},
			expected: []string{"desiredState.workloads.nginx.configs"},
		},
		{
			name: "access rules",
			edit: func(w *Workload) {
				require.NoError(t, w.SetAllowRules([]Rule{{Operation: OpRead, FilterMask: []string{"workloadStates"}}}))
				require.NoError(t, w.SetDenyRules(nil))
			},
			expected: []string{
				"desiredState.workloads.nginx.controlInterfaceAccess.allowRules",
				"desiredState.workloads.nginx.controlInterfaceAccess.denyRules",
			},
		},
		{
			name: "files",
			edit: func(w *Workload) {
				w.AddFile(TextFile("/etc/a", "a"))
				w.AddFile(TextFile("/etc/b", "b"))
			},
			expected: []string{"desiredState.workloads.nginx.files"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := existing(t)
			tt.edit(w)
			assert.Equal(t, tt.expected, w.Masks())
		})
	}
}

func existing(t *testing.T) *Workload {
	t.Helper()
	w, err := FromNode("nginx", statetree.MustFromAny(map[string]any{
		"agent": "agent_A", "runtime": "podman", "runtimeConfig": "image: nginx",
	}))
	require.NoError(t, err)
	require.Empty(t, w.Masks())
	return w
}

func TestRename(t *testing.T) {
	w := existing(t)
	w.SetAgent("x")
	w.Rename("other")
	assert.Equal(t, "other", w.Name())
	assert.Equal(t, []string{"desiredState.workloads.other"}, w.Masks())
}

func TestFieldValidation(t *testing.T) {
	w := New("nginx")

	var ve ValidationError
	require.True(t, errors.As(w.SetRestartPolicy("SOMETIMES"), &ve))
	assert.Equal(t, FieldRestartPolicy, ve.Field)

	assert.Error(t, w.SetDependencies(map[string]string{"db": "ADD_COND_MAYBE"}))
	assert.Empty(t, w.Dependencies(), "invalid dependencies leave the workload unchanged")

	assert.Error(t, w.SetAllowRules([]Rule{{Operation: "Delete"}}))
	assert.Nil(t, w.AllowRules())

	require.NoError(t, w.SetDependencies(map[string]string{"db": "ADD_COND_RUNNING"}))
	assert.Equal(t, map[string]AddCondition{"db": AddCondRunning}, w.Dependencies())
}

func TestBuilder(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		w, err := NewBuilder().
			Name("nginx").
			Agent("agent_A").
			Runtime("podman").
			RuntimeConfig("image: docker.io/nginx").
			RestartPolicy("ALWAYS").
			Dependency("db", "ADD_COND_SUCCEEDED").
			Tag("owner", "team").
			AllowRule(OpReadWrite, "desiredState.workloads.nginx").
			DenyRule(OpWrite, "desiredState.configs").
			Config("web", "web_config").
			File(TextFile("/etc/nginx/index.html", "<html/>")).
			Build()
		require.NoError(t, err)

		assert.Equal(t, []string{"desiredState.workloads.nginx"}, w.Masks())
		assert.Equal(t, RestartAlways, w.RestartPolicy())
		assert.Len(t, w.AllowRules(), 1)
		assert.Len(t, w.DenyRules(), 1)
		assert.Equal(t, map[string]string{"web": "web_config"}, w.Configs())
	})

	t.Run("reports every missing field", func(t *testing.T) {
		_, err := NewBuilder().Name("nginx").Build()
		require.Error(t, err)

		var errs ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.False(t, errs.Has("name"))
		assert.True(t, errs.Has(FieldAgent))
		assert.True(t, errs.Has(FieldRuntime))
		assert.True(t, errs.Has(FieldRuntimeConfig))
	})

	t.Run("invalid field values", func(t *testing.T) {
		_, err := NewBuilder().
			Name("nginx").Agent("agent_A").Runtime("podman").RuntimeConfig("x").
			RestartPolicy("NOPE").
			Build()
		assert.Error(t, err)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := NewBuilder().Name("bad name").Agent("agent_A").Runtime("podman").RuntimeConfig("x").Build()
		var errs ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.True(t, errs.Has("name"))
	})

	t.Run("runtime config from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("image: alpine"), 0o600))

		w, err := NewBuilder().Name("a").Agent("b").Runtime("podman").RuntimeConfigFromFile(path).Build()
		require.NoError(t, err)
		assert.Equal(t, "image: alpine", w.RuntimeConfig())

		_, err = NewBuilder().Name("a").Agent("b").Runtime("podman").RuntimeConfig("x").
			RuntimeConfigFromFile(filepath.Join(t.TempDir(), "missing")).Build()
		assert.Error(t, err)
	})
}

func TestNodeRoundTrip(t *testing.T) {
	src, err := statetree.ParseYAML([]byte(`
agent: agent_A
runtime: podman
runtimeConfig: |
  image: docker.io/nginx
restartPolicy: ON_FAILURE
dependencies:
  db: ADD_COND_RUNNING
tags:
  owner: team
controlInterfaceAccess:
  allowRules:
    - type: StateRule
      operation: Read
      filterMask:
        - workloadStates
  denyRules: []
configs:
  web: web_config
files:
  - mountPoint: /etc/motd
    data: hello
  - mountPoint: /bin/tool
    binaryData: aGVsbG8=
`))
	require.NoError(t, err)

	w, err := FromNode("nginx", src)
	require.NoError(t, err)
	assert.Equal(t, "agent_A", w.Agent())
	assert.Equal(t, RestartOnFailure, w.RestartPolicy())
	assert.Equal(t, []Rule{{Operation: OpRead, FilterMask: []string{"workloadStates"}}}, w.AllowRules())
	require.Len(t, w.Files(), 2)
	assert.True(t, w.Files()[1].IsBinary())
	require.NoError(t, w.Validate())

	assert.True(t, src.Equal(w.ToNode()), "%s != %s", src, w.ToNode())
}

func TestFromNode_LegacyTagList(t *testing.T) {
	w, err := FromNode("nginx", statetree.MustFromAny(map[string]any{
		"tags": []any{map[string]any{"key": "owner", "value": "team"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "team"}, w.Tags())
}

func TestFromNode_Errors(t *testing.T) {
	_, err := FromNode("nginx", statetree.MustFromAny(map[string]any{
		"agent":         1,
		"restartPolicy": "SOMETIMES",
		"files":         []any{map[string]any{"data": "x"}},
	}))
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.True(t, errs.Has(FieldAgent))
	assert.True(t, errs.Has(FieldRestartPolicy))
	assert.True(t, errs.Has(FieldFiles))

	_, err = FromNode("nginx", statetree.NewString("x"))
	assert.Error(t, err)
}

func TestFileValidation(t *testing.T) {
	assert.Nil(t, BinaryFile("/bin/x", []byte{0, 1, 2}).validate())
	assert.NotNil(t, File{MountPoint: "/x", Data: "a", BinaryData: "YQ=="}.validate())
	assert.NotNil(t, File{MountPoint: "/x", BinaryData: "%%%"}.validate())
	assert.NotNil(t, File{Data: "a"}.validate())
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "is required"},
		{Field: "b", Message: "is required"},
	}
	assert.Equal(t, "multiple validation errors: validation error for a: is required; validation error for b: is required", errs.Error())
	assert.Equal(t, "validation error for a: is required", errs[:1].Error())
	assert.Nil(t, ValidationErrors(nil).orNil())
}
