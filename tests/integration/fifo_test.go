// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/internal/cli"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/test/testutil"
)

const cliConfig = `
control_interface:
  request_timeout: 2s
  connect_timeout: 2s
log:
  level: error
  output:
    - type: console
      enabled: false
`

// agent serves one client connection on the pipes in dir.
func agent(t *testing.T, dir string, orch *testutil.Orchestrator) <-chan *testutil.FakePeer {
	t.Helper()
	ch := make(chan *testutil.FakePeer, 1)
	go func() {
		r, w, err := testutil.OpenPeerEnds(dir)
		if err != nil {
			close(ch)
			return
		}
		ch <- testutil.ServeStreams(t, r, w, orch.Handle)
	}()
	return ch
}

type workspace struct {
	dir    string
	config string
	orch   *testutil.Orchestrator
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	config := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte(cliConfig), 0o600))
	return &workspace{
		dir:    testutil.MakeFIFOs(t),
		config: config,
		orch:   testutil.NewOrchestrator(testutil.SampleState(t)),
	}
}

func (w *workspace) wlctl(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--config", w.config, "--base-dir", w.dir, "-o", "json"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestApplyAndReadOverPipes(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	manifest := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(testutil.SampleManifestYAML), 0o600))

	peers := agent(t, w.dir, w.orch)
	out, err := w.wlctl(ctx, "apply", manifest)
	require.NoError(t, err)
	var res controlif.UpdateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Added, 1)
	assert.Equal(t, "hello", res.Added[0].WorkloadName)

	peer := <-peers
	require.NotNil(t, peer)
	require.Len(t, peer.Hellos(), 1)
	assert.Equal(t, controlif.DefaultProtocolVersion, peer.Hellos()[0].ProtocolVersion)

	// A second process sees the change.
	agent(t, w.dir, w.orch)
	out, err = w.wlctl(ctx, "get", "state", "desiredState.workloads.hello.agent")
	require.NoError(t, err)
	assert.JSONEq(t, `{"desiredState":{"workloads":{"hello":{"agent":"agent_A"}}}}`, out)
}

func TestWaitOverPipes(t *testing.T) {
	w := newWorkspace(t)
	w.orch.Set("workloadStates.agent_A.hello", statetree.MustFromAny(map[string]any{
		testutil.InstanceID: map[string]any{"state": "Pending", "subState": "Starting", "additionalInfo": ""},
	}))

	peers := agent(t, w.dir, w.orch)
	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = w.wlctl(context.Background(), "wait", "hello."+testutil.InstanceID+".agent_A", "Running", "--for", "5s")
		done <- err
	}()

	peer := <-peers
	require.NotNil(t, peer)
	// The handshake and the read that follows registering the waiter.
	require.Eventually(t, func() bool { return len(peer.Requests()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	path := "workloadStates.agent_A.hello." + testutil.InstanceID
	w.orch.Set(path, statetree.MustFromAny(map[string]any{"state": "Running", "subState": "Ok", "additionalInfo": ""}))
	require.NoError(t, peer.Notify(
		statetree.Filter(w.orch.State(), []string{path}),
		wire.AlteredFields{Updated: []string{path + ".state", path + ".subState"}},
	))

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Contains(t, out, "reached Running")
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return")
	}
}
