// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// SampleStateYAML is a complete state with two agents and three instances.
const SampleStateYAML = `
desiredState:
  apiVersion: v1
  workloads:
    nginx:
      agent: agent_A
      runtime: podman
      restartPolicy: ALWAYS
      runtimeConfig: |
        image: docker.io/nginx:latest
      tags:
        - key: owner
          value: team
    dynamic:
      agent: agent_B
      runtime: podman
      runtimeConfig: |
        image: alpine:latest
  configs:
    port: "8080"
    web:
      index: index.html
workloadStates:
  agent_A:
    nginx:
      "1234":
        state: Running
        subState: Ok
        additionalInfo: ""
  agent_B:
    dynamic:
      "5678":
        state: Pending
        subState: Starting
        additionalInfo: ""
agents:
  agent_A:
    tags:
      location: lab
    status:
      cpu_usage: 12
      free_memory: 1024
  agent_B:
    tags: {}
`

// SampleManifestYAML declares one workload and one config.
const SampleManifestYAML = `
apiVersion: v1
workloads:
  hello:
    runtime: podman
    agent: agent_A
    restartPolicy: NEVER
    runtimeConfig: |
      image: alpine:latest
      commandOptions: ["--rm"]
configs:
  greeting: hello world
`

// SampleState parses SampleStateYAML.
func SampleState(t testing.TB) *statetree.Node {
	t.Helper()
	n, err := statetree.ParseYAML([]byte(SampleStateYAML))
	require.NoError(t, err)
	return n
}

// MakeFIFOs creates the control interface pipes in a temporary directory
// and returns the directory.
func MakeFIFOs(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"input", "output"} {
		require.NoError(t, unix.Mkfifo(filepath.Join(dir, name), 0o600))
	}
	return dir
}

// OpenPeerEnds opens the agent's side of the pipes in dir: output for
// reading and input for writing. It blocks until the client opens its
// ends, so call it from a goroutine.
func OpenPeerEnds(dir string) (*os.File, *os.File, error) {
	r, err := os.OpenFile(filepath.Join(dir, "output"), os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	w, err := os.OpenFile(filepath.Join(dir, "input"), os.O_WRONLY, 0)
	if err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, w, nil
}
