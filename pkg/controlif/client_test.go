// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/manifest"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workload"
	"github.com/noldarim/wlctl/pkg/workloadstate"
	"github.com/noldarim/wlctl/test/testutil"
)

var (
	nginxInstance   = workloadstate.InstanceName{AgentName: "agent_A", WorkloadName: "nginx", WorkloadID: "1234"}
	dynamicInstance = workloadstate.InstanceName{AgentName: "agent_B", WorkloadName: "dynamic", WorkloadID: "5678"}
)

type fixture struct {
	client *Client
	peer   *testutil.FakePeer
	orch   *testutil.Orchestrator
}

func connect(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		peer: testutil.NewFakePeer(t),
		orch: testutil.NewOrchestrator(testutil.SampleState(t)),
	}
	f.peer.Handle(f.orch.Handle)
	f.client = New(append([]Option{WithTimeout(time.Second)}, opts...)...)

	r, w := f.peer.Streams()
	require.NoError(t, f.client.ConnectStreams(context.Background(), r, w))
	t.Cleanup(func() { _ = f.client.Close() })
	return f
}

func (f *fixture) session(t *testing.T) *session {
	t.Helper()
	s, err := f.client.session()
	require.NoError(t, err)
	return s
}

func TestConnect(t *testing.T) {
	f := connect(t)

	assert.Equal(t, Initialized, f.client.State())
	hellos := f.peer.Hellos()
	require.Len(t, hellos, 1)
	assert.Equal(t, DefaultProtocolVersion, hellos[0].ProtocolVersion)

	requests := f.peer.Requests()
	require.Len(t, requests, 1)
	testutil.AssertGetStateRequest(t, requests[0], primeMask...)

	es, ok := f.session(t).hub.ExecutionState(nginxInstance)
	require.True(t, ok, "initial state is cached")
	assert.Equal(t, workloadstate.Running, es.State)

	r, w := f.peer.Streams()
	assert.ErrorIs(t, f.client.ConnectStreams(context.Background(), r, w), ErrAlreadyConnected)
}

func TestConnect_APIVersionMismatch(t *testing.T) {
	peer := testutil.NewFakePeer(t)
	orch := testutil.NewOrchestrator(testutil.SampleState(t))
	orch.Set("desiredState.apiVersion", statetree.NewString("v2"))
	peer.Handle(orch.Handle)

	c := New(WithTimeout(time.Second))
	r, w := peer.Streams()
	err := c.ConnectStreams(context.Background(), r, w)

	var verr *errdefs.APIVersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "v2", verr.Received)
	assert.ErrorIs(t, err, ErrAPIVersion)
	assert.Equal(t, Failed, c.State())

	_, err = c.GetState(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_Opener(t *testing.T) {
	t.Run("uses the opened streams", func(t *testing.T) {
		peer := testutil.NewFakePeer(t)
		peer.Handle(testutil.NewOrchestrator(testutil.SampleState(t)).Handle)

		var dir string
		c := New(WithBaseDir("/tmp/ci"), WithOpener(func(_ context.Context, d string) (io.ReadCloser, io.WriteCloser, error) {
			dir = d
			r, w := peer.Streams()
			return r, w, nil
		}))
		require.NoError(t, c.Connect(context.Background()))
		defer c.Close()

		assert.Equal(t, "/tmp/ci", dir)
		assert.Equal(t, Initialized, c.State())
	})

	t.Run("open failure can be retried", func(t *testing.T) {
		calls := 0
		c := New(WithOpener(func(context.Context, string) (io.ReadCloser, io.WriteCloser, error) {
			calls++
			return nil, nil, errors.New("no pipes")
		}))
		err := c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrConnection)
		assert.Equal(t, Failed, c.State())

		err = c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrConnection, "a failed connect does not block the next one")
		assert.Equal(t, 2, calls)
	})

	t.Run("missing pipes", func(t *testing.T) {
		c := New(WithBaseDir(t.TempDir()))
		assert.ErrorIs(t, c.Connect(context.Background()), ErrConnection)
	})
}

func TestNotConnected(t *testing.T) {
	c := New()
	assert.Equal(t, Terminated, c.State())

	_, err := c.GetState(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.SubscribeEvents(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed without a connection")
	}
}

func TestClose(t *testing.T) {
	f := connect(t)

	require.NoError(t, f.client.Close())
	assert.Equal(t, Terminated, f.client.State())
	assert.ErrorIs(t, f.client.Err(), ErrConnectionLost)
	<-f.client.Done()

	_, err := f.client.GetState(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, f.client.Close())

	t.Run("reconnect", func(t *testing.T) {
		peer := testutil.NewFakePeer(t)
		peer.Handle(f.orch.Handle)
		r, w := peer.Streams()
		require.NoError(t, f.client.ConnectStreams(context.Background(), r, w))
		assert.Equal(t, Initialized, f.client.State())

		_, err := f.client.GetState(context.Background(), "agents")
		assert.NoError(t, err)
	})
}

func TestApplyWorkload(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	w, err := workload.NewBuilder().
		Name("hello").
		Agent("agent_A").
		Runtime("podman").
		RuntimeConfig("image: alpine").
		RestartPolicy("NEVER").
		Build()
	require.NoError(t, err)

	res, err := f.client.ApplyWorkload(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []workloadstate.InstanceName{
		{AgentName: "agent_A", WorkloadName: "hello", WorkloadID: testutil.InstanceID},
	}, res.Added)
	assert.Empty(t, res.Deleted)

	requests := f.peer.Requests()
	testutil.AssertUpdateRequest(t, requests[len(requests)-1], "desiredState.workloads.hello")

	agent, ok := f.orch.State().Lookup("desiredState.workloads.hello.agent")
	require.True(t, ok)
	assert.Equal(t, "agent_A", agent.Scalar())
}

func TestApplyWorkload_ChangedFields(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	w, err := f.client.GetWorkload(ctx, "nginx")
	require.NoError(t, err)
	assert.Equal(t, "agent_A", w.Agent())

	_, err = f.client.ApplyWorkload(ctx, w)
	assert.ErrorIs(t, err, ErrEmptyMask, "an unchanged workload has nothing to send")

	w.SetAgent("agent_B")
	res, err := f.client.ApplyWorkload(ctx, w)
	require.NoError(t, err)

	requests := f.peer.Requests()
	testutil.AssertUpdateRequest(t, requests[len(requests)-1], "desiredState.workloads.nginx.agent")
	assert.Equal(t, "agent_B", res.Added[0].AgentName)
	assert.Equal(t, "agent_A", res.Deleted[0].AgentName)

	runtime, ok := f.orch.State().Lookup("desiredState.workloads.nginx.runtime")
	require.True(t, ok, "fields outside the mask are untouched")
	assert.Equal(t, "podman", runtime.Scalar())
}

func TestWorkloads_NotFoundAndDelete(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	_, err := f.client.GetWorkload(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := f.client.DeleteWorkload(ctx, "dynamic")
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Len(t, res.Deleted, 1)

	_, err = f.client.GetWorkload(ctx, "dynamic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManifest(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	m, err := manifest.Parse([]byte(testutil.SampleManifestYAML))
	require.NoError(t, err)

	res, err := f.client.ApplyManifest(ctx, m)
	require.NoError(t, err)
	assert.Len(t, res.Added, 1)

	requests := f.peer.Requests()
	testutil.AssertUpdateRequest(t, requests[len(requests)-1], m.Masks()...)

	greeting, err := f.client.GetConfig(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello world", greeting.Scalar())

	_, err = f.client.DeleteManifest(ctx, m)
	require.NoError(t, err)
	_, err = f.client.GetWorkload(ctx, "hello")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.client.GetConfig(ctx, "greeting")
	assert.ErrorIs(t, err, ErrNotFound)

	port, err := f.client.GetConfig(ctx, "port")
	require.NoError(t, err, "configs outside the manifest are kept")
	assert.Equal(t, "8080", port.Scalar())
}

func TestConfigs(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	configs, err := f.client.GetConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"port", "web"}, configs.Keys())

	_, err = f.client.AddConfig(ctx, "extra", map[string]any{"level": "debug"})
	require.NoError(t, err)
	extra, err := f.client.GetConfig(ctx, "extra")
	require.NoError(t, err)
	assert.True(t, statetree.MustFromAny(map[string]any{"level": "debug"}).Equal(extra))

	require.NoError(t, f.client.DeleteConfig(ctx, "extra"))
	_, err = f.client.GetConfig(ctx, "extra")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.client.UpdateConfigs(ctx, map[string]any{"only": "one"})
	require.NoError(t, err)
	configs, err = f.client.GetConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, configs.Keys())

	require.NoError(t, f.client.DeleteAllConfigs(ctx))
	configs, err = f.client.GetConfigs(ctx)
	require.NoError(t, err)
	assert.Zero(t, configs.Len())

	_, err = f.client.AddConfig(ctx, "bad", struct{}{})
	assert.Error(t, err)
}

func TestAgents(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	agents, err := f.client.GetAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, map[string]string{"location": "lab"}, agents["agent_A"].Tags)
	assert.NotNil(t, agents["agent_A"].Status)

	require.NoError(t, f.client.SetAgentTags(ctx, "agent_B", map[string]string{"zone": "north"}))
	b, err := f.client.GetAgent(ctx, "agent_B")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"zone": "north"}, b.Tags)

	_, err = f.client.GetAgent(ctx, "agent_C")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkloadStates(t *testing.T) {
	f := connect(t)
	ctx := context.Background()

	all, err := f.client.GetWorkloadStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Len())

	onA, err := f.client.GetWorkloadStatesOnAgent(ctx, "agent_A")
	require.NoError(t, err)
	assert.Equal(t, 1, onA.Len())

	dynamic, err := f.client.GetWorkloadStatesForName(ctx, "dynamic")
	require.NoError(t, err)
	es, ok := dynamic.ForInstanceName(dynamicInstance)
	require.True(t, ok)
	assert.Equal(t, workloadstate.Pending, es.State)

	es, err = f.client.GetExecutionStateForInstanceName(ctx, nginxInstance)
	require.NoError(t, err)
	assert.Equal(t, workloadstate.ExecutionState{State: workloadstate.Running, SubState: workloadstate.SubOk}, es)

	missing := nginxInstance
	missing.WorkloadID = "0000"
	_, err = f.client.GetExecutionStateForInstanceName(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func runningState(i workloadstate.InstanceName) *statetree.Node {
	state := statetree.NewMapping()
	_ = state.SetPath(i.FilterMask(), workloadstate.ExecutionState{
		State:    workloadstate.Running,
		SubState: workloadstate.SubOk,
	}.ToNode())
	return state
}

func wireUpdated(paths ...string) wire.AlteredFields {
	return wire.AlteredFields{Updated: paths}
}

func TestWaitForWorkloadToReachState(t *testing.T) {
	t.Run("already reached", func(t *testing.T) {
		f := connect(t)
		err := f.client.WaitForWorkloadToReachState(context.Background(), nginxInstance, workloadstate.Running)
		assert.NoError(t, err)
	})

	t.Run("reached through a notification", func(t *testing.T) {
		f := connect(t)

		done := make(chan error, 1)
		go func() {
			done <- f.client.WaitForWorkloadToReachState(context.Background(), dynamicInstance, workloadstate.Running)
		}()
		// The waiter refreshes the instance once it is registered.
		require.Eventually(t, func() bool { return len(f.peer.Requests()) == 2 }, time.Second, 5*time.Millisecond)
		testutil.AssertGetStateRequest(t, f.peer.Requests()[1], dynamicInstance.FilterMask())

		f.orch.Set(dynamicInstance.FilterMask(), runningState(dynamicInstance).Clone())
		require.NoError(t, f.peer.Notify(runningState(dynamicInstance), wireUpdated(dynamicInstance.FilterMask())))

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter was not satisfied")
		}
		assert.Zero(t, f.session(t).hub.Pending())
	})

	t.Run("deadline", func(t *testing.T) {
		f := connect(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := f.client.WaitForWorkloadToReachState(ctx, dynamicInstance, workloadstate.Running)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Zero(t, f.session(t).hub.Pending(), "a timed out waiter is removed")
	})

	t.Run("client timeout applies without a deadline", func(t *testing.T) {
		f := connect(t, WithTimeout(100*time.Millisecond))
		err := f.client.WaitForWorkloadToReachState(context.Background(), dynamicInstance, workloadstate.Succeeded)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestGetState_Timeout(t *testing.T) {
	f := connect(t)
	f.orch.Silence()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.client.GetState(ctx, "agents")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, f.session(t).table.Len(), "a timed out request is removed")

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = f.client.GetState(ctx, "agents")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, f.session(t).table.Len())
	assert.Equal(t, Initialized, f.client.State(), "per-call errors keep the connection")
}

func TestRequestRejected(t *testing.T) {
	f := connect(t)
	f.orch.RejectNext("access denied")

	_, err := f.client.DeleteWorkload(context.Background(), "nginx")
	var rerr *errdefs.RequestError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "access denied", rerr.Message)
	assert.ErrorIs(t, err, ErrRequest)

	_, err = f.client.ApplyState(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestPeerClosesConnection(t *testing.T) {
	f := connect(t)
	f.orch.Silence()

	pending := make(chan error, 1)
	go func() {
		_, err := f.client.GetState(context.Background(), "agents")
		pending <- err
	}()
	waiting := make(chan error, 1)
	go func() {
		waiting <- f.client.WaitForWorkloadToReachState(context.Background(), dynamicInstance, workloadstate.Removed)
	}()
	require.Eventually(t, func() bool { return len(f.peer.Requests()) == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.peer.CloseConnection("agent shutting down"))

	for _, ch := range []chan error{pending, waiting} {
		err := <-ch
		assert.ErrorIs(t, err, ErrConnectionLost)
		var closed *errdefs.ConnectionClosedError
		require.True(t, errors.As(err, &closed))
		assert.Equal(t, "agent shutting down", closed.Reason)
	}

	<-f.client.Done()
	assert.Eventually(t, func() bool { return f.client.State() == ConnectionClosed }, time.Second, 5*time.Millisecond)
	_, err := f.client.GetState(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMalformedFrameFailsConnection(t *testing.T) {
	f := connect(t)

	require.NoError(t, f.peer.WriteRaw([]byte{0x00}))
	<-f.client.Done()

	assert.Eventually(t, func() bool { return f.client.State() == Failed }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.client.Err(), ErrMalformedFrame)
	assert.ErrorIs(t, f.client.Err(), ErrConnectionLost)
}

func TestConcurrentRequests(t *testing.T) {
	f := connect(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.GetWorkloadStates(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, f.session(t).table.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "wlctl")
	f := connect(t, WithMetrics(m))

	_, err := f.client.GetState(context.Background(), "agents")
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.requests.WithLabelValues("GetState", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.connState.WithLabelValues("Initialized")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.inflight))

	require.NoError(t, f.peer.Notify(runningState(dynamicInstance), wireUpdated(dynamicInstance.FilterMask())))
	assert.Eventually(t, func() bool { return promtest.ToFloat64(m.notifications) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.client.Close())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.connState.WithLabelValues("Terminated")))
}
