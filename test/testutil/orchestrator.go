// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// Orchestrator is a minimal in-memory orchestrator answering requests from
// a complete state document. Use its Handle method as a FakePeer handler.
type Orchestrator struct {
	mu     sync.Mutex
	state  *statetree.Node
	subs   map[string][]string
	reject string
	silent bool

	logs      map[workloadstate.InstanceName][]string
	campaigns map[string][]workloadstate.InstanceName
}

// NewOrchestrator starts from a copy of initial.
func NewOrchestrator(initial *statetree.Node) *Orchestrator {
	if initial == nil {
		initial = statetree.NewMapping()
	}
	return &Orchestrator{
		state:     initial.Clone(),
		subs:      make(map[string][]string),
		logs:      make(map[workloadstate.InstanceName][]string),
		campaigns: make(map[string][]workloadstate.InstanceName),
	}
}

// State returns a copy of the current state.
func (o *Orchestrator) State() *statetree.Node {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Set replaces the node at path.
func (o *Orchestrator) Set(path string, n *statetree.Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.state.SetPath(path, n)
}

// RejectNext makes the next request fail with message.
func (o *Orchestrator) RejectNext(message string) {
	o.mu.Lock()
	o.reject = message
	o.mu.Unlock()
}

// Silence stops answering requests.
func (o *Orchestrator) Silence() {
	o.mu.Lock()
	o.silent = true
	o.mu.Unlock()
}

// Subscriptions returns the ids of open event subscriptions.
func (o *Orchestrator) Subscriptions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := lo.Keys(o.subs)
	sort.Strings(ids)
	return ids
}

// SetLogs makes instance known with lines as its log so far.
func (o *Orchestrator) SetLogs(instance workloadstate.InstanceName, lines ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs[instance] = append([]string(nil), lines...)
}

// Campaigns returns the ids of open log campaigns.
func (o *Orchestrator) Campaigns() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := lo.Keys(o.campaigns)
	sort.Strings(ids)
	return ids
}

// Handle answers req.
func (o *Orchestrator) Handle(req *wire.Request) []wire.Inbound {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.silent {
		return nil
	}
	if o.reject != "" {
		msg := o.reject
		o.reject = ""
		return []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseError, ErrorMessage: msg}}
	}

	switch req.Kind {
	case wire.RequestGetState:
		if req.SubscribeEvents {
			o.subs[req.ID] = req.FieldMask
		}
		return []wire.Inbound{&wire.Response{
			RequestID: req.ID,
			Kind:      wire.ResponseCompleteState,
			State:     statetree.Filter(o.state, req.FieldMask),
		}}
	case wire.RequestCancelEvents:
		delete(o.subs, req.ID)
		return []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseEventsCancelAccepted}}
	case wire.RequestUpdateState:
		return o.update(req)
	case wire.RequestLogs:
		return o.startLogs(req)
	case wire.RequestCancelLogs:
		if _, ok := o.campaigns[req.ID]; !ok {
			return []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseError, ErrorMessage: "unknown log campaign"}}
		}
		delete(o.campaigns, req.ID)
		return []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseLogsCancelAccepted}}
	default:
		return []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseError, ErrorMessage: "unsupported request"}}
	}
}

// update must be called with o.mu held.
func (o *Orchestrator) update(req *wire.Request) []wire.Inbound {
	before := workloadAgents(o.state)
	o.state = statetree.Overlay(o.state, req.State, req.UpdateMask)
	after := workloadAgents(o.state)

	// A touched workload is replaced: the old instance is deleted and the
	// new one added.
	var added, deleted []string
	for _, name := range sortedKeys(after) {
		if touched(req.UpdateMask, name) {
			added = append(added, instanceName(name, after[name]))
		}
	}
	for _, name := range sortedKeys(before) {
		if touched(req.UpdateMask, name) {
			deleted = append(deleted, instanceName(name, before[name]))
		}
	}

	out := []wire.Inbound{&wire.Response{
		RequestID: req.ID,
		Kind:      wire.ResponseUpdateStateSuccess,
		Added:     added,
		Deleted:   deleted,
	}}
	for id, mask := range o.subs {
		if !lo.SomeBy(req.UpdateMask, func(p string) bool { return statetree.Covers(mask, p) }) {
			continue
		}
		out = append(out, &wire.Response{
			RequestID: id,
			Kind:      wire.ResponseCompleteState,
			State:     statetree.Filter(o.state, mask),
			Altered:   wire.AlteredFields{Updated: req.UpdateMask},
		})
	}
	return out
}

// startLogs must be called with o.mu held. Instances without logs are not
// accepted. The known lines are sent at once; without follow each
// accepted instance is stopped right after.
func (o *Orchestrator) startLogs(req *wire.Request) []wire.Inbound {
	accepted := lo.Filter(req.Logs.Instances, func(i workloadstate.InstanceName, _ int) bool {
		_, ok := o.logs[i]
		return ok
	})
	o.campaigns[req.ID] = accepted
	out := []wire.Inbound{&wire.Response{RequestID: req.ID, Kind: wire.ResponseLogsAccepted, Instances: accepted}}

	var entries []wire.LogEntry
	for _, i := range accepted {
		lines := o.logs[i]
		if tail := int(req.Logs.Tail); tail >= 0 && tail < len(lines) {
			lines = lines[len(lines)-tail:]
		}
		for _, line := range lines {
			entries = append(entries, wire.LogEntry{Instance: i, Message: line})
		}
	}
	if len(entries) > 0 {
		out = append(out, &wire.Response{RequestID: req.ID, Kind: wire.ResponseLogEntries, LogEntries: entries})
	}
	if !req.Logs.Follow {
		for _, i := range accepted {
			out = append(out, &wire.Response{RequestID: req.ID, Kind: wire.ResponseLogsStop, Instances: []workloadstate.InstanceName{i}})
		}
	}
	return out
}

// EmitLog appends line to instance's log and sends it to every campaign
// following the instance. Send each returned message with FakePeer.Send.
func (o *Orchestrator) EmitLog(instance workloadstate.InstanceName, line string) []wire.Inbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs[instance] = append(o.logs[instance], line)

	var out []wire.Inbound
	for _, id := range sortedCampaigns(o.campaigns) {
		if lo.Contains(o.campaigns[id], instance) {
			out = append(out, &wire.Response{
				RequestID:  id,
				Kind:       wire.ResponseLogEntries,
				LogEntries: []wire.LogEntry{{Instance: instance, Message: line}},
			})
		}
	}
	return out
}

func sortedCampaigns(m map[string][]workloadstate.InstanceName) []string {
	ids := lo.Keys(m)
	sort.Strings(ids)
	return ids
}

func workloadAgents(state *statetree.Node) map[string]string {
	out := make(map[string]string)
	workloads, ok := state.Lookup("desiredState.workloads")
	if !ok {
		return out
	}
	for _, name := range workloads.Keys() {
		w, _ := workloads.Child(name)
		agent, _ := w.Child("agent")
		out[name] = agent.StringOr("")
	}
	return out
}

func touched(mask []string, name string) bool {
	path := "desiredState.workloads." + name
	return statetree.Covers(mask, path) || lo.SomeBy(mask, func(p string) bool {
		return strings.HasPrefix(p, path+statetree.PathSeparator)
	})
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func instanceName(name, agent string) string {
	return name + "." + InstanceID + "." + agent
}

// InstanceID is the workload id the fake orchestrator assigns.
const InstanceID = "1"
