// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workloadstate

import (
	"sort"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// WorkloadState pairs an instance with its execution state.
type WorkloadState struct {
	Instance InstanceName   `json:"instanceName"`
	State    ExecutionState `json:"executionState"`
}

// Collection indexes execution states by agent, workload name and id.
type Collection struct {
	byAgent map[string]map[string]map[string]ExecutionState
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{byAgent: make(map[string]map[string]map[string]ExecutionState)}
}

// Add records ws, replacing any previous state of the same instance.
func (c *Collection) Add(ws WorkloadState) {
	i := ws.Instance
	workloads, ok := c.byAgent[i.AgentName]
	if !ok {
		workloads = make(map[string]map[string]ExecutionState)
		c.byAgent[i.AgentName] = workloads
	}
	ids, ok := workloads[i.WorkloadName]
	if !ok {
		ids = make(map[string]ExecutionState)
		workloads[i.WorkloadName] = ids
	}
	ids[i.WorkloadID] = ws.State
}

// Len returns the number of instances.
func (c *Collection) Len() int {
	n := 0
	for _, workloads := range c.byAgent {
		for _, ids := range workloads {
			n += len(ids)
		}
	}
	return n
}

// Agents returns the agent names, sorted.
func (c *Collection) Agents() []string {
	agents := lo.Keys(c.byAgent)
	sort.Strings(agents)
	return agents
}

// AsList returns every entry ordered by agent, workload name and id.
func (c *Collection) AsList() []WorkloadState {
	var out []WorkloadState
	for _, agent := range c.Agents() {
		workloads := c.byAgent[agent]
		names := lo.Keys(workloads)
		sort.Strings(names)
		for _, name := range names {
			ids := lo.Keys(workloads[name])
			sort.Strings(ids)
			for _, id := range ids {
				out = append(out, WorkloadState{
					Instance: InstanceName{AgentName: agent, WorkloadName: name, WorkloadID: id},
					State:    workloads[name][id],
				})
			}
		}
	}
	return out
}

// ForInstanceName returns the state of one instance.
func (c *Collection) ForInstanceName(i InstanceName) (ExecutionState, bool) {
	es, ok := c.byAgent[i.AgentName][i.WorkloadName][i.WorkloadID]
	return es, ok
}

// OnAgent returns the entries reported by agent.
func (c *Collection) OnAgent(agent string) []WorkloadState {
	return lo.Filter(c.AsList(), func(ws WorkloadState, _ int) bool {
		return ws.Instance.AgentName == agent
	})
}

// ForWorkload returns the entries of every instance named name.
func (c *Collection) ForWorkload(name string) []WorkloadState {
	return lo.Filter(c.AsList(), func(ws WorkloadState, _ int) bool {
		return ws.Instance.WorkloadName == name
	})
}

// ToNode renders the collection as a workloadStates subtree.
func (c *Collection) ToNode() *statetree.Node {
	root := statetree.NewMapping()
	for _, ws := range c.AsList() {
		i := ws.Instance
		// Path segments come from map keys and never contain the separator
		// in a well-formed document.
		_ = root.SetPath(statetree.JoinPath(i.AgentName, i.WorkloadName, i.WorkloadID), ws.State.ToNode())
	}
	return root
}

// CollectionFromTree reads the workloadStates subtree of a state document.
// Entries that are not mappings are skipped; invalid state pairs are kept
// as received.
func CollectionFromTree(state *statetree.Node) *Collection {
	c := NewCollection()
	root, ok := state.Lookup(RootPath)
	if !ok || !root.IsMapping() {
		return c
	}
	for _, agent := range root.Keys() {
		workloads, _ := root.Child(agent)
		for _, name := range workloads.Keys() {
			ids, _ := workloads.Child(name)
			for _, id := range ids.Keys() {
				entry, _ := ids.Child(id)
				if !entry.IsMapping() {
					continue
				}
				es, _ := ParseExecutionState(entry)
				c.Add(WorkloadState{
					Instance: InstanceName{AgentName: agent, WorkloadName: name, WorkloadID: id},
					State:    es,
				})
			}
		}
	}
	return c
}
