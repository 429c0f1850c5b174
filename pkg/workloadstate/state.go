// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workloadstate models the execution states the orchestrator reports
// for workload instances.
package workloadstate

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// State is the coarse execution state of an instance.
type State string

const (
	AgentDisconnected State = "AgentDisconnected"
	Pending           State = "Pending"
	Running           State = "Running"
	Stopping          State = "Stopping"
	Succeeded         State = "Succeeded"
	Failed            State = "Failed"
	NotScheduled      State = "NotScheduled"
	Removed           State = "Removed"
)

// SubState refines a State.
type SubState string

const (
	SubAgentDisconnected  SubState = "AgentDisconnected"
	SubInitial            SubState = "Initial"
	SubWaitingToStart     SubState = "WaitingToStart"
	SubStarting           SubState = "Starting"
	SubStartingFailed     SubState = "StartingFailed"
	SubOk                 SubState = "Ok"
	SubStopping           SubState = "Stopping"
	SubWaitingToStop      SubState = "WaitingToStop"
	SubRequestedAtRuntime SubState = "RequestedAtRuntime"
	SubDeleteFailed       SubState = "DeleteFailed"
	SubExecFailed         SubState = "ExecFailed"
	SubUnknown            SubState = "Unknown"
	SubLost               SubState = "Lost"
	SubNotScheduled       SubState = "NotScheduled"
	SubRemoved            SubState = "Removed"
)

var validSubStates = map[State][]SubState{
	AgentDisconnected: {SubAgentDisconnected},
	Pending:           {SubInitial, SubWaitingToStart, SubStarting, SubStartingFailed},
	Running:           {SubOk},
	Stopping:          {SubStopping, SubWaitingToStop, SubRequestedAtRuntime, SubDeleteFailed},
	Succeeded:         {SubOk},
	Failed:            {SubExecFailed, SubUnknown, SubLost},
	NotScheduled:      {SubNotScheduled},
	Removed:           {SubRemoved},
}

// States returns every known state.
func States() []State {
	return []State{AgentDisconnected, Pending, Running, Stopping, Succeeded, Failed, NotScheduled, Removed}
}

// ParseState converts a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := validSubStates[st]; !ok {
		return "", fmt.Errorf("unknown execution state %q", s)
	}
	return st, nil
}

// SubStates returns the substates valid for s.
func (s State) SubStates() []SubState {
	return append([]SubState(nil), validSubStates[s]...)
}

// Valid reports whether sub is a valid refinement of s.
func (s State) Valid(sub SubState) bool {
	return lo.Contains(validSubStates[s], sub)
}

// Field names of an execution state entry.
const (
	FieldState          = "state"
	FieldSubState       = "subState"
	FieldAdditionalInfo = "additionalInfo"
)

// ExecutionState is the state of one instance as reported by its agent.
type ExecutionState struct {
	State          State    `json:"state"`
	SubState       SubState `json:"subState"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
}

// Valid reports whether the state/substate pair is one the orchestrator
// can produce.
func (e ExecutionState) Valid() bool {
	return e.State.Valid(e.SubState)
}

func (e ExecutionState) String() string {
	if e.AdditionalInfo == "" {
		return fmt.Sprintf("%s(%s)", e.State, e.SubState)
	}
	return fmt.Sprintf("%s(%s): %s", e.State, e.SubState, e.AdditionalInfo)
}

// ParseExecutionState reads an execution state entry. An entry without a
// state is treated as NotScheduled; unknown pairs are kept as received and
// reported through the error.
func ParseExecutionState(n *statetree.Node) (ExecutionState, error) {
	if n == nil || !n.IsMapping() {
		return ExecutionState{}, fmt.Errorf("execution state must be a mapping, got %s", n.Kind())
	}
	es := ExecutionState{
		State:          State(childString(n, FieldState)),
		SubState:       SubState(childString(n, FieldSubState)),
		AdditionalInfo: childString(n, FieldAdditionalInfo),
	}
	if es.State == "" {
		es.State, es.SubState = NotScheduled, SubNotScheduled
		return es, nil
	}
	if !es.Valid() {
		return es, fmt.Errorf("invalid execution state %s/%s", es.State, es.SubState)
	}
	return es, nil
}

// ToNode renders the entry as it appears in workloadStates.
func (e ExecutionState) ToNode() *statetree.Node {
	n := statetree.NewMapping()
	n.Set(FieldState, statetree.NewString(string(e.State)))
	n.Set(FieldSubState, statetree.NewString(string(e.SubState)))
	n.Set(FieldAdditionalInfo, statetree.NewString(e.AdditionalInfo))
	return n
}

func childString(n *statetree.Node, key string) string {
	c, ok := n.Child(key)
	if !ok {
		return ""
	}
	return c.StringOr("")
}
