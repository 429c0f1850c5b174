// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workloadstate

import (
	"fmt"
	"strings"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// RootPath is the state document key holding every execution state.
const RootPath = "workloadStates"

// InstanceName identifies one running instance of a workload.
type InstanceName struct {
	AgentName    string `json:"agentName"`
	WorkloadName string `json:"workloadName"`
	WorkloadID   string `json:"workloadId"`
}

// String returns the form "workloadName.workloadId.agentName".
func (i InstanceName) String() string {
	return i.WorkloadName + "." + i.WorkloadID + "." + i.AgentName
}

// FilterMask returns the state path of the instance's execution state.
func (i InstanceName) FilterMask() string {
	return statetree.JoinPath(RootPath, i.AgentName, i.WorkloadName, i.WorkloadID)
}

// IsZero reports whether no field is set.
func (i InstanceName) IsZero() bool {
	return i == InstanceName{}
}

// ParseInstanceName parses "workloadName.workloadId.agentName".
func ParseInstanceName(s string) (InstanceName, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return InstanceName{}, fmt.Errorf("invalid instance name %q: want workloadName.workloadId.agentName", s)
	}
	return InstanceName{WorkloadName: parts[0], WorkloadID: parts[1], AgentName: parts[2]}, nil
}

// InstanceFromPath extracts the instance addressed by a path at or below
// workloadStates.<agent>.<workload>.<id>.
func InstanceFromPath(path string) (InstanceName, bool) {
	segs := statetree.SplitPath(path)
	if len(segs) < 4 || segs[0] != RootPath {
		return InstanceName{}, false
	}
	return InstanceName{AgentName: segs[1], WorkloadName: segs[2], WorkloadID: segs[3]}, true
}
