// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package manifest reads workload manifests: YAML documents declaring
// workloads and configs in the layout of the orchestrator's desired state.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workload"
)

// ErrInvalidManifest is wrapped by every parse and validation error.
var ErrInvalidManifest = errors.New("invalid manifest")

const (
	keyAPIVersion = "apiVersion"
	keyWorkloads  = "workloads"
	keyConfigs    = "configs"

	configsPrefix = "desiredState.configs"
)

// Manifest is a validated manifest document.
type Manifest struct {
	root *statetree.Node
}

// Parse reads and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	root, err := statetree.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return FromNode(root)
}

// FromFile reads and validates the manifest at path.
func FromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return Parse(data)
}

// FromNode validates an already parsed manifest. The node is copied.
func FromNode(root *statetree.Node) (*Manifest, error) {
	if err := check(root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return &Manifest{root: root.Clone()}, nil
}

func check(root *statetree.Node) error {
	if !root.IsMapping() {
		return errors.New("document must be a mapping")
	}
	if _, ok := root.Child(keyAPIVersion); !ok {
		return errors.New("apiVersion is required")
	}
	for _, key := range []string{keyWorkloads, keyConfigs} {
		if n, ok := root.Child(key); ok && !n.IsMapping() {
			return fmt.Errorf("%s must be a mapping, got %s", key, n.Kind())
		}
	}
	workloads, ok := root.Child(keyWorkloads)
	if !ok {
		return nil
	}
	for _, name := range workloads.Keys() {
		def, _ := workloads.Child(name)
		if !def.IsMapping() {
			return fmt.Errorf("workload %s must be a mapping, got %s", name, def.Kind())
		}
		for _, field := range def.Keys() {
			if !lo.Contains(workload.Fields, field) {
				return fmt.Errorf("workload %s: field %q is not allowed", name, field)
			}
		}
		for _, field := range workload.MandatoryFields {
			if _, ok := def.Child(field); !ok {
				return fmt.Errorf("workload %s: field %q is required", name, field)
			}
		}
	}
	return nil
}

// APIVersion returns the declared api version.
func (m *Manifest) APIVersion() string {
	v, _ := m.root.Child(keyAPIVersion)
	return v.StringOr("")
}

// WorkloadNames returns the declared workload names in document order.
func (m *Manifest) WorkloadNames() []string {
	workloads, _ := m.root.Child(keyWorkloads)
	return workloads.Keys()
}

// ConfigNames returns the declared config names in document order.
func (m *Manifest) ConfigNames() []string {
	configs, _ := m.root.Child(keyConfigs)
	return configs.Keys()
}

// Masks returns the update mask selecting every declared workload and
// config.
func (m *Manifest) Masks() []string {
	masks := lo.Map(m.WorkloadNames(), func(name string, _ int) string {
		return statetree.JoinPath(workload.WorkloadsPrefix, name)
	})
	return append(masks, lo.Map(m.ConfigNames(), func(name string, _ int) string {
		return statetree.JoinPath(configsPrefix, name)
	})...)
}

// DesiredState returns the state document to send with Masks.
func (m *Manifest) DesiredState() *statetree.Node {
	state := statetree.NewMapping()
	state.Set("desiredState", m.root.Clone())
	return state
}

// Workloads decodes the declared workloads, sorted by name.
func (m *Manifest) Workloads() ([]*workload.Workload, error) {
	workloads, _ := m.root.Child(keyWorkloads)
	names := workloads.Keys()
	sort.Strings(names)

	out := make([]*workload.Workload, 0, len(names))
	for _, name := range names {
		def, _ := workloads.Child(name)
		w, err := workload.FromNode(name, def)
		if err != nil {
			return nil, fmt.Errorf("workload %s: %w", name, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// Node returns a copy of the manifest document.
func (m *Manifest) Node() *statetree.Node {
	return m.root.Clone()
}
