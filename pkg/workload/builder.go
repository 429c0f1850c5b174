// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workload

import (
	"errors"
	"fmt"
	"os"
)

// Builder assembles a workload. Setter errors are collected and reported by
// Build together with the missing mandatory fields.
type Builder struct {
	name          string
	agent         string
	runtime       string
	runtimeConfig string
	restartPolicy string
	dependencies  map[string]string
	tags          map[string]string
	allow         []Rule
	deny          []Rule
	configs       map[string]string
	files         []File
	errs          []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Name sets the workload name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Agent sets the agent that runs the workload.
func (b *Builder) Agent(agent string) *Builder {
	b.agent = agent
	return b
}

// Runtime sets the runtime, e.g. podman.
func (b *Builder) Runtime(runtime string) *Builder {
	b.runtime = runtime
	return b
}

// RuntimeConfig sets the runtime specific configuration document.
func (b *Builder) RuntimeConfig(config string) *Builder {
	b.runtimeConfig = config
	return b
}

// RuntimeConfigFromFile reads the runtime configuration from path.
func (b *Builder) RuntimeConfigFromFile(path string) *Builder {
	data, err := os.ReadFile(path)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to read runtime config: %w", err))
		return b
	}
	b.runtimeConfig = string(data)
	return b
}

// RestartPolicy sets the restart policy by name. It is checked by Build.
func (b *Builder) RestartPolicy(policy string) *Builder {
	b.restartPolicy = policy
	return b
}

// Dependency makes the workload wait for name to reach condition.
func (b *Builder) Dependency(name, condition string) *Builder {
	if b.dependencies == nil {
		b.dependencies = make(map[string]string)
	}
	b.dependencies[name] = condition
	return b
}

// Tag adds a tag.
func (b *Builder) Tag(key, value string) *Builder {
	if b.tags == nil {
		b.tags = make(map[string]string)
	}
	b.tags[key] = value
	return b
}

// AllowRule adds a control interface allow rule.
func (b *Builder) AllowRule(op Operation, mask ...string) *Builder {
	b.allow = append(b.allow, Rule{Operation: op, FilterMask: mask})
	return b
}

// DenyRule adds a control interface deny rule.
func (b *Builder) DenyRule(op Operation, mask ...string) *Builder {
	b.deny = append(b.deny, Rule{Operation: op, FilterMask: mask})
	return b
}

// Config maps alias to the config called name.
func (b *Builder) Config(alias, name string) *Builder {
	if b.configs == nil {
		b.configs = make(map[string]string)
	}
	b.configs[alias] = name
	return b
}

// File mounts a file.
func (b *Builder) File(f File) *Builder {
	b.files = append(b.files, f)
	return b
}

// Build validates the collected fields and returns the workload. Its mask
// selects the whole definition.
func (b *Builder) Build() (*Workload, error) {
	var missing ValidationErrors
	for _, f := range []struct{ field, value string }{
		{"name", b.name},
		{FieldAgent, b.agent},
		{FieldRuntime, b.runtime},
		{FieldRuntimeConfig, b.runtimeConfig},
	} {
		if f.value == "" {
			missing = append(missing, ValidationError{Field: f.field, Message: "is required"})
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(append([]error{missing}, b.errs...)...)
	}

	w := New(b.name)
	w.SetAgent(b.agent)
	w.SetRuntime(b.runtime)
	w.SetRuntimeConfig(b.runtimeConfig)
	errs := append([]error(nil), b.errs...)
	if b.restartPolicy != "" {
		errs = append(errs, w.SetRestartPolicy(b.restartPolicy))
	}
	if b.dependencies != nil {
		errs = append(errs, w.SetDependencies(b.dependencies))
	}
	if b.tags != nil {
		w.SetTags(b.tags)
	}
	if b.allow != nil {
		errs = append(errs, w.SetAllowRules(b.allow))
	}
	if b.deny != nil {
		errs = append(errs, w.SetDenyRules(b.deny))
	}
	if b.configs != nil {
		w.SetConfigs(b.configs)
	}
	w.SetFiles(b.files)
	errs = append(errs, w.Validate())

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return w, nil
}
