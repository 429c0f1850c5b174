// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workload describes workload definitions and tracks which of
// their fields changed, so that an update only touches those fields in the
// orchestrator's desired state.
package workload

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// WorkloadsPrefix is the state path holding every workload definition.
const WorkloadsPrefix = "desiredState.workloads"

// Field names of a workload definition.
const (
	FieldAgent                  = "agent"
	FieldRuntime                = "runtime"
	FieldRuntimeConfig          = "runtimeConfig"
	FieldRestartPolicy          = "restartPolicy"
	FieldDependencies           = "dependencies"
	FieldTags                   = "tags"
	FieldControlInterfaceAccess = "controlInterfaceAccess"
	FieldConfigs                = "configs"
	FieldFiles                  = "files"

	fieldAllowRules = "allowRules"
	fieldDenyRules  = "denyRules"
	fieldRuleType   = "type"
	fieldOperation  = "operation"
	fieldFilterMask = "filterMask"
	stateRuleType   = "StateRule"
)

// Fields lists every field a workload definition may carry.
var Fields = []string{
	FieldRuntime, FieldAgent, FieldRestartPolicy, FieldRuntimeConfig, FieldDependencies,
	FieldTags, FieldControlInterfaceAccess, FieldConfigs, FieldFiles,
}

// MandatoryFields lists the fields a complete definition must set.
var MandatoryFields = []string{FieldRuntime, FieldRuntimeConfig, FieldAgent}

// RestartPolicy tells the agent what to do when an instance exits.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "NEVER"
	RestartOnFailure RestartPolicy = "ON_FAILURE"
	RestartAlways    RestartPolicy = "ALWAYS"
)

// ParseRestartPolicy validates a restart policy name.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	p := RestartPolicy(s)
	if !lo.Contains([]RestartPolicy{RestartNever, RestartOnFailure, RestartAlways}, p) {
		return "", ValidationError{Field: FieldRestartPolicy, Message: fmt.Sprintf("invalid value %q", s)}
	}
	return p, nil
}

// AddCondition is the state a dependency must reach before the dependent
// workload starts.
type AddCondition string

const (
	AddCondRunning   AddCondition = "ADD_COND_RUNNING"
	AddCondSucceeded AddCondition = "ADD_COND_SUCCEEDED"
	AddCondFailed    AddCondition = "ADD_COND_FAILED"
)

// ParseAddCondition validates a dependency condition name.
func ParseAddCondition(s string) (AddCondition, error) {
	c := AddCondition(s)
	if !lo.Contains([]AddCondition{AddCondRunning, AddCondSucceeded, AddCondFailed}, c) {
		return "", ValidationError{Field: FieldDependencies, Message: fmt.Sprintf("invalid condition %q", s)}
	}
	return c, nil
}

// Operation is the access granted or denied by a control interface rule.
type Operation string

const (
	OpNothing   Operation = "Nothing"
	OpWrite     Operation = "Write"
	OpRead      Operation = "Read"
	OpReadWrite Operation = "ReadWrite"
)

// ParseOperation validates a rule operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !lo.Contains([]Operation{OpNothing, OpWrite, OpRead, OpReadWrite}, op) {
		return "", ValidationError{Field: fieldOperation, Message: fmt.Sprintf("invalid value %q", s)}
	}
	return op, nil
}

// Rule grants or denies Operation on the state paths in FilterMask.
type Rule struct {
	Operation  Operation
	FilterMask []string
}

// Workload is one workload definition together with the masks of the
// fields changed since it was created.
type Workload struct {
	name          string
	agent         string
	runtime       string
	runtimeConfig string
	restartPolicy RestartPolicy
	dependencies  map[string]AddCondition
	tags          map[string]string
	access        *access
	configs       map[string]string
	files         []File

	mainMask string
	masks    []string
}

type access struct {
	allow []Rule
	deny  []Rule
}

// New returns an empty workload. Its mask selects the whole definition.
func New(name string) *Workload {
	w := &Workload{}
	w.Rename(name)
	return w
}

// Rename changes the workload name and resets the masks to the whole
// definition.
func (w *Workload) Rename(name string) {
	w.name = name
	w.mainMask = statetree.JoinPath(WorkloadsPrefix, name)
	w.masks = []string{w.mainMask}
}

func (w *Workload) Name() string                 { return w.name }
func (w *Workload) Agent() string                { return w.agent }
func (w *Workload) Runtime() string              { return w.runtime }
func (w *Workload) RuntimeConfig() string        { return w.runtimeConfig }
func (w *Workload) RestartPolicy() RestartPolicy { return w.restartPolicy }

// Masks returns the update mask covering every changed field.
func (w *Workload) Masks() []string {
	return append([]string(nil), w.masks...)
}

// MainMask returns the path of the whole definition.
func (w *Workload) MainMask() string { return w.mainMask }

func (w *Workload) fieldMask(field ...string) string {
	return statetree.JoinPath(append([]string{w.mainMask}, field...)...)
}

// addMask records mask unless the whole workload or an enclosing configs
// mask is already recorded. A configs mask replaces the individual config
// aliases.
func (w *Workload) addMask(mask string) {
	if lo.Contains(w.masks, mask) || lo.Contains(w.masks, w.mainMask) {
		return
	}
	configsMask := w.fieldMask(FieldConfigs)
	switch {
	case mask == configsMask:
		w.masks = lo.Reject(w.masks, func(m string, _ int) bool {
			return strings.HasPrefix(m, configsMask)
		})
		w.masks = append(w.masks, configsMask)
	case strings.HasPrefix(mask, configsMask) && lo.Contains(w.masks, configsMask):
	default:
		w.masks = append(w.masks, mask)
	}
}

// SetAgent sets the agent that runs the workload.
func (w *Workload) SetAgent(agent string) {
	w.agent = agent
	w.addMask(w.fieldMask(FieldAgent))
}

// SetRuntime sets the runtime, e.g. podman.
func (w *Workload) SetRuntime(runtime string) {
	w.runtime = runtime
	w.addMask(w.fieldMask(FieldRuntime))
}

// SetRuntimeConfig sets the runtime specific configuration document.
func (w *Workload) SetRuntimeConfig(config string) {
	w.runtimeConfig = config
	w.addMask(w.fieldMask(FieldRuntimeConfig))
}

// SetRuntimeConfigFromFile reads the runtime configuration from path.
func (w *Workload) SetRuntimeConfigFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read runtime config: %w", err)
	}
	w.SetRuntimeConfig(string(data))
	return nil
}

// SetRestartPolicy sets the restart policy by name.
func (w *Workload) SetRestartPolicy(policy string) error {
	p, err := ParseRestartPolicy(policy)
	if err != nil {
		return err
	}
	w.restartPolicy = p
	w.addMask(w.fieldMask(FieldRestartPolicy))
	return nil
}

// Dependencies returns a copy of the dependency conditions by workload name.
func (w *Workload) Dependencies() map[string]AddCondition {
	return lo.Assign(w.dependencies)
}

// SetDependencies replaces the dependencies. Nothing changes when one of
// the conditions is invalid.
func (w *Workload) SetDependencies(deps map[string]string) error {
	parsed := make(map[string]AddCondition, len(deps))
	for name, cond := range deps {
		c, err := ParseAddCondition(cond)
		if err != nil {
			return err
		}
		parsed[name] = c
	}
	w.dependencies = parsed
	w.addMask(w.fieldMask(FieldDependencies))
	return nil
}

// Tags returns a copy of the tags.
func (w *Workload) Tags() map[string]string {
	return lo.Assign(w.tags)
}

// AddTag sets one tag.
func (w *Workload) AddTag(key, value string) {
	if w.tags == nil {
		w.tags = make(map[string]string)
	}
	w.tags[key] = value
	if !lo.Contains(w.masks, w.fieldMask(FieldTags)) {
		w.addMask(w.fieldMask(FieldTags, key))
	}
}

// SetTags replaces every tag.
func (w *Workload) SetTags(tags map[string]string) {
	w.tags = lo.Assign(tags)
	tagsMask := w.fieldMask(FieldTags)
	w.masks = lo.Reject(w.masks, func(m string, _ int) bool {
		return strings.HasPrefix(m, tagsMask)
	})
	w.addMask(tagsMask)
}

// AllowRules returns the control interface allow rules.
func (w *Workload) AllowRules() []Rule {
	if w.access == nil {
		return nil
	}
	return append([]Rule(nil), w.access.allow...)
}

// DenyRules returns the control interface deny rules.
func (w *Workload) DenyRules() []Rule {
	if w.access == nil {
		return nil
	}
	return append([]Rule(nil), w.access.deny...)
}

// SetAllowRules replaces the allow rules.
func (w *Workload) SetAllowRules(rules []Rule) error {
	if err := validateRules(rules); err != nil {
		return err
	}
	if w.access == nil {
		w.access = &access{}
	}
	w.access.allow = append([]Rule(nil), rules...)
	w.addMask(w.fieldMask(FieldControlInterfaceAccess, fieldAllowRules))
	return nil
}

// SetDenyRules replaces the deny rules.
func (w *Workload) SetDenyRules(rules []Rule) error {
	if err := validateRules(rules); err != nil {
		return err
	}
	if w.access == nil {
		w.access = &access{}
	}
	w.access.deny = append([]Rule(nil), rules...)
	w.addMask(w.fieldMask(FieldControlInterfaceAccess, fieldDenyRules))
	return nil
}

func validateRules(rules []Rule) error {
	for _, r := range rules {
		if _, err := ParseOperation(string(r.Operation)); err != nil {
			return err
		}
	}
	return nil
}

// Configs returns a copy of the config aliases, alias to config name.
func (w *Workload) Configs() map[string]string {
	return lo.Assign(w.configs)
}

// AddConfig maps alias to the config called name.
func (w *Workload) AddConfig(alias, name string) {
	if w.configs == nil {
		w.configs = make(map[string]string)
	}
	w.configs[alias] = name
	w.addMask(w.fieldMask(FieldConfigs, alias))
}

// SetConfigs replaces every config alias.
func (w *Workload) SetConfigs(configs map[string]string) {
	w.configs = lo.Assign(configs)
	w.addMask(w.fieldMask(FieldConfigs))
}

// Files returns the mounted files.
func (w *Workload) Files() []File {
	return append([]File(nil), w.files...)
}

// AddFile mounts one more file.
func (w *Workload) AddFile(f File) {
	if len(w.files) == 0 {
		w.addMask(w.fieldMask(FieldFiles))
	}
	w.files = append(w.files, f)
}

// SetFiles replaces the mounted files. An empty list removes them.
func (w *Workload) SetFiles(files []File) {
	w.files = append([]File(nil), files...)
	if len(files) > 0 {
		w.addMask(w.fieldMask(FieldFiles))
	}
}

// Validate checks that the definition is complete and well formed.
func (w *Workload) Validate() error {
	var errs ValidationErrors
	if err := ValidateName("name", w.name); err != nil {
		errs = append(errs, *err)
	}
	if err := ValidateName(FieldAgent, w.agent); err != nil {
		errs = append(errs, *err)
	}
	if w.runtime == "" {
		errs = append(errs, ValidationError{Field: FieldRuntime, Message: "is required"})
	}
	if w.runtimeConfig == "" {
		errs = append(errs, ValidationError{Field: FieldRuntimeConfig, Message: "is required"})
	}
	for _, key := range lo.Keys(w.tags) {
		if err := validateStringValue(key, "tag key"); err != nil {
			errs = append(errs, *err)
		}
		if err := validateStringValue(w.tags[key], fmt.Sprintf("tag value for key '%s'", key)); err != nil {
			errs = append(errs, *err)
		}
	}
	for _, f := range w.files {
		if err := f.validate(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs.orNil()
}

func (w *Workload) String() string {
	return fmt.Sprintf("Workload %s: %s", w.name, w.ToNode())
}

// ToNode renders the definition as it appears in the desired state.
// Unset fields are omitted.
func (w *Workload) ToNode() *statetree.Node {
	n := statetree.NewMapping()
	setString := func(key, v string) {
		if v != "" {
			n.Set(key, statetree.NewString(v))
		}
	}
	setString(FieldAgent, w.agent)
	setString(FieldRuntime, w.runtime)
	setString(FieldRuntimeConfig, w.runtimeConfig)
	setString(FieldRestartPolicy, string(w.restartPolicy))

	if w.dependencies != nil {
		deps := statetree.NewMapping()
		for _, name := range sortedKeys(w.dependencies) {
			deps.Set(name, statetree.NewString(string(w.dependencies[name])))
		}
		n.Set(FieldDependencies, deps)
	}
	if w.tags != nil {
		n.Set(FieldTags, stringMap(w.tags))
	}
	if w.access != nil {
		acc := statetree.NewMapping()
		acc.Set(fieldAllowRules, rulesNode(w.access.allow))
		acc.Set(fieldDenyRules, rulesNode(w.access.deny))
		n.Set(FieldControlInterfaceAccess, acc)
	}
	if w.configs != nil {
		n.Set(FieldConfigs, stringMap(w.configs))
	}
	if len(w.files) > 0 {
		files := statetree.NewSequence()
		for _, f := range w.files {
			files.Append(f.toNode())
		}
		n.Set(FieldFiles, files)
	}
	return n
}

func rulesNode(rules []Rule) *statetree.Node {
	seq := statetree.NewSequence()
	for _, r := range rules {
		rule := statetree.NewMapping()
		rule.Set(fieldRuleType, statetree.NewString(stateRuleType))
		rule.Set(fieldOperation, statetree.NewString(string(r.Operation)))
		masks := statetree.NewSequence()
		for _, m := range r.FilterMask {
			masks.Append(statetree.NewString(m))
		}
		rule.Set(fieldFilterMask, masks)
		seq.Append(rule)
	}
	return seq
}

func stringMap(m map[string]string) *statetree.Node {
	n := statetree.NewMapping()
	for _, k := range sortedKeys(m) {
		n.Set(k, statetree.NewString(m[k]))
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
