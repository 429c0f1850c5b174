// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workload

import (
	"errors"
	"fmt"

	"github.com/noldarim/wlctl/pkg/statetree"
)

// FromNode reads the definition of the workload called name from its
// desired state node. The returned workload has no pending masks.
func FromNode(name string, n *statetree.Node) (*Workload, error) {
	if !n.IsMapping() {
		return nil, ValidationError{Field: name, Message: "workload must be a mapping"}
	}
	w := New(name)
	var errs ValidationErrors
	fail := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}
	add := func(err error) {
		var ve ValidationError
		if errors.As(err, &ve) {
			errs = append(errs, ve)
			return
		}
		fail(name, err.Error())
	}

	str := func(field string, set func(string)) {
		c, ok := n.Child(field)
		if !ok {
			return
		}
		s, ok := c.Str()
		if !ok {
			fail(field, "must be a string")
			return
		}
		set(s)
	}
	str(FieldAgent, w.SetAgent)
	str(FieldRuntime, w.SetRuntime)
	str(FieldRuntimeConfig, w.SetRuntimeConfig)
	str(FieldRestartPolicy, func(s string) {
		if err := w.SetRestartPolicy(s); err != nil {
			add(err)
		}
	})

	if c, ok := n.Child(FieldDependencies); ok {
		deps, err := stringMapFromNode(c)
		if err != nil {
			fail(FieldDependencies, err.Error())
		} else if err := w.SetDependencies(deps); err != nil {
			add(err)
		}
	}

	if c, ok := n.Child(FieldTags); ok {
		tags, err := tagsFromNode(c)
		if err != nil {
			fail(FieldTags, err.Error())
		} else {
			w.SetTags(tags)
		}
	}

	if c, ok := n.Child(FieldControlInterfaceAccess); ok {
		if err := w.accessFromNode(c); err != nil {
			fail(FieldControlInterfaceAccess, err.Error())
		}
	}

	if c, ok := n.Child(FieldConfigs); ok {
		configs, err := stringMapFromNode(c)
		if err != nil {
			fail(FieldConfigs, err.Error())
		} else {
			w.SetConfigs(configs)
		}
	}

	if c, ok := n.Child(FieldFiles); ok {
		if !c.IsSequence() {
			fail(FieldFiles, "must be a sequence")
		} else {
			var files []File
			for _, item := range c.Items() {
				f, err := fileFromNode(item)
				if err != nil {
					add(err)
					continue
				}
				files = append(files, f)
			}
			w.SetFiles(files)
		}
	}

	if err := errs.orNil(); err != nil {
		return nil, err
	}
	w.masks = nil
	return w, nil
}

func stringMapFromNode(n *statetree.Node) (map[string]string, error) {
	if !n.IsMapping() {
		return nil, errors.New("must be a mapping")
	}
	out := make(map[string]string, n.Len())
	for _, k := range n.Keys() {
		c, _ := n.Child(k)
		s, ok := c.Str()
		if !ok {
			return nil, fmt.Errorf("value of %q must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}

// tagsFromNode accepts a key/value mapping and the older list of
// {key, value} entries.
func tagsFromNode(n *statetree.Node) (map[string]string, error) {
	if n.IsMapping() {
		return stringMapFromNode(n)
	}
	if !n.IsSequence() {
		return nil, errors.New("must be a mapping")
	}
	out := make(map[string]string, n.Len())
	for _, item := range n.Items() {
		k, kok := item.Child("key")
		v, vok := item.Child("value")
		if !kok || !vok {
			return nil, errors.New("list entries need key and value")
		}
		out[k.StringOr("")] = v.StringOr("")
	}
	return out, nil
}

func (w *Workload) accessFromNode(n *statetree.Node) error {
	if !n.IsMapping() {
		return errors.New("must be a mapping")
	}
	if c, ok := n.Child(fieldAllowRules); ok {
		rules, err := rulesFromNode(c)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldAllowRules, err)
		}
		if err := w.SetAllowRules(rules); err != nil {
			return err
		}
	}
	if c, ok := n.Child(fieldDenyRules); ok {
		rules, err := rulesFromNode(c)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldDenyRules, err)
		}
		if err := w.SetDenyRules(rules); err != nil {
			return err
		}
	}
	return nil
}

func rulesFromNode(n *statetree.Node) ([]Rule, error) {
	if !n.IsSequence() {
		return nil, errors.New("must be a sequence")
	}
	var rules []Rule
	for _, item := range n.Items() {
		if t, ok := item.Child(fieldRuleType); ok && t.StringOr("") != stateRuleType {
			continue
		}
		opNode, ok := item.Child(fieldOperation)
		if !ok {
			return nil, errors.New("rule without operation")
		}
		op, err := ParseOperation(opNode.StringOr(""))
		if err != nil {
			return nil, err
		}
		masksNode, ok := item.Child(fieldFilterMask)
		if !ok || !masksNode.IsSequence() {
			return nil, errors.New("rule filter mask must be a sequence")
		}
		rule := Rule{Operation: op}
		for _, m := range masksNode.Items() {
			s, ok := m.Str()
			if !ok {
				return nil, errors.New("rule filter mask entries must be strings")
			}
			rule.FilterMask = append(rule.FilterMask, s)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
