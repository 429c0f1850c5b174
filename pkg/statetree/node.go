// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package statetree models the orchestrator's state document as a tree of
// scalars, ordered-key mappings and sequences, and implements the field
// mask operations (filter, merge, overlay) over it.
package statetree

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies the variant held by a Node.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PathSeparator separates segments of a field mask path.
const PathSeparator = "."

// Node is one node of a state document. The zero value is not usable; use
// NewScalar, NewMapping or NewSequence.
//
// Scalars hold nil, bool, float64 or string. Mapping keys are unique and
// keep insertion order.
type Node struct {
	kind     Kind
	scalar   any
	keys     []string
	children map[string]*Node
	items    []*Node
}

// NewScalar creates a scalar node. Integer and float types are stored as
// float64, matching the protobuf Struct number representation.
func NewScalar(v any) *Node {
	return &Node{kind: KindScalar, scalar: normalizeScalar(v)}
}

// NewString is a shorthand for NewScalar with a string.
func NewString(s string) *Node {
	return &Node{kind: KindScalar, scalar: s}
}

// NewMapping creates an empty mapping node.
func NewMapping() *Node {
	return &Node{kind: KindMapping, children: make(map[string]*Node)}
}

// NewSequence creates a sequence node holding items.
func NewSequence(items ...*Node) *Node {
	seq := &Node{kind: KindSequence, items: make([]*Node, 0, len(items))}
	for _, it := range items {
		if it != nil {
			seq.items = append(seq.items, it)
		}
	}
	return seq
}

func normalizeScalar(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Kind returns the node variant.
func (n *Node) Kind() Kind {
	if n == nil {
		return 0
	}
	return n.kind
}

func (n *Node) IsMapping() bool  { return n.Kind() == KindMapping }
func (n *Node) IsSequence() bool { return n.Kind() == KindSequence }
func (n *Node) IsScalar() bool   { return n.Kind() == KindScalar }

// Scalar returns the scalar value, or nil for non-scalar nodes.
func (n *Node) Scalar() any {
	if n.Kind() != KindScalar {
		return nil
	}
	return n.scalar
}

// Str returns the scalar as a string if it is one.
func (n *Node) Str() (string, bool) {
	s, ok := n.Scalar().(string)
	return s, ok
}

// StringOr returns the scalar string or def.
func (n *Node) StringOr(def string) string {
	if s, ok := n.Str(); ok {
		return s
	}
	return def
}

// Bool returns the scalar as a bool if it is one.
func (n *Node) Bool() (bool, bool) {
	b, ok := n.Scalar().(bool)
	return b, ok
}

// Number returns the scalar as a float64 if it is one.
func (n *Node) Number() (float64, bool) {
	f, ok := n.Scalar().(float64)
	return f, ok
}

// Len returns the number of mapping entries or sequence items.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindMapping:
		return len(n.keys)
	case KindSequence:
		return len(n.items)
	default:
		return 0
	}
}

// Keys returns the mapping keys in insertion order.
func (n *Node) Keys() []string {
	if n.Kind() != KindMapping {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Child returns the mapping entry for key.
func (n *Node) Child(key string) (*Node, bool) {
	if n.Kind() != KindMapping {
		return nil, false
	}
	c, ok := n.children[key]
	return c, ok
}

// Items returns the sequence items.
func (n *Node) Items() []*Node {
	if n.Kind() != KindSequence {
		return nil
	}
	out := make([]*Node, len(n.items))
	copy(out, n.items)
	return out
}

// Append adds an item to a sequence node.
func (n *Node) Append(item *Node) {
	if n.Kind() != KindSequence || item == nil {
		return
	}
	n.items = append(n.items, item)
}

// Set inserts or replaces a mapping entry. Replacing keeps the key's
// original position. Set on a non-mapping node is a no-op.
func (n *Node) Set(key string, child *Node) {
	if n.Kind() != KindMapping || child == nil {
		return
	}
	if _, exists := n.children[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.children[key] = child
}

// Delete removes a mapping entry and reports whether it existed.
func (n *Node) Delete(key string) bool {
	if n.Kind() != KindMapping {
		return false
	}
	if _, exists := n.children[key]; !exists {
		return false
	}
	delete(n.children, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
	return true
}

// SplitPath splits a dot path into its segments. The empty path has no
// segments and denotes the root.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// JoinPath joins segments into a dot path.
func JoinPath(segments ...string) string {
	return strings.Join(segments, PathSeparator)
}

// Lookup walks path from n and returns the node it resolves to.
func (n *Node) Lookup(path string) (*Node, bool) {
	return n.lookup(SplitPath(path))
}

func (n *Node) lookup(segments []string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	cur := n
	for _, seg := range segments {
		next, ok := cur.Child(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath stores v at path, creating intermediate mappings and replacing
// any non-mapping node in the way. The empty path cannot be set.
func (n *Node) SetPath(path string, v *Node) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("cannot set the root of a state tree")
	}
	if n.Kind() != KindMapping {
		return fmt.Errorf("cannot set %q below a %s node", path, n.Kind())
	}
	cur := n
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur.Child(seg)
		if !ok || next.Kind() != KindMapping {
			next = NewMapping()
			cur.Set(seg, next)
		}
		cur = next
	}
	cur.Set(segments[len(segments)-1], v)
	return nil
}

// DeletePath removes the node at path and reports whether it existed.
// Mappings left empty by the removal are kept.
func (n *Node) DeletePath(path string) bool {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return false
	}
	parent, ok := n.lookup(segments[:len(segments)-1])
	if !ok {
		return false
	}
	return parent.Delete(segments[len(segments)-1])
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindMapping:
		out := &Node{kind: KindMapping, keys: make([]string, len(n.keys)), children: make(map[string]*Node, len(n.children))}
		copy(out.keys, n.keys)
		for k, c := range n.children {
			out.children[k] = c.Clone()
		}
		return out
	case KindSequence:
		out := &Node{kind: KindSequence, items: make([]*Node, len(n.items))}
		for i, it := range n.items {
			out.items[i] = it.Clone()
		}
		return out
	default:
		return &Node{kind: n.kind, scalar: n.scalar}
	}
}

// Equal reports structural equality. Mapping key order is ignored,
// sequence order is not.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == nil && other == nil
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindMapping:
		if len(n.children) != len(other.children) {
			return false
		}
		for k, c := range n.children {
			oc, ok := other.children[k]
			if !ok || !c.Equal(oc) {
				return false
			}
		}
		return true
	case KindSequence:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(n.scalar, other.scalar)
	}
}

func scalarEqual(a, b any) bool {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	return a == b
}

// String renders n as compact JSON.
func (n *Node) String() string {
	b, err := n.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid %s: %v>", n.Kind(), err)
	}
	return string(b)
}
