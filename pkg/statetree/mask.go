// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package statetree

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Filter returns the part of root selected by mask. Every path that
// resolves is copied to the same position in the result; paths that do not
// resolve contribute nothing. An empty mask selects the whole document.
// Filter never modifies root, and Filter(Filter(s, m), m) equals Filter(s, m).
func Filter(root *Node, mask []string) *Node {
	if root == nil {
		return NewMapping()
	}
	if len(mask) == 0 {
		return root.Clone()
	}

	out := NewMapping()
	for _, path := range NormalizeMask(mask) {
		if path == "" {
			return root.Clone()
		}
		sub, ok := root.Lookup(path)
		if !ok {
			continue
		}
		// SetPath only fails for the empty path or a non-mapping root,
		// both excluded above.
		_ = out.SetPath(path, sub.Clone())
	}
	return out
}

// Merge applies patch on top of dst and returns the result. Mappings are
// merged key by key; any other node in patch (scalar, sequence, or a node of
// a different kind than its counterpart) replaces the node in dst as a
// whole. Keys absent from patch are kept. Neither input is modified.
func Merge(dst, patch *Node) *Node {
	if patch == nil {
		return dst.Clone()
	}
	if dst == nil || dst.Kind() != KindMapping || patch.Kind() != KindMapping {
		return patch.Clone()
	}

	out := dst.Clone()
	for _, key := range patch.keys {
		incoming := patch.children[key]
		existing, ok := out.children[key]
		if !ok {
			out.Set(key, incoming.Clone())
			continue
		}
		out.Set(key, Merge(existing, incoming))
	}
	return out
}

// Overlay makes dst authoritative-from-src for the subtrees named by mask:
// each path is replaced by src's subtree, or deleted from dst when src does
// not contain it. An empty mask replaces dst with src entirely.
func Overlay(dst, src *Node, mask []string) *Node {
	if len(mask) == 0 {
		if src == nil {
			return NewMapping()
		}
		return src.Clone()
	}

	var out *Node
	if dst.Kind() == KindMapping {
		out = dst.Clone()
	} else {
		out = NewMapping()
	}
	for _, path := range NormalizeMask(mask) {
		if path == "" {
			if src == nil {
				return NewMapping()
			}
			return src.Clone()
		}
		if sub, ok := src.Lookup(path); ok {
			_ = out.SetPath(path, sub.Clone())
		} else {
			out.DeletePath(path)
		}
	}
	return out
}

// NormalizeMask removes duplicate paths and paths covered by a shorter
// path in the same mask, keeping first-seen order. A mask containing the
// empty path normalizes to just the empty path.
func NormalizeMask(mask []string) []string {
	uniq := lo.Uniq(lo.Map(mask, func(p string, _ int) string {
		return strings.Trim(p, PathSeparator)
	}))
	if lo.Contains(uniq, "") {
		return []string{""}
	}
	return lo.Filter(uniq, func(p string, _ int) bool {
		return !lo.SomeBy(uniq, func(other string) bool {
			return other != p && covers(other, p)
		})
	})
}

// covers reports whether prefix selects a subtree containing path.
func covers(prefix, path string) bool {
	return strings.HasPrefix(path, prefix+PathSeparator)
}

// Covers reports whether any path in mask selects path or one of its
// ancestors. An empty mask covers everything.
func Covers(mask []string, path string) bool {
	if len(mask) == 0 {
		return true
	}
	return lo.SomeBy(mask, func(p string) bool {
		return p == "" || p == path || covers(p, path)
	})
}

// LeafPaths lists the dot paths of all scalar and sequence nodes under
// root, sorted.
func LeafPaths(root *Node) []string {
	var out []string
	var walk func(n *Node, prefix []string)
	walk = func(n *Node, prefix []string) {
		if n.Kind() != KindMapping {
			if len(prefix) > 0 {
				out = append(out, JoinPath(prefix...))
			}
			return
		}
		if n.Len() == 0 && len(prefix) > 0 {
			out = append(out, JoinPath(prefix...))
			return
		}
		for _, k := range n.keys {
			walk(n.children[k], append(append([]string(nil), prefix...), k))
		}
	}
	walk(root, nil)
	sort.Strings(out)
	return out
}
