// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package statetree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// FromAny converts plain Go values (as produced by encoding/json or built
// by hand) into a tree. Maps are visited in sorted key order.
func FromAny(v any) (*Node, error) {
	switch t := v.(type) {
	case *Node:
		return t.Clone(), nil
	case map[string]any:
		m := NewMapping()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c, err := FromAny(t[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m.Set(k, c)
		}
		return m, nil
	case map[string]string:
		m := NewMapping()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, NewString(t[k]))
		}
		return m, nil
	case []any:
		seq := NewSequence()
		for i, it := range t {
			c, err := FromAny(it)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq.Append(c)
		}
		return seq, nil
	case []string:
		seq := NewSequence()
		for _, it := range t {
			seq.Append(NewString(it))
		}
		return seq, nil
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NewScalar(t), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// MustFromAny is FromAny for literals known to be valid, mostly in tests.
func MustFromAny(v any) *Node {
	n, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return n
}

// ToAny converts the tree to plain Go values.
func (n *Node) ToAny() any {
	switch n.Kind() {
	case KindMapping:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			out[k] = n.children[k].ToAny()
		}
		return out
	case KindSequence:
		out := make([]any, len(n.items))
		for i, it := range n.items {
			out[i] = it.ToAny()
		}
		return out
	case KindScalar:
		return n.scalar
	default:
		return nil
	}
}

// MarshalJSON encodes the tree keeping mapping key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	switch n.Kind() {
	case KindMapping:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := n.children[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindSequence:
		buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(n.Scalar())
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// UnmarshalJSON decodes a JSON document into the tree. Object key order
// is preserved.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeJSON(dec)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func decodeJSON(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMapping()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				child, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			seq := NewSequence()
			for dec.More() {
				child, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				seq.Append(child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return seq, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return NewScalar(f), nil
	default:
		return NewScalar(t), nil
	}
}

// FromYAML converts a decoded yaml.v3 node. Document nodes are unwrapped,
// aliases are resolved and mapping key order is preserved.
func FromYAML(y *yaml.Node) (*Node, error) {
	if y == nil {
		return NewMapping(), nil
	}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return NewMapping(), nil
		}
		return FromYAML(y.Content[0])
	case yaml.AliasNode:
		return FromYAML(y.Alias)
	case yaml.MappingNode:
		m := NewMapping()
		for i := 0; i+1 < len(y.Content); i += 2 {
			keyNode, valNode := y.Content[i], y.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", keyNode.Line)
			}
			child, err := FromYAML(valNode)
			if err != nil {
				return nil, err
			}
			m.Set(keyNode.Value, child)
		}
		return m, nil
	case yaml.SequenceNode:
		seq := NewSequence()
		for _, c := range y.Content {
			child, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			seq.Append(child)
		}
		return seq, nil
	case yaml.ScalarNode:
		return scalarFromYAML(y)
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", y.Line, y.Kind)
	}
}

func scalarFromYAML(y *yaml.Node) (*Node, error) {
	switch y.ShortTag() {
	case "!!null":
		return NewScalar(nil), nil
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err != nil {
			return nil, err
		}
		return NewScalar(b), nil
	case "!!int", "!!float":
		var f float64
		if err := y.Decode(&f); err != nil {
			return nil, err
		}
		return NewScalar(f), nil
	default:
		return NewString(y.Value), nil
	}
}

// ParseYAML decodes a YAML document into a tree.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return FromYAML(&doc)
}

// ToYAML converts the tree into a yaml.v3 node, keeping key order.
func (n *Node) ToYAML() *yaml.Node {
	switch n.Kind() {
	case KindMapping:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range n.keys {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				n.children[k].ToYAML())
		}
		return out
	case KindSequence:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range n.items {
			out.Content = append(out.Content, it.ToYAML())
		}
		return out
	default:
		return scalarToYAML(n.Scalar())
	}
}

func scalarToYAML(v any) *yaml.Node {
	switch t := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}
	case float64:
		if t == float64(int64(t)) {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(t), 10)}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(t, 'g', -1, 64)}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(t)}
	}
}

// MarshalYAML implements yaml.Marshaler.
func (n *Node) MarshalYAML() (interface{}, error) {
	return n.ToYAML(), nil
}

// FromStruct converts a protobuf Struct. Struct fields are unordered on the
// wire, so keys are inserted in sorted order.
func FromStruct(s *structpb.Struct) *Node {
	m := NewMapping()
	if s == nil {
		return m
	}
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, FromValue(s.GetFields()[k]))
	}
	return m
}

// FromValue converts a protobuf Value.
func FromValue(v *structpb.Value) *Node {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		return FromStruct(k.StructValue)
	case *structpb.Value_ListValue:
		seq := NewSequence()
		for _, it := range k.ListValue.GetValues() {
			seq.Append(FromValue(it))
		}
		return seq
	case *structpb.Value_StringValue:
		return NewString(k.StringValue)
	case *structpb.Value_NumberValue:
		return NewScalar(k.NumberValue)
	case *structpb.Value_BoolValue:
		return NewScalar(k.BoolValue)
	default:
		return NewScalar(nil)
	}
}

// ToStruct converts a mapping node into a protobuf Struct.
func (n *Node) ToStruct() (*structpb.Struct, error) {
	if n == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	if n.Kind() != KindMapping {
		return nil, fmt.Errorf("state document root must be a mapping, got %s", n.Kind())
	}
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(n.keys))}
	for _, k := range n.keys {
		v, err := n.children[k].ToValue()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out.Fields[k] = v
	}
	return out, nil
}

// ToValue converts any node into a protobuf Value.
func (n *Node) ToValue() (*structpb.Value, error) {
	switch n.Kind() {
	case KindMapping:
		s, err := n.ToStruct()
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	case KindSequence:
		list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(n.items))}
		for i, it := range n.items {
			v, err := it.ToValue()
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list.Values = append(list.Values, v)
		}
		return structpb.NewListValue(list), nil
	case KindScalar:
		switch t := n.scalar.(type) {
		case nil:
			return structpb.NewNullValue(), nil
		case bool:
			return structpb.NewBoolValue(t), nil
		case float64:
			return structpb.NewNumberValue(t), nil
		case string:
			return structpb.NewStringValue(t), nil
		default:
			return nil, fmt.Errorf("unsupported scalar %T", t)
		}
	default:
		return structpb.NewNullValue(), nil
	}
}
