// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	schemaPackage = "wlctl.controlif.v1"
	structType    = ".google.protobuf.Struct"
)

// schema is controlif.proto, resolved against the well-known types.
var schema = mustBuildSchema()

func mustBuildSchema() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(schemaFile(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("wire: invalid control interface schema: %v", err))
	}
	return fd
}

func schemaFile() *descriptorpb.FileDescriptorProto {
	instance := local("WorkloadInstanceName")
	altered := local("AlteredFields")

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("wlctl/controlif/v1/controlif.proto"),
		Package:    proto.String(schemaPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/noldarim/wlctl/pkg/controlif/wire"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			withOneof(messageType("ToServer"), "ToServerEnum",
				messageField("hello", 1, local("Hello")),
				messageField("request", 3, local("Request")),
			),
			messageType("Hello", stringField("protocol_version", 1)),
			withOneof(messageType("Request", stringField("request_id", 1)), "RequestContent",
				messageField("update_state_request", 2, local("UpdateStateRequest")),
				messageField("complete_state_request", 3, local("CompleteStateRequest")),
				messageField("events_cancel_request", 4, local("EventsCancelRequest")),
				messageField("logs_request", 5, local("LogsRequest")),
				messageField("logs_cancel_request", 6, local("LogsCancelRequest")),
			),
			messageType("UpdateStateRequest",
				messageField("new_state", 1, structType),
				repeated(stringField("update_mask", 2)),
			),
			messageType("CompleteStateRequest",
				repeated(stringField("field_mask", 1)),
				scalarField("subscribe_for_events", 2, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
			),
			messageType("EventsCancelRequest"),
			messageType("WorkloadInstanceName",
				stringField("workload_name", 1),
				stringField("agent_name", 2),
				stringField("id", 3),
			),
			messageType("LogsRequest",
				repeated(messageField("workload_names", 1, instance)),
				scalarField("follow", 2, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				scalarField("tail", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				stringField("since", 4),
				stringField("until", 5),
			),
			messageType("LogsCancelRequest"),

			withOneof(messageType("FromServer"), "FromServerEnum",
				messageField("response", 3, local("Response")),
				messageField("connection_closed", 5, local("ConnectionClosed")),
				messageField("state_notification", 6, local("StateNotification")),
			),
			messageType("ConnectionClosed", stringField("reason", 1)),
			withOneof(messageType("Response", stringField("request_id", 1)), "ResponseContent",
				messageField("error", 3, local("Error")),
				messageField("complete_state_response", 4, local("CompleteStateResponse")),
				messageField("update_state_success", 5, local("UpdateStateSuccess")),
				messageField("events_cancel_accepted", 6, local("EventsCancelAccepted")),
				messageField("logs_request_accepted", 7, local("LogsRequestAccepted")),
				messageField("log_entries_response", 8, local("LogEntriesResponse")),
				messageField("logs_stop_response", 9, local("LogsStopResponse")),
				messageField("logs_cancel_accepted", 10, local("LogsCancelAccepted")),
			),
			messageType("Error", stringField("message", 1)),
			messageType("AlteredFields",
				repeated(stringField("added_fields", 1)),
				repeated(stringField("updated_fields", 2)),
				repeated(stringField("removed_fields", 3)),
			),
			messageType("CompleteStateResponse",
				messageField("state", 1, structType),
				messageField("altered_fields", 2, altered),
			),
			messageType("UpdateStateSuccess",
				repeated(stringField("added_workloads", 1)),
				repeated(stringField("deleted_workloads", 2)),
			),
			messageType("EventsCancelAccepted"),
			messageType("LogsRequestAccepted", repeated(messageField("workload_names", 1, instance))),
			messageType("LogEntry",
				messageField("workload_name", 1, instance),
				stringField("message", 2),
			),
			messageType("LogEntriesResponse", repeated(messageField("log_entries", 1, local("LogEntry")))),
			messageType("LogsStopResponse", messageField("workload_name", 1, instance)),
			messageType("LogsCancelAccepted"),
			messageType("StateNotification",
				messageField("state", 1, structType),
				messageField("altered_fields", 2, altered),
			),
		},
	}
}

func local(name string) string {
	return "." + schemaPackage + "." + name
}

func messageType(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// withOneof appends fields to m as members of a new oneof.
func withOneof(m *descriptorpb.DescriptorProto, name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	idx := int32(len(m.OneofDecl))
	m.OneofDecl = append(m.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(name)})
	for _, f := range fields {
		f.OneofIndex = proto.Int32(idx)
		m.Field = append(m.Field, f)
	}
	return m
}

func scalarField(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func stringField(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_STRING)
}

func messageField(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

// dyn is a message of the schema with accessors by field name. Unknown
// names are programming errors and panic.
type dyn struct {
	m protoreflect.Message
}

func newDyn(name protoreflect.Name) dyn {
	md := schema.Messages().ByName(name)
	if md == nil {
		panic(fmt.Sprintf("wire: schema has no message %s", name))
	}
	return dyn{m: dynamicpb.NewMessage(md)}
}

func (d dyn) field(name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := d.m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("wire: %s has no field %s", d.m.Descriptor().FullName(), name))
	}
	return fd
}

func (d dyn) setString(name protoreflect.Name, v string) {
	if v != "" {
		d.m.Set(d.field(name), protoreflect.ValueOfString(v))
	}
}

func (d dyn) setBool(name protoreflect.Name, v bool) {
	if v {
		d.m.Set(d.field(name), protoreflect.ValueOfBool(v))
	}
}

func (d dyn) setInt32(name protoreflect.Name, v int32) {
	if v != 0 {
		d.m.Set(d.field(name), protoreflect.ValueOfInt32(v))
	}
}

func (d dyn) setStrings(name protoreflect.Name, vs []string) {
	if len(vs) == 0 {
		return
	}
	l := d.m.Mutable(d.field(name)).List()
	for _, v := range vs {
		l.Append(protoreflect.ValueOfString(v))
	}
}

func (d dyn) setMessage(name protoreflect.Name, m proto.Message) {
	d.m.Set(d.field(name), protoreflect.ValueOfMessage(m.ProtoReflect()))
}

// mutable returns the message held by name, populating it if unset. For a
// oneof member this selects the member.
func (d dyn) mutable(name protoreflect.Name) dyn {
	return dyn{m: d.m.Mutable(d.field(name)).Message()}
}

// add appends a message to the repeated field name and fills it.
func (d dyn) add(name protoreflect.Name, fill func(dyn)) {
	l := d.m.Mutable(d.field(name)).List()
	v := l.NewElement()
	fill(dyn{m: v.Message()})
	l.Append(v)
}

func (d dyn) has(name protoreflect.Name) bool {
	return d.m.Has(d.field(name))
}

func (d dyn) str(name protoreflect.Name) string {
	return d.m.Get(d.field(name)).String()
}

func (d dyn) boolean(name protoreflect.Name) bool {
	return d.m.Get(d.field(name)).Bool()
}

func (d dyn) int32(name protoreflect.Name) int32 {
	return int32(d.m.Get(d.field(name)).Int())
}

func (d dyn) strs(name protoreflect.Name) []string {
	l := d.m.Get(d.field(name)).List()
	if l.Len() == 0 {
		return nil
	}
	out := make([]string, l.Len())
	for i := range out {
		out[i] = l.Get(i).String()
	}
	return out
}

// get returns the message held by name; an unset field reads as empty.
func (d dyn) get(name protoreflect.Name) dyn {
	return dyn{m: d.m.Get(d.field(name)).Message()}
}

func (d dyn) list(name protoreflect.Name) []dyn {
	l := d.m.Get(d.field(name)).List()
	out := make([]dyn, l.Len())
	for i := range out {
		out[i] = dyn{m: l.Get(i).Message()}
	}
	return out
}

// which returns the name of the member set in oneof, or "".
func (d dyn) which(oneof protoreflect.Name) protoreflect.Name {
	od := d.m.Descriptor().Oneofs().ByName(oneof)
	if od == nil {
		panic(fmt.Sprintf("wire: %s has no oneof %s", d.m.Descriptor().FullName(), oneof))
	}
	if fd := d.m.WhichOneof(od); fd != nil {
		return fd.Name()
	}
	return ""
}
