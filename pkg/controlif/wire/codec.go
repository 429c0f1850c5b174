// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// MaxFrameSize bounds the body of a single frame.
const MaxFrameSize = 64 << 20

// ErrIncomplete is returned by the decoders when buf does not yet hold a
// whole frame. Nothing is consumed; call again with more bytes.
var ErrIncomplete = errors.New("incomplete frame")

// Encode frames an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	body, err := marshalOutbound(msg)
	if err != nil {
		return nil, err
	}
	return frame(body), nil
}

// Decode reads one inbound frame from the start of buf and returns the
// message and the number of bytes it occupied. It returns ErrIncomplete when
// more bytes are needed, or an error matching errdefs.ErrMalformedFrame when
// the stream cannot be decoded.
func Decode(buf []byte) (Inbound, int, error) {
	body, n, err := readFrame(buf)
	if err != nil {
		return nil, 0, err
	}
	msg, err := unmarshalInbound(body)
	if err != nil {
		return nil, 0, malformed("invalid envelope", err)
	}
	return msg, n, nil
}

// EncodeInbound frames a message in the peer's direction.
func EncodeInbound(msg Inbound) ([]byte, error) {
	body, err := marshalInbound(msg)
	if err != nil {
		return nil, err
	}
	return frame(body), nil
}

// DecodeOutbound reads one frame written by a client. It is the peer-side
// mirror of Decode.
func DecodeOutbound(buf []byte) (Outbound, int, error) {
	body, n, err := readFrame(buf)
	if err != nil {
		return nil, 0, err
	}
	msg, err := unmarshalOutbound(body)
	if err != nil {
		return nil, 0, malformed("invalid envelope", err)
	}
	return msg, n, nil
}

func malformed(reason string, err error) error {
	return &errdefs.MalformedFrameError{Reason: reason, Err: err}
}

func frame(body []byte) []byte {
	out := make([]byte, 0, len(body)+binary.MaxVarintLen64)
	out = protowire.AppendVarint(out, uint64(len(body)))
	return append(out, body...)
}

func readFrame(buf []byte) ([]byte, int, error) {
	for i := 0; i < len(buf) && i < binary.MaxVarintLen64; i++ {
		if buf[i]&0x80 != 0 {
			continue
		}
		size, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, 0, malformed("invalid length prefix", protowire.ParseError(n))
		}
		if size > MaxFrameSize {
			return nil, 0, malformed(fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize), nil)
		}
		total := n + int(size)
		if len(buf) < total {
			return nil, 0, ErrIncomplete
		}
		return buf[n:total], total, nil
	}
	if len(buf) >= binary.MaxVarintLen64 {
		return nil, 0, malformed("length prefix longer than 10 bytes", nil)
	}
	return nil, 0, ErrIncomplete
}

// --- encoding ---

var deterministic = proto.MarshalOptions{Deterministic: true}

func setState(d dyn, name protoreflect.Name, state *statetree.Node) error {
	s, err := state.ToStruct()
	if err != nil {
		return err
	}
	d.setMessage(name, s)
	return nil
}

func setAltered(d dyn, name protoreflect.Name, a AlteredFields) {
	if a.Empty() {
		return
	}
	body := d.mutable(name)
	body.setStrings("added_fields", a.Added)
	body.setStrings("updated_fields", a.Updated)
	body.setStrings("removed_fields", a.Removed)
}

func setInstance(d dyn, i workloadstate.InstanceName) {
	d.setString("workload_name", i.WorkloadName)
	d.setString("agent_name", i.AgentName)
	d.setString("id", i.WorkloadID)
}

func addInstances(d dyn, name protoreflect.Name, instances []workloadstate.InstanceName) {
	for _, i := range instances {
		d.add(name, func(n dyn) { setInstance(n, i) })
	}
}

func marshalOutbound(msg Outbound) ([]byte, error) {
	env := newDyn("ToServer")
	switch m := msg.(type) {
	case *Hello:
		env.mutable("hello").setString("protocol_version", m.ProtocolVersion)
	case *Request:
		if err := marshalRequest(env.mutable("request"), m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported outbound message %T", msg)
	}
	return deterministic.Marshal(env.m.Interface())
}

func marshalRequest(d dyn, r *Request) error {
	if r.ID == "" {
		return errors.New("request without id")
	}
	d.setString("request_id", r.ID)
	switch r.Kind {
	case RequestUpdateState:
		body := d.mutable("update_state_request")
		if err := setState(body, "new_state", r.State); err != nil {
			return err
		}
		body.setStrings("update_mask", r.UpdateMask)
	case RequestGetState:
		body := d.mutable("complete_state_request")
		body.setStrings("field_mask", r.FieldMask)
		body.setBool("subscribe_for_events", r.SubscribeEvents)
	case RequestCancelEvents:
		d.mutable("events_cancel_request")
	case RequestLogs:
		body := d.mutable("logs_request")
		addInstances(body, "workload_names", r.Logs.Instances)
		body.setBool("follow", r.Logs.Follow)
		body.setInt32("tail", r.Logs.Tail)
		body.setString("since", r.Logs.Since)
		body.setString("until", r.Logs.Until)
	case RequestCancelLogs:
		d.mutable("logs_cancel_request")
	default:
		return fmt.Errorf("unsupported request kind %s", r.Kind)
	}
	return nil
}

func marshalInbound(msg Inbound) ([]byte, error) {
	env := newDyn("FromServer")
	switch m := msg.(type) {
	case *Response:
		if err := marshalResponse(env.mutable("response"), m); err != nil {
			return nil, err
		}
	case *Notification:
		body := env.mutable("state_notification")
		if err := setState(body, "state", m.State); err != nil {
			return nil, err
		}
		setAltered(body, "altered_fields", m.Altered)
	case *ConnectionClosed:
		env.mutable("connection_closed").setString("reason", m.Reason)
	default:
		return nil, fmt.Errorf("unsupported inbound message %T", msg)
	}
	return deterministic.Marshal(env.m.Interface())
}

func marshalResponse(d dyn, r *Response) error {
	d.setString("request_id", r.RequestID)
	switch r.Kind {
	case ResponseError:
		d.mutable("error").setString("message", r.ErrorMessage)
	case ResponseCompleteState:
		body := d.mutable("complete_state_response")
		if err := setState(body, "state", r.State); err != nil {
			return err
		}
		setAltered(body, "altered_fields", r.Altered)
	case ResponseUpdateStateSuccess:
		body := d.mutable("update_state_success")
		body.setStrings("added_workloads", r.Added)
		body.setStrings("deleted_workloads", r.Deleted)
	case ResponseEventsCancelAccepted:
		d.mutable("events_cancel_accepted")
	case ResponseLogsAccepted:
		addInstances(d.mutable("logs_request_accepted"), "workload_names", r.Instances)
	case ResponseLogEntries:
		body := d.mutable("log_entries_response")
		for _, e := range r.LogEntries {
			body.add("log_entries", func(n dyn) {
				setInstance(n.mutable("workload_name"), e.Instance)
				n.setString("message", e.Message)
			})
		}
	case ResponseLogsStop:
		if len(r.Instances) != 1 {
			return fmt.Errorf("logs stop names %d instances, want 1", len(r.Instances))
		}
		setInstance(d.mutable("logs_stop_response").mutable("workload_name"), r.Instances[0])
	case ResponseLogsCancelAccepted:
		d.mutable("logs_cancel_accepted")
	default:
		return fmt.Errorf("unsupported response kind %s", r.Kind)
	}
	return nil
}

// --- decoding ---

func unmarshalEnvelope(name protoreflect.Name, body []byte) (dyn, error) {
	env := newDyn(name)
	if err := proto.Unmarshal(body, env.m.Interface()); err != nil {
		return dyn{}, err
	}
	return env, nil
}

// getState converts the Struct held by name. The schema's messages are
// dynamic, so the Struct is re-read as a structpb.Struct.
func getState(d dyn, name protoreflect.Name) (*statetree.Node, error) {
	if !d.has(name) {
		return statetree.NewMapping(), nil
	}
	raw, err := proto.Marshal(d.get(name).m.Interface())
	if err != nil {
		return nil, fmt.Errorf("invalid state document: %w", err)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid state document: %w", err)
	}
	return statetree.FromStruct(&s), nil
}

func getAltered(d dyn, name protoreflect.Name) AlteredFields {
	body := d.get(name)
	return AlteredFields{
		Added:   body.strs("added_fields"),
		Updated: body.strs("updated_fields"),
		Removed: body.strs("removed_fields"),
	}
}

func getInstance(d dyn) workloadstate.InstanceName {
	return workloadstate.InstanceName{
		WorkloadName: d.str("workload_name"),
		AgentName:    d.str("agent_name"),
		WorkloadID:   d.str("id"),
	}
}

func getInstances(d dyn, name protoreflect.Name) []workloadstate.InstanceName {
	items := d.list(name)
	if len(items) == 0 {
		return nil
	}
	out := make([]workloadstate.InstanceName, len(items))
	for i, item := range items {
		out[i] = getInstance(item)
	}
	return out
}

func unmarshalInbound(body []byte) (Inbound, error) {
	env, err := unmarshalEnvelope("FromServer", body)
	if err != nil {
		return nil, err
	}
	switch env.which("FromServerEnum") {
	case "response":
		return unmarshalResponse(env.get("response"))
	case "state_notification":
		note := env.get("state_notification")
		state, err := getState(note, "state")
		if err != nil {
			return nil, err
		}
		return &Notification{State: state, Altered: getAltered(note, "altered_fields")}, nil
	case "connection_closed":
		return &ConnectionClosed{Reason: env.get("connection_closed").str("reason")}, nil
	default:
		return nil, errors.New("envelope carries no known message")
	}
}

func unmarshalResponse(d dyn) (*Response, error) {
	resp := &Response{RequestID: d.str("request_id")}
	if resp.RequestID == "" {
		return nil, errors.New("response without request id")
	}
	switch d.which("ResponseContent") {
	case "error":
		resp.Kind = ResponseError
		resp.ErrorMessage = d.get("error").str("message")
	case "complete_state_response":
		body := d.get("complete_state_response")
		state, err := getState(body, "state")
		if err != nil {
			return nil, err
		}
		resp.Kind = ResponseCompleteState
		resp.State = state
		resp.Altered = getAltered(body, "altered_fields")
	case "update_state_success":
		body := d.get("update_state_success")
		resp.Kind = ResponseUpdateStateSuccess
		resp.Added = body.strs("added_workloads")
		resp.Deleted = body.strs("deleted_workloads")
	case "events_cancel_accepted":
		resp.Kind = ResponseEventsCancelAccepted
	case "logs_request_accepted":
		resp.Kind = ResponseLogsAccepted
		resp.Instances = getInstances(d.get("logs_request_accepted"), "workload_names")
	case "log_entries_response":
		resp.Kind = ResponseLogEntries
		for _, e := range d.get("log_entries_response").list("log_entries") {
			if !e.has("workload_name") {
				return nil, errors.New("log entry without workload instance name")
			}
			resp.LogEntries = append(resp.LogEntries, LogEntry{
				Instance: getInstance(e.get("workload_name")),
				Message:  e.str("message"),
			})
		}
	case "logs_stop_response":
		body := d.get("logs_stop_response")
		if !body.has("workload_name") {
			return nil, errors.New("logs stop without workload instance name")
		}
		resp.Kind = ResponseLogsStop
		resp.Instances = []workloadstate.InstanceName{getInstance(body.get("workload_name"))}
	case "logs_cancel_accepted":
		resp.Kind = ResponseLogsCancelAccepted
	default:
		return nil, errors.New("response without content")
	}
	return resp, nil
}

func unmarshalOutbound(body []byte) (Outbound, error) {
	env, err := unmarshalEnvelope("ToServer", body)
	if err != nil {
		return nil, err
	}
	switch env.which("ToServerEnum") {
	case "hello":
		return &Hello{ProtocolVersion: env.get("hello").str("protocol_version")}, nil
	case "request":
		return unmarshalRequest(env.get("request"))
	default:
		return nil, errors.New("envelope carries no known message")
	}
}

func unmarshalRequest(d dyn) (*Request, error) {
	req := &Request{ID: d.str("request_id")}
	if req.ID == "" {
		return nil, errors.New("request without id")
	}
	switch d.which("RequestContent") {
	case "update_state_request":
		body := d.get("update_state_request")
		state, err := getState(body, "new_state")
		if err != nil {
			return nil, err
		}
		req.Kind = RequestUpdateState
		req.State = state
		req.UpdateMask = body.strs("update_mask")
	case "complete_state_request":
		body := d.get("complete_state_request")
		req.Kind = RequestGetState
		req.FieldMask = body.strs("field_mask")
		req.SubscribeEvents = body.boolean("subscribe_for_events")
	case "events_cancel_request":
		req.Kind = RequestCancelEvents
	case "logs_request":
		body := d.get("logs_request")
		req.Kind = RequestLogs
		req.Logs = LogsQuery{
			Instances: getInstances(body, "workload_names"),
			Follow:    body.boolean("follow"),
			Tail:      body.int32("tail"),
			Since:     body.str("since"),
			Until:     body.str("until"),
		}
	case "logs_cancel_request":
		req.Kind = RequestCancelLogs
	default:
		return nil, errors.New("request without payload")
	}
	return req, nil
}
