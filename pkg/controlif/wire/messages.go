// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire defines the control interface messages and their framing:
// each frame is a varint length prefix followed by a protobuf-encoded
// envelope described by controlif.proto. State documents travel as
// google.protobuf.Struct.
package wire

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// Outbound is a message sent by the client. The set of implementations is
// closed: Hello and Request.
type Outbound interface {
	outbound()
}

// Inbound is a message sent by the peer. The set of implementations is
// closed: Response, Notification and ConnectionClosed.
type Inbound interface {
	inbound()
}

// Hello opens the conversation and announces the protocol version.
type Hello struct {
	ProtocolVersion string
}

func (*Hello) outbound() {}

// RequestKind selects the payload of a Request.
type RequestKind uint8

const (
	RequestUpdateState RequestKind = iota + 1
	RequestGetState
	RequestCancelEvents
	RequestLogs
	RequestCancelLogs
)

func (k RequestKind) String() string {
	switch k {
	case RequestUpdateState:
		return "UpdateState"
	case RequestGetState:
		return "GetState"
	case RequestCancelEvents:
		return "CancelEvents"
	case RequestLogs:
		return "Logs"
	case RequestCancelLogs:
		return "CancelLogs"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// Request is a correlated call. Which fields are meaningful depends on Kind:
// UpdateState uses State and UpdateMask, GetState uses FieldMask and
// SubscribeEvents, Logs uses Logs. CancelEvents and CancelLogs use only ID,
// the id of the request that opened the subscription or log campaign.
type Request struct {
	ID              string
	Kind            RequestKind
	State           *statetree.Node
	UpdateMask      []string
	FieldMask       []string
	SubscribeEvents bool
	Logs            LogsQuery
}

// LogsQuery selects the log lines of a campaign. Tail is the number of
// lines to start with, negative for all of them. Since and Until bound the
// lines by timestamp in the runtime's format; empty means unbounded.
type LogsQuery struct {
	Instances []workloadstate.InstanceName
	Follow    bool
	Tail      int32
	Since     string
	Until     string
}

func (*Request) outbound() {}

// NewRequestID returns a fresh correlation identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// NewUpdateStateRequest builds an UpdateState request with a fresh id.
func NewUpdateStateRequest(state *statetree.Node, mask []string) *Request {
	return &Request{
		ID:         NewRequestID(),
		Kind:       RequestUpdateState,
		State:      state,
		UpdateMask: mask,
	}
}

// NewGetStateRequest builds a GetState request with a fresh id.
func NewGetStateRequest(mask []string) *Request {
	return &Request{
		ID:        NewRequestID(),
		Kind:      RequestGetState,
		FieldMask: mask,
	}
}

// NewSubscribeRequest builds a GetState request that also opens an event
// subscription under the request's id.
func NewSubscribeRequest(mask []string) *Request {
	r := NewGetStateRequest(mask)
	r.SubscribeEvents = true
	return r
}

// NewCancelEventsRequest builds the request closing subscription id.
func NewCancelEventsRequest(id string) *Request {
	return &Request{ID: id, Kind: RequestCancelEvents}
}

// NewLogsRequest builds a request opening a log campaign under the
// request's id.
func NewLogsRequest(q LogsQuery) *Request {
	return &Request{ID: NewRequestID(), Kind: RequestLogs, Logs: q}
}

// NewCancelLogsRequest builds the request ending log campaign id.
func NewCancelLogsRequest(id string) *Request {
	return &Request{ID: id, Kind: RequestCancelLogs}
}

// ResponseKind selects the outcome carried by a Response.
type ResponseKind uint8

const (
	ResponseError ResponseKind = iota + 1
	ResponseCompleteState
	ResponseUpdateStateSuccess
	ResponseEventsCancelAccepted
	ResponseLogsAccepted
	ResponseLogEntries
	ResponseLogsStop
	ResponseLogsCancelAccepted
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseError:
		return "Error"
	case ResponseCompleteState:
		return "CompleteState"
	case ResponseUpdateStateSuccess:
		return "UpdateStateSuccess"
	case ResponseEventsCancelAccepted:
		return "EventsCancelAccepted"
	case ResponseLogsAccepted:
		return "LogsRequestAccepted"
	case ResponseLogEntries:
		return "LogEntries"
	case ResponseLogsStop:
		return "LogsStop"
	case ResponseLogsCancelAccepted:
		return "LogsCancelAccepted"
	default:
		return fmt.Sprintf("ResponseKind(%d)", uint8(k))
	}
}

// AlteredFields lists the paths touched by a state change.
type AlteredFields struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty reports whether no path is listed.
func (a AlteredFields) Empty() bool {
	return len(a.Added) == 0 && len(a.Updated) == 0 && len(a.Removed) == 0
}

// LogEntry is one log line of a workload instance.
type LogEntry struct {
	Instance workloadstate.InstanceName
	Message  string
}

// Response answers the Request with the same ID. Log campaigns keep
// answering under their request's id: LogEntries with a batch of lines and
// LogsStop once an instance has no more. Instances lists the instances a
// LogsRequestAccepted covers, or the one a LogsStop ends.
type Response struct {
	RequestID    string
	Kind         ResponseKind
	ErrorMessage string
	State        *statetree.Node
	Altered      AlteredFields
	Added        []string
	Deleted      []string
	Instances    []workloadstate.InstanceName
	LogEntries   []LogEntry
}

func (*Response) inbound() {}

// Notification is an unsolicited partial state update.
type Notification struct {
	State   *statetree.Node
	Altered AlteredFields
}

func (*Notification) inbound() {}

// ConnectionClosed announces that the peer is closing the interface.
type ConnectionClosed struct {
	Reason string
}

func (*ConnectionClosed) inbound() {}
