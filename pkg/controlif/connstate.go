// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"errors"
	"fmt"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/transport"
)

// ConnState is the state of the client's connection.
type ConnState int

const (
	// Terminated: never connected, or closed by the client.
	Terminated ConnState = iota
	// Initialized: connected and usable.
	Initialized
	// ConnectionClosed: the agent closed the control interface.
	ConnectionClosed
	// Failed: the connection broke or the handshake failed.
	Failed
)

// ConnStates lists every connection state.
func ConnStates() []ConnState {
	return []ConnState{Terminated, Initialized, ConnectionClosed, Failed}
}

func (s ConnState) String() string {
	switch s {
	case Terminated:
		return "Terminated"
	case Initialized:
		return "Initialized"
	case ConnectionClosed:
		return "ConnectionClosed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// stateFor classifies the error that ended a connection.
func stateFor(err error) ConnState {
	var closed *errdefs.ConnectionClosedError
	switch {
	case errors.Is(err, transport.ErrClosed):
		return Terminated
	case errors.As(err, &closed):
		return ConnectionClosed
	default:
		return Failed
	}
}
