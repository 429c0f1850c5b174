// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errdefs defines the errors shared by the control interface
// packages. Callers match them with errors.Is and errors.As.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection covers failures to open, write to or use the control
	// interface streams, including use of a dead connection.
	ErrConnection = errors.New("control interface connection error")

	// ErrConnectionLost is delivered to every pending request and waiter
	// when the connection dies.
	ErrConnectionLost = errors.New("control interface connection lost")

	// ErrMalformedFrame marks an inbound frame that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrRequest marks an explicit error answer from the peer.
	ErrRequest = errors.New("request rejected")

	// ErrTimeout marks a call whose deadline elapsed.
	ErrTimeout = errors.New("timed out")

	// ErrCancelled marks a call abandoned by its caller.
	ErrCancelled = errors.New("cancelled")

	// ErrNotFound marks a queried object absent from the state.
	ErrNotFound = errors.New("not found")

	// ErrAPIVersion marks an incompatible peer.
	ErrAPIVersion = errors.New("unsupported api version")

	// ErrUnexpectedResponse marks a response of the wrong kind for its request.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// RequestError carries the peer's error message for one request.
type RequestError struct {
	RequestID string
	Message   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s rejected: %s", e.RequestID, e.Message)
}

func (e *RequestError) Unwrap() error { return ErrRequest }

// ConnectionClosedError is reported when the peer closes the control
// interface on purpose.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("connection closed by peer: %s", e.Reason)
}

func (e *ConnectionClosedError) Unwrap() error { return ErrConnectionLost }

// MalformedFrameError describes why a frame could not be decoded.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// APIVersionError reports the version the peer announced.
type APIVersionError struct {
	Supported string
	Received  string
}

func (e *APIVersionError) Error() string {
	return fmt.Sprintf("unsupported api version %q (supported: %q)", e.Received, e.Supported)
}

func (e *APIVersionError) Unwrap() error { return ErrAPIVersion }

// Lost wraps cause so that it matches ErrConnectionLost. Causes that
// already match are returned unchanged.
func Lost(cause error) error {
	if cause == nil {
		return ErrConnectionLost
	}
	if errors.Is(cause, ErrConnectionLost) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}
