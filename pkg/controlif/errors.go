// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"errors"
	"fmt"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
)

// Errors re-exported from errdefs so callers of the facade need a single
// import.
var (
	ErrConnection         = errdefs.ErrConnection
	ErrConnectionLost     = errdefs.ErrConnectionLost
	ErrMalformedFrame     = errdefs.ErrMalformedFrame
	ErrRequest            = errdefs.ErrRequest
	ErrTimeout            = errdefs.ErrTimeout
	ErrCancelled          = errdefs.ErrCancelled
	ErrNotFound           = errdefs.ErrNotFound
	ErrAPIVersion         = errdefs.ErrAPIVersion
	ErrUnexpectedResponse = errdefs.ErrUnexpectedResponse
)

var (
	// ErrNotConnected is returned by operations on a client without a live
	// connection.
	ErrNotConnected = fmt.Errorf("%w: not connected", errdefs.ErrConnection)

	// ErrAlreadyConnected is returned by Connect while a connection is
	// open or being opened.
	ErrAlreadyConnected = errors.New("control interface already connected")

	// ErrNoInstances is returned by RequestLogs without any instance.
	ErrNoInstances = errors.New("no workload instances given")

	// ErrEmptyMask is returned for updates without an update mask, which
	// the orchestrator would apply to its whole state.
	ErrEmptyMask = errors.New("update mask is empty")
)

func connectionError(err error) error {
	if errors.Is(err, errdefs.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", errdefs.ErrConnection, err)
}

// contextError maps the end of ctx to ErrTimeout or ErrCancelled.
func contextError(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, errdefs.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, errdefs.ErrCancelled)
}

func unexpectedResponse(req *wire.Request, resp *wire.Response) error {
	return fmt.Errorf("%w: %s request %s answered with %s",
		errdefs.ErrUnexpectedResponse, req.Kind, req.ID, resp.Kind)
}
