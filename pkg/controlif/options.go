// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/noldarim/wlctl/pkg/controlif/transport"
)

const (
	// DefaultTimeout bounds calls whose context has no deadline.
	DefaultTimeout = 5 * time.Second

	// DefaultProtocolVersion is announced in the hello message.
	DefaultProtocolVersion = "0.6.0"

	// SupportedAPIVersion is the only desired state api version accepted.
	SupportedAPIVersion = "v1"

	// DefaultBaseDir holds the control interface pipes.
	DefaultBaseDir = transport.DefaultBaseDir
)

// Opener opens the inbound and outbound streams of the control interface
// found in dir.
type Opener func(ctx context.Context, dir string) (io.ReadCloser, io.WriteCloser, error)

type options struct {
	baseDir         string
	timeout         time.Duration
	log             zerolog.Logger
	metrics         *Metrics
	protocolVersion string
	waitForFIFOs    bool
	opener          Opener
}

func defaultOptions() options {
	return options{
		baseDir:         DefaultBaseDir,
		timeout:         DefaultTimeout,
		log:             zerolog.Nop(),
		protocolVersion: DefaultProtocolVersion,
		opener:          transport.OpenFIFOs,
	}
}

// Option configures a Client.
type Option func(*options)

// WithBaseDir sets the directory holding the input and output pipes.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.baseDir = dir
		}
	}
}

// WithTimeout sets the bound applied to calls whose context has no
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records client activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProtocolVersion overrides the version announced in the hello
// message.
func WithProtocolVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.protocolVersion = v
		}
	}
}

// WithWaitForFIFOs makes Connect wait for the pipes to appear instead of
// failing when they are missing.
func WithWaitForFIFOs(wait bool) Option {
	return func(o *options) { o.waitForFIFOs = wait }
}

// WithOpener replaces the function opening the control interface streams.
func WithOpener(open Opener) Option {
	return func(o *options) {
		if open != nil {
			o.opener = open
		}
	}
}
