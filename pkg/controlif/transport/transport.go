// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport runs the duplex control interface connection: a single
// receive loop decoding inbound frames and a serialized writer for outbound
// ones.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
)

// ErrClosed is the failure cause recorded when the client closes the
// connection itself.
var ErrClosed = errors.New("connection closed by client")

const defaultReadSize = 32 << 10

// Dispatcher receives what the receive loop decodes. Calls are made from
// the receive loop goroutine, except HandleFailure which is made by
// whichever goroutine detected the failure. HandleFailure is called exactly
// once.
type Dispatcher interface {
	HandleResponse(*wire.Response)
	HandleNotification(*wire.Notification)
	HandleFailure(error)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for protocol anomalies.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithReadSize sets the size of a single read from the inbound stream.
func WithReadSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.readSize = n
		}
	}
}

// Transport owns both streams of one connection.
type Transport struct {
	r        io.ReadCloser
	w        io.WriteCloser
	d        Dispatcher
	log      zerolog.Logger
	readSize int

	// sem serializes whole frames on w.
	sem chan struct{}

	startOnce sync.Once
	failOnce  sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// New wires a transport over r and w. Nothing is read until Start.
func New(r io.ReadCloser, w io.WriteCloser, d Dispatcher, opts ...Option) *Transport {
	t := &Transport{
		r:        r,
		w:        w,
		d:        d,
		log:      zerolog.Nop(),
		readSize: defaultReadSize,
		sem:      make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the receive loop. Further calls do nothing.
func (t *Transport) Start() {
	t.startOnce.Do(func() {
		go t.receive()
	})
}

// Send writes msg as one frame. Frames of concurrent callers never
// interleave and leave in the order the callers acquired the writer. ctx
// bounds only the wait for the writer; a write in progress is not
// interrupted.
func (t *Transport) Send(ctx context.Context, msg wire.Outbound) error {
	if err := t.Err(); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrConnection, err)
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", msg, err)
	}

	select {
	case t.sem <- struct{}{}:
	case <-t.done:
		return fmt.Errorf("%w: %w", errdefs.ErrConnection, t.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.sem }()

	if err := t.Err(); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrConnection, err)
	}
	if _, err := t.w.Write(frame); err != nil {
		t.fail(fmt.Errorf("write failed: %w", err))
		return fmt.Errorf("%w: %w", errdefs.ErrConnection, err)
	}
	return nil
}

// Close shuts the connection down. Pending work fails with an error
// wrapping ErrClosed.
func (t *Transport) Close() error {
	t.fail(ErrClosed)
	return nil
}

// Done is closed once the connection is dead.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns the error that killed the connection, or nil while it is
// alive. The error matches errdefs.ErrConnectionLost.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) fail(cause error) {
	t.failOnce.Do(func() {
		err := errdefs.Lost(cause)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()

		if cerr := t.r.Close(); cerr != nil {
			t.log.Debug().Err(cerr).Msg("Closing inbound stream")
		}
		if cerr := t.w.Close(); cerr != nil {
			t.log.Debug().Err(cerr).Msg("Closing outbound stream")
		}
		close(t.done)

		if errors.Is(cause, ErrClosed) {
			t.log.Debug().Msg("Connection closed")
		} else {
			t.log.Error().Err(err).Msg("Connection lost")
		}
		t.d.HandleFailure(err)
	})
}

func (t *Transport) receive() {
	var (
		buf     []byte
		chunk   = make([]byte, t.readSize)
		readErr error
	)
	for {
		for len(buf) > 0 {
			msg, n, err := wire.Decode(buf)
			if errors.Is(err, wire.ErrIncomplete) {
				break
			}
			if err != nil {
				t.fail(err)
				return
			}
			buf = buf[n:]
			if !t.dispatch(msg) {
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) && len(buf) > 0 {
				readErr = fmt.Errorf("stream ended inside a frame: %w", io.ErrUnexpectedEOF)
			}
			t.fail(fmt.Errorf("read failed: %w", readErr))
			return
		}

		// Compact so the buffer does not grow with the stream.
		if len(buf) > 0 && cap(buf)-len(buf) < t.readSize {
			buf = append(make([]byte, 0, len(buf)+t.readSize), buf...)
		}

		var n int
		n, readErr = t.r.Read(chunk)
		buf = append(buf, chunk[:n]...)
	}
}

func (t *Transport) dispatch(msg wire.Inbound) bool {
	switch m := msg.(type) {
	case *wire.Response:
		t.d.HandleResponse(m)
	case *wire.Notification:
		t.d.HandleNotification(m)
	case *wire.ConnectionClosed:
		t.fail(&errdefs.ConnectionClosedError{Reason: m.Reason})
		return false
	default:
		t.fail(&errdefs.MalformedFrameError{Reason: fmt.Sprintf("unexpected inbound message %T", msg)})
		return false
	}
	return true
}
