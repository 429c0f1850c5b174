// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
)

// Handler answers one request from the client. The returned messages are
// written back in order; returning nothing leaves the request unanswered.
type Handler func(req *wire.Request) []wire.Inbound

// FakePeer plays the agent side of a control interface over in-memory
// pipes. It records every message the client sends.
type FakePeer struct {
	clientIn  io.ReadCloser
	peerOut   io.WriteCloser
	peerIn    io.ReadCloser
	clientOut io.WriteCloser

	wmu sync.Mutex

	mu       sync.Mutex
	handler  Handler
	hellos   []*wire.Hello
	requests []*wire.Request
	received chan *wire.Request

	group errgroup.Group
	once  sync.Once
}

// NewFakePeer starts a peer. It is closed when the test ends.
func NewFakePeer(t testing.TB) *FakePeer {
	t.Helper()
	p := &FakePeer{received: make(chan *wire.Request, 256)}
	p.clientIn, p.peerOut = io.Pipe()
	p.peerIn, p.clientOut = io.Pipe()

	p.group.Go(p.readLoop)
	t.Cleanup(p.Close)
	return p
}

// ServeStreams starts a peer on streams opened elsewhere, such as the agent
// ends of real pipes: in carries frames from the client and out frames to
// it. h answers requests from the first frame on. Streams is unusable on
// such a peer.
func ServeStreams(t testing.TB, in io.ReadCloser, out io.WriteCloser, h Handler) *FakePeer {
	t.Helper()
	p := &FakePeer{received: make(chan *wire.Request, 256), peerIn: in, peerOut: out, handler: h}
	p.group.Go(p.readLoop)
	t.Cleanup(p.Close)
	return p
}

// Streams returns the client's ends: frames from the peer and frames to
// the peer.
func (p *FakePeer) Streams() (io.ReadCloser, io.WriteCloser) {
	return p.clientIn, p.clientOut
}

// Handle installs the function answering requests.
func (p *FakePeer) Handle(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Send writes msg to the client.
func (p *FakePeer) Send(msg wire.Inbound) error {
	frame, err := wire.EncodeInbound(msg)
	if err != nil {
		return err
	}
	return p.WriteRaw(frame)
}

// WriteRaw writes bytes to the client unchanged.
func (p *FakePeer) WriteRaw(b []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err := p.peerOut.Write(b)
	return err
}

// Notify sends an unsolicited state change.
func (p *FakePeer) Notify(state *statetree.Node, altered wire.AlteredFields) error {
	return p.Send(&wire.Notification{State: state, Altered: altered})
}

// CloseConnection announces the end of the interface to the client.
func (p *FakePeer) CloseConnection(reason string) error {
	return p.Send(&wire.ConnectionClosed{Reason: reason})
}

// Hellos returns the hello messages received so far.
func (p *FakePeer) Hellos() []*wire.Hello {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*wire.Hello(nil), p.hellos...)
}

// Requests returns the requests received so far.
func (p *FakePeer) Requests() []*wire.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*wire.Request(nil), p.requests...)
}

// NextRequest returns the next request received, failing the test after
// timeout.
func (p *FakePeer) NextRequest(t testing.TB, timeout time.Duration) *wire.Request {
	t.Helper()
	select {
	case req := <-p.received:
		return req
	case <-time.After(timeout):
		t.Fatalf("no request received within %s", timeout)
		return nil
	}
}

// Close tears both pipes down and waits for the read loop.
func (p *FakePeer) Close() {
	p.once.Do(func() {
		_ = p.peerOut.Close()
		_ = p.peerIn.Close()
		_ = p.group.Wait()
	})
}

func (p *FakePeer) readLoop() error {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		for len(buf) > 0 {
			msg, n, err := wire.DecodeOutbound(buf)
			if errors.Is(err, wire.ErrIncomplete) {
				break
			}
			if err != nil {
				return err
			}
			buf = buf[n:]
			p.handle(msg)
		}
		n, err := p.peerIn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (p *FakePeer) handle(msg wire.Outbound) {
	switch m := msg.(type) {
	case *wire.Hello:
		p.mu.Lock()
		p.hellos = append(p.hellos, m)
		p.mu.Unlock()
	case *wire.Request:
		p.mu.Lock()
		p.requests = append(p.requests, m)
		h := p.handler
		p.mu.Unlock()

		select {
		case p.received <- m:
		default:
		}
		if h == nil {
			return
		}
		for _, out := range h(m) {
			if err := p.Send(out); err != nil {
				return
			}
		}
	}
}
