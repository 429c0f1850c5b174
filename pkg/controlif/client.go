// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controlif is the client side of the orchestrator's control
// interface. A Client connects to the agent through two named pipes,
// correlates requests with their responses, keeps a cache of the state it
// has seen and lets callers wait for workload instances to reach an
// execution state. State changes and workload logs are streamed through
// subscriptions and log campaigns.
//
//	c := controlif.New(controlif.WithLogger(log))
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
//	res, err := c.ApplyWorkload(ctx, w)
package controlif

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noldarim/wlctl/pkg/controlif/correlation"
	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/statehub"
	"github.com/noldarim/wlctl/pkg/controlif/transport"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// primeMask selects what Connect reads to fill the cache and check the api
// version.
var primeMask = []string{"desiredState.apiVersion", "workloadStates"}

// Client is safe for concurrent use.
type Client struct {
	opts options
	log  zerolog.Logger

	mu         sync.Mutex
	state      ConnState
	connecting bool
	sess       *session
}

// New returns a client in the Terminated state. Nothing is opened until
// Connect.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		opts:  o,
		log:   o.log.With().Str("component", "controlif").Logger(),
		state: Terminated,
	}
	o.metrics.setConnState(Terminated)
	return c
}

// Connect opens the pipes in the base directory, says hello and reads the
// initial state. It fails with ErrConnection when the pipes cannot be
// opened and with ErrAPIVersion when the orchestrator runs an incompatible
// api; the connection is closed in both cases.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if c.opts.waitForFIFOs {
		if err := transport.WaitForFIFOs(ctx, c.opts.baseDir); err != nil {
			c.abortConnect()
			return connectionError(err)
		}
	}
	r, w, err := c.opts.opener(ctx, c.opts.baseDir)
	if err != nil {
		c.abortConnect()
		return connectionError(err)
	}
	return c.establish(ctx, r, w)
}

// ConnectStreams is Connect over streams the caller already opened: r
// carries frames from the agent, w frames to it. The client owns both
// afterwards.
func (c *Client) ConnectStreams(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.establish(ctx, r, w)
}

func (c *Client) beginConnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connecting || c.state == Initialized {
		return ErrAlreadyConnected
	}
	c.connecting = true
	return nil
}

func (c *Client) abortConnect() {
	c.mu.Lock()
	c.connecting = false
	c.setStateLocked(Failed, nil)
	c.mu.Unlock()
}

func (c *Client) establish(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	s := newSession(c)
	s.tr = transport.New(r, w, s, transport.WithLogger(c.log))
	s.tr.Start()

	if err := c.handshake(ctx, s); err != nil {
		_ = s.tr.Close()
		c.abortConnect()
		c.log.Error().Err(err).Str("dir", c.opts.baseDir).Msg("Failed to connect to the control interface")
		return err
	}

	c.mu.Lock()
	c.connecting = false
	c.sess = s
	c.setStateLocked(Initialized, nil)
	c.mu.Unlock()

	// The connection may have died before it was installed.
	if err := s.tr.Err(); err != nil {
		c.lost(s, err)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context, s *session) error {
	if err := s.tr.Send(ctx, &wire.Hello{ProtocolVersion: c.opts.protocolVersion}); err != nil {
		if ctx.Err() != nil {
			return contextError("hello", ctx.Err())
		}
		return err
	}
	state, err := c.getState(ctx, s, primeMask)
	if err != nil {
		return fmt.Errorf("failed to read initial state: %w", err)
	}
	if v, ok := state.Lookup("desiredState.apiVersion"); ok {
		if got := v.StringOr(""); got != SupportedAPIVersion {
			return &errdefs.APIVersionError{Supported: SupportedAPIVersion, Received: got}
		}
	}
	return nil
}

// Close ends the connection. Pending calls, waiters and subscriptions fail
// with an error wrapping ErrConnectionLost. Closing an unconnected client
// does nothing.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.tr.Close()
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current connection ends. Without a connection it
// returns a closed channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.tr.Done()
}

// Err returns the error that ended the last connection, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.tr.Err()
}

// Snapshot returns the cached state restricted to mask. It never talks to
// the agent.
func (c *Client) Snapshot(mask ...string) *statetree.Node {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return statetree.NewMapping()
	}
	return s.hub.Snapshot(mask...)
}

func (c *Client) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized || c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// setStateLocked must be called with c.mu held.
func (c *Client) setStateLocked(next ConnState, cause error) {
	if c.state == next {
		return
	}
	ev := c.log.Info()
	if next == Failed || next == ConnectionClosed {
		ev = c.log.Warn().Err(cause)
	}
	ev.Str("from", c.state.String()).Str("to", next.String()).Msg("Connection state changed")
	c.state = next
	c.opts.metrics.setConnState(next)
}

// lost is called once per session when its transport dies.
func (c *Client) lost(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	c.setStateLocked(stateFor(err), err)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.timeout)
}

// call sends req on the current connection and waits for its response.
func (c *Client) call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.roundTrip(ctx, s, req)
}

// roundTrip registers req, sends it and waits for the response. Error
// answers become *errdefs.RequestError.
func (c *Client) roundTrip(ctx context.Context, s *session, req *wire.Request) (_ *wire.Response, err error) {
	ctx, span := startSpan(ctx, req)
	defer span.End()

	m := c.opts.metrics
	start := time.Now()
	m.requestStarted()
	defer func() {
		m.requestDone(req.Kind, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.log.Debug().Err(err).Str("request_id", req.ID).Str("kind", req.Kind.String()).Msg("Request failed")
		}
	}()

	slot, err := s.table.Register(req.ID)
	if err != nil {
		return nil, connectionError(err)
	}
	if err := s.tr.Send(ctx, req); err != nil {
		s.table.Cancel(req.ID)
		if ctx.Err() != nil {
			return nil, contextError("request "+req.ID, ctx.Err())
		}
		return nil, err
	}

	resp, err := slot.Wait(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("controlif.response_kind", resp.Kind.String()))
	if resp.Kind == wire.ResponseError {
		return nil, &errdefs.RequestError{RequestID: req.ID, Message: resp.ErrorMessage}
	}
	return resp, nil
}

// getState reads the state selected by mask and makes the cache
// authoritative for it.
func (c *Client) getState(ctx context.Context, s *session, mask []string) (*statetree.Node, error) {
	req := wire.NewGetStateRequest(statetree.NormalizeMask(mask))
	resp, err := c.roundTrip(ctx, s, req)
	if err != nil {
		return nil, err
	}
	if resp.Kind != wire.ResponseCompleteState {
		return nil, unexpectedResponse(req, resp)
	}
	state := resp.State
	if state == nil {
		state = statetree.NewMapping()
	}
	s.hub.Overlay(state, req.FieldMask)
	return state, nil
}

// session is one connection: its transport and everything that dies with
// it.
type session struct {
	c     *Client
	tr    *transport.Transport
	table *correlation.Table
	hub   *statehub.Hub

	mu   sync.Mutex
	subs map[string]*Subscription
	logs map[string]*LogStream
}

func newSession(c *Client) *session {
	return &session{
		c:     c,
		table: correlation.New(c.log),
		hub:   statehub.New(c.log),
		subs:  make(map[string]*Subscription),
		logs:  make(map[string]*LogStream),
	}
}

func (s *session) subscription(id string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *session) addSubscription(sub *Subscription) {
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
}

func (s *session) removeSubscription(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) logStream(id string) *LogStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id]
}

func (s *session) addLogStream(l *LogStream) {
	s.mu.Lock()
	s.logs[l.id] = l
	s.mu.Unlock()
}

func (s *session) removeLogStream(id string) {
	s.mu.Lock()
	delete(s.logs, id)
	s.mu.Unlock()
}

// HandleResponse routes a tagged response. Answers carrying state for a
// subscription are events; the first one also completes the subscribe
// call. Log lines go to their campaign. Everything else completes the
// request with the same id.
func (s *session) HandleResponse(resp *wire.Response) {
	if resp.Kind == wire.ResponseLogEntries || resp.Kind == wire.ResponseLogsStop {
		s.handleLogs(resp)
		return
	}
	sub := s.subscription(resp.RequestID)
	if sub == nil || resp.Kind != wire.ResponseCompleteState {
		s.table.Resolve(resp.RequestID, resp)
		return
	}
	if !sub.isCancelling() && s.table.Pending(resp.RequestID) {
		s.table.Resolve(resp.RequestID, resp)
	}
	if resp.State != nil {
		s.hub.Overlay(resp.State, sub.mask)
	}
	if sub.push(eventFrom(resp)) {
		s.c.opts.metrics.event()
	}
}

func (s *session) handleLogs(resp *wire.Response) {
	stream := s.logStream(resp.RequestID)
	if stream == nil {
		s.c.log.Debug().Str("campaign", resp.RequestID).Str("kind", resp.Kind.String()).Msg("Dropping logs of a closed campaign")
		return
	}
	if n := stream.deliver(resp); n > 0 {
		s.c.opts.metrics.logLinesReceived(n)
	}
}

// HandleNotification folds an unsolicited update into the cache.
func (s *session) HandleNotification(note *wire.Notification) {
	s.c.opts.metrics.notification()
	s.hub.Apply(note)
}

// HandleFailure fails everything pending on the connection.
func (s *session) HandleFailure(err error) {
	requests := s.table.FailAll(err)
	waiters := s.hub.FailAll(err)

	s.mu.Lock()
	subs, logs := s.subs, s.logs
	s.subs = make(map[string]*Subscription)
	s.logs = make(map[string]*LogStream)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.close(err, false)
	}
	for _, l := range logs {
		l.close(err, false)
	}

	if requests+waiters+len(subs)+len(logs) > 0 {
		s.c.log.Debug().
			Int("requests", requests).
			Int("waiters", waiters).
			Int("subscriptions", len(subs)).
			Int("log_campaigns", len(logs)).
			Msg("Failed pending work")
	}
	s.c.lost(s, err)
}

func startSpan(ctx context.Context, req *wire.Request) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("controlif.request_id", req.ID),
	}
	switch req.Kind {
	case wire.RequestUpdateState:
		attrs = append(attrs, attribute.StringSlice("controlif.update_mask", req.UpdateMask))
	case wire.RequestGetState:
		attrs = append(attrs,
			attribute.StringSlice("controlif.field_mask", req.FieldMask),
			attribute.Bool("controlif.subscribe", req.SubscribeEvents))
	case wire.RequestLogs:
		attrs = append(attrs,
			attribute.StringSlice("controlif.instances", lo.Map(req.Logs.Instances, func(i workloadstate.InstanceName, _ int) string {
				return i.String()
			})),
			attribute.Bool("controlif.follow", req.Logs.Follow))
	}
	return tracer().Start(ctx, "controlif."+req.Kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}
