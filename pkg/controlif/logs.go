// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

// LogsRequest selects the log lines of a campaign.
type LogsRequest struct {
	Instances []workloadstate.InstanceName
	// Follow keeps the campaign open for new lines until it is stopped.
	Follow bool
	// Tail starts each instance at its last Tail lines. Zero or negative
	// streams every line.
	Tail int
	// Since and Until bound the lines by timestamp, in the format the
	// runtime understands. Empty means unbounded.
	Since string
	Until string
}

func (r LogsRequest) query() wire.LogsQuery {
	tail := int32(-1)
	if r.Tail > 0 {
		tail = int32(r.Tail)
	}
	return wire.LogsQuery{
		Instances: r.Instances,
		Follow:    r.Follow,
		Tail:      tail,
		Since:     r.Since,
		Until:     r.Until,
	}
}

// LogLine is one line of a campaign. A line with EOF set carries no
// message and marks that Instance has nothing more to send.
type LogLine struct {
	Instance workloadstate.InstanceName `json:"instance"`
	Message  string                     `json:"message,omitempty"`
	EOF      bool                       `json:"eof,omitempty"`
}

// LogStream is an accepted log campaign. Lines are buffered like
// subscription events. The stream ends by itself once every accepted
// instance reached EOF; Client.StopReceivingLogs ends it earlier.
type LogStream struct {
	*feed[LogLine]

	id string

	tally    sync.Mutex
	accepted []workloadstate.InstanceName
	answered bool
	finished map[workloadstate.InstanceName]bool
}

func newLogStream(id string) *LogStream {
	return &LogStream{
		feed:     newFeed[LogLine](),
		id:       id,
		finished: make(map[workloadstate.InstanceName]bool),
	}
}

// ID returns the identifier the orchestrator knows the campaign by.
func (l *LogStream) ID() string { return l.id }

// Accepted returns the instances the orchestrator streams logs for. It
// may be a subset of the requested ones.
func (l *LogStream) Accepted() []workloadstate.InstanceName {
	l.tally.Lock()
	defer l.tally.Unlock()
	return append([]workloadstate.InstanceName(nil), l.accepted...)
}

// Lines delivers the lines in arrival order. It is closed after the
// stream ends and every buffered line was delivered.
func (l *LogStream) Lines() <-chan LogLine { return l.out }

// Done is closed once the stream ended.
func (l *LogStream) Done() <-chan struct{} { return l.done }

// Err returns why the stream ended: nil when it completed or was stopped,
// the connection error otherwise.
func (l *LogStream) Err() error { return l.failure() }

// Buffered returns the number of lines not yet delivered.
func (l *LogStream) Buffered() int { return l.buffered() }

func (l *LogStream) setAccepted(instances []workloadstate.InstanceName) {
	l.tally.Lock()
	l.accepted = instances
	l.answered = true
	complete := l.completeLocked()
	l.tally.Unlock()
	if complete {
		l.close(nil, false)
	}
}

// deliver queues the lines of resp and returns how many were queued.
func (l *LogStream) deliver(resp *wire.Response) int {
	switch resp.Kind {
	case wire.ResponseLogEntries:
		n := 0
		for _, e := range resp.LogEntries {
			if l.push(LogLine{Instance: e.Instance, Message: e.Message}) {
				n++
			}
		}
		return n
	case wire.ResponseLogsStop:
		for _, i := range resp.Instances {
			l.push(LogLine{Instance: i, EOF: true})
			l.tally.Lock()
			l.finished[i] = true
			complete := l.completeLocked()
			l.tally.Unlock()
			if complete {
				l.close(nil, false)
			}
		}
	}
	return 0
}

// completeLocked must be called with l.tally held.
func (l *LogStream) completeLocked() bool {
	return l.answered && lo.EveryBy(l.accepted, func(i workloadstate.InstanceName) bool {
		return l.finished[i]
	})
}

// RequestLogs opens a log campaign for the instances in req. Lines that
// arrive before the call returns are kept. Without Follow the stream ends
// once every accepted instance sent its lines.
func (c *Client) RequestLogs(ctx context.Context, req LogsRequest) (*LogStream, error) {
	if len(req.Instances) == 0 {
		return nil, ErrNoInstances
	}
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	wreq := wire.NewLogsRequest(req.query())
	stream := newLogStream(wreq.ID)
	// Registered before sending so no line can overtake the answer.
	s.addLogStream(stream)

	resp, err := c.roundTrip(ctx, s, wreq)
	if err == nil && resp.Kind != wire.ResponseLogsAccepted {
		err = unexpectedResponse(wreq, resp)
	}
	if err != nil {
		s.removeLogStream(stream.id)
		stream.close(err, true)
		return nil, err
	}
	stream.setAccepted(resp.Instances)

	rejected := lo.Without(req.Instances, resp.Instances...)
	ev := c.log.Debug()
	if len(rejected) > 0 {
		ev = c.log.Warn().Strs("rejected", lo.Map(rejected, func(i workloadstate.InstanceName, _ int) string {
			return i.String()
		}))
	}
	ev.Str("campaign", stream.id).Int("accepted", len(resp.Instances)).Bool("follow", req.Follow).Msg("Log campaign started")
	return stream, nil
}

// StopReceivingLogs ends the campaign, also after its stream ended by
// itself. The stream is closed locally even when the orchestrator cannot
// be told; lines still arriving are dropped.
func (c *Client) StopReceivingLogs(ctx context.Context, stream *LogStream) error {
	defer stream.close(nil, true)

	s, err := c.session()
	if err != nil {
		return err
	}
	if s.logStream(stream.id) != stream {
		return nil
	}
	s.removeLogStream(stream.id)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req := wire.NewCancelLogsRequest(stream.id)
	resp, err := c.roundTrip(ctx, s, req)
	if err != nil {
		return err
	}
	if resp.Kind != wire.ResponseLogsCancelAccepted {
		return unexpectedResponse(req, resp)
	}
	c.log.Debug().Str("campaign", stream.id).Msg("Log campaign stopped")
	return nil
}
