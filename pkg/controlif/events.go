// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"sync/atomic"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
)

// Event is one state change delivered to a subscription. The first event
// of a subscription carries the state selected by its mask and no altered
// fields.
type Event struct {
	State   *statetree.Node `json:"state"`
	Added   []string        `json:"added,omitempty"`
	Updated []string        `json:"updated,omitempty"`
	Removed []string        `json:"removed,omitempty"`
}

func eventFrom(resp *wire.Response) Event {
	return Event{
		State:   resp.State,
		Added:   resp.Altered.Added,
		Updated: resp.Altered.Updated,
		Removed: resp.Altered.Removed,
	}
}

// Subscription receives the state changes matching a field mask. Events
// are buffered without bound so the connection never waits for a slow
// consumer. Read Events until it is closed, or call Client.Unsubscribe.
// After the connection ends, events not read within a minute are dropped.
type Subscription struct {
	*feed[Event]

	id         string
	mask       []string
	cancelling atomic.Bool
}

func newSubscription(id string, mask []string) *Subscription {
	return &Subscription{feed: newFeed[Event](), id: id, mask: mask}
}

// ID returns the identifier the orchestrator knows the subscription by.
func (s *Subscription) ID() string { return s.id }

// Mask returns the subscribed field mask.
func (s *Subscription) Mask() []string { return append([]string(nil), s.mask...) }

// Events delivers the events in arrival order. It is closed after the
// subscription ends and every buffered event was delivered.
func (s *Subscription) Events() <-chan Event { return s.out }

// Done is closed once the subscription ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended: nil after Unsubscribe, the
// connection error otherwise.
func (s *Subscription) Err() error { return s.failure() }

// Buffered returns the number of events not yet delivered.
func (s *Subscription) Buffered() int { return s.buffered() }

func (s *Subscription) markCancelling() { s.cancelling.Store(true) }

func (s *Subscription) isCancelling() bool { return s.cancelling.Load() }
