// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package correlation pairs outstanding requests with their responses.
//
// Every slot completes exactly once: by a response, by its caller giving up,
// or by the connection failing. Whichever happens first wins and the others
// become no-ops.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
)

// ErrDuplicateID is returned by Register when the id is already pending.
var ErrDuplicateID = errors.New("request id already pending")

type outcome struct {
	resp *wire.Response
	err  error
}

// Slot is the completion handle of one pending request.
type Slot struct {
	id    string
	table *Table
	done  chan struct{}
	once  sync.Once
	out   outcome
}

// ID returns the request id the slot waits for.
func (s *Slot) ID() string { return s.id }

// Done is closed once the slot completed.
func (s *Slot) Done() <-chan struct{} { return s.done }

func (s *Slot) complete(o outcome) bool {
	completed := false
	s.once.Do(func() {
		s.out = o
		close(s.done)
		completed = true
	})
	return completed
}

// Wait blocks until the slot completes or ctx ends. When ctx ends first the
// entry is removed from the table and ErrTimeout or ErrCancelled is
// returned; if a response arrived concurrently, the response wins.
func (s *Slot) Wait(ctx context.Context) (*wire.Response, error) {
	select {
	case <-s.done:
		return s.out.resp, s.out.err
	case <-ctx.Done():
	}

	var err error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("request %s: %w", s.id, errdefs.ErrTimeout)
	} else {
		err = fmt.Errorf("request %s: %w", s.id, errdefs.ErrCancelled)
	}
	s.table.cancel(s, err)

	<-s.done
	return s.out.resp, s.out.err
}

// Table holds the pending slots of one connection.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Slot
	closed  error
	log     zerolog.Logger
}

// New returns an empty table.
func New(log zerolog.Logger) *Table {
	return &Table{
		entries: make(map[string]*Slot),
		log:     log,
	}
}

// Register adds a pending slot for id. It fails once the table has been
// closed by FailAll.
func (t *Table) Register(id string) (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return nil, t.closed
	}
	if _, ok := t.entries[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	s := &Slot{id: id, table: t, done: make(chan struct{})}
	t.entries[id] = s
	return s, nil
}

// Resolve completes the slot waiting for resp. It reports false when no
// such slot is pending, which happens for late answers to abandoned
// requests and for duplicates.
func (t *Table) Resolve(id string, resp *wire.Response) bool {
	t.mu.Lock()
	s, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Warn().
			Str("request_id", id).
			Str("kind", resp.Kind.String()).
			Msg("Dropping response for unknown request")
		return false
	}
	return s.complete(outcome{resp: resp})
}

// Cancel removes the slot for id and completes it with ErrCancelled.
func (t *Table) Cancel(id string) bool {
	t.mu.Lock()
	s, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return t.cancel(s, fmt.Errorf("request %s: %w", id, errdefs.ErrCancelled))
}

func (t *Table) cancel(s *Slot, err error) bool {
	t.mu.Lock()
	if cur, ok := t.entries[s.id]; ok && cur == s {
		delete(t.entries, s.id)
	}
	t.mu.Unlock()
	return s.complete(outcome{err: err})
}

// FailAll completes every pending slot with err, closes the table and
// returns the number of slots it failed. err is wrapped so that it matches
// errdefs.ErrConnectionLost.
func (t *Table) FailAll(err error) int {
	err = errdefs.Lost(err)

	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	pending := t.entries
	t.entries = make(map[string]*Slot)
	t.mu.Unlock()

	failed := 0
	for _, s := range pending {
		if s.complete(outcome{err: err}) {
			failed++
		}
	}
	if failed > 0 {
		t.log.Debug().Int("count", failed).Err(err).Msg("Failed pending requests")
	}
	return failed
}

// Len returns the number of pending slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Pending reports whether id has a pending slot.
func (t *Table) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}
