// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// drainWindow bounds how long items buffered when a connection ends wait
// for a reader.
const drainWindow = time.Minute

// feed hands items pushed by the connection to a single reader. Items are
// buffered without bound so the connection never waits for a slow reader.
type feed[T any] struct {
	drain time.Duration

	mu      sync.Mutex
	pending *queue.Queue
	wake    chan struct{}
	closed  bool
	stopped bool
	err     error
	expiry  *time.Timer

	out  chan T
	done chan struct{}
	stop chan struct{}
}

func newFeed[T any]() *feed[T] {
	f := &feed[T]{
		drain:   drainWindow,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *feed[T]) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed[T]) buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.Length()
}

func (f *feed[T]) push(v T) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.pending.Add(v)
	f.mu.Unlock()
	f.signal()
	return true
}

func (f *feed[T]) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// close ends the feed. With discard set, buffered items are dropped
// instead of delivered; otherwise they are dropped once the drain window
// passes.
func (f *feed[T]) close(err error, discard bool) {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.err = err
		close(f.done)
		if !discard {
			f.expiry = time.AfterFunc(f.drain, func() { f.close(err, true) })
		}
	}
	if discard && !f.stopped {
		f.stopped = true
		close(f.stop)
	}
	f.mu.Unlock()
	f.signal()
}

func (f *feed[T]) pump() {
	defer func() {
		f.mu.Lock()
		if f.expiry != nil {
			f.expiry.Stop()
		}
		f.mu.Unlock()
		close(f.out)
	}()
	for {
		f.mu.Lock()
		if f.stopped {
			f.mu.Unlock()
			return
		}
		if f.pending.Length() == 0 {
			closed := f.closed
			f.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-f.wake:
			case <-f.stop:
				return
			}
			continue
		}
		v := f.pending.Remove().(T)
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.stop:
			return
		}
	}
}
