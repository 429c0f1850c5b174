// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local status gateway: a read-only REST view
// of the orchestrator state known to a control interface client, Prometheus
// metrics, and a WebSocket stream of state change events.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noldarim/wlctl/internal/logger"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// DefaultEventMask selects the state the gateway streams.
var DefaultEventMask = []string{workloadstate.RootPath, "desiredState.workloads"}

const resubscribeDelay = time.Second

// EventBroadcaster keeps a subscription open on the control interface and
// fans its events out to the connected WebSocket clients.
type EventBroadcaster struct {
	client  Client
	mask    []string
	clients *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster streaming the state under mask.
func NewEventBroadcaster(client Client, mask []string, clients *ClientRegistry) *EventBroadcaster {
	if len(mask) == 0 {
		mask = DefaultEventMask
	}
	return &EventBroadcaster{client: client, mask: mask, clients: clients}
}

// Run subscribes and dispatches events until ctx is cancelled. A
// subscription that ends with the connection is opened again once the
// client reconnects.
func (b *EventBroadcaster) Run(ctx context.Context) {
	failing := false
	for {
		sub, err := b.client.SubscribeEvents(ctx, b.mask...)
		if err != nil {
			if !failing {
				getLog().Warn().Err(err).Msg("Cannot subscribe to state events, retrying")
				failing = true
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			continue
		}
		failing = false
		getLog().Info().Str("subscription", sub.ID()).Strs("mask", b.mask).Msg("Streaming state events")

		b.drain(ctx, sub)
		if ctx.Err() != nil {
			unsubCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = b.client.Unsubscribe(unsubCtx, sub)
			cancel()
			getLog().Info().Msg("Event broadcaster stopped (context cancelled)")
			return
		}
		getLog().Warn().Err(sub.Err()).Msg("State event subscription ended")
	}
}

func (b *EventBroadcaster) drain(ctx context.Context, sub *controlif.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (b *EventBroadcaster) dispatch(ev controlif.Event) {
	if b.clients != nil {
		b.clients.Broadcast(ev)
	}
}

// scope is the agent and workload an event path belongs to. Empty fields
// mean the path is not narrowed to one.
type scope struct {
	agent    string
	workload string
}

const workloadsPrefix = "desiredState.workloads"

// eventScopes lists the scopes of every path an event altered. An event
// without altered paths carries a full state and is unscoped.
func eventScopes(ev controlif.Event) []scope {
	var paths []string
	paths = append(paths, ev.Added...)
	paths = append(paths, ev.Updated...)
	paths = append(paths, ev.Removed...)
	if len(paths) == 0 {
		return []scope{{}}
	}

	workloadsDepth := len(statetree.SplitPath(workloadsPrefix))
	scopes := make([]scope, 0, len(paths))
	for _, p := range paths {
		segs := statetree.SplitPath(p)
		var s scope
		switch {
		case len(segs) > 0 && segs[0] == workloadstate.RootPath:
			if len(segs) > 1 {
				s.agent = segs[1]
			}
			if len(segs) > 2 {
				s.workload = segs[2]
			}
		case len(segs) > workloadsDepth && statetree.JoinPath(segs[:workloadsDepth]...) == workloadsPrefix:
			s.workload = segs[workloadsDepth]
			if a, ok := ev.State.Lookup(statetree.JoinPath(workloadsPrefix, s.workload, "agent")); ok {
				s.agent = a.StringOr("")
			}
		}
		scopes = append(scopes, s)
	}
	return scopes
}
