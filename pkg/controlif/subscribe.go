// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/statetree"
)

// SubscribeEvents opens a subscription to the changes of the state
// selected by mask. The first event carries the current state. When the
// connection ends, Events stays open until the buffered events are read
// or the drain window of a minute passes; Unsubscribe releases it at once.
func (c *Client) SubscribeEvents(ctx context.Context, mask ...string) (*Subscription, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := wire.NewSubscribeRequest(statetree.NormalizeMask(mask))
	sub := newSubscription(req.ID, req.FieldMask)
	// Registered before sending so no event can overtake the answer.
	s.addSubscription(sub)

	resp, err := c.roundTrip(ctx, s, req)
	if err == nil && resp.Kind != wire.ResponseCompleteState {
		err = unexpectedResponse(req, resp)
	}
	if err != nil {
		s.removeSubscription(sub.id)
		sub.close(err, true)
		return nil, err
	}
	c.log.Debug().Str("subscription", sub.id).Strs("mask", sub.mask).Msg("Subscribed to events")
	return sub, nil
}

// Unsubscribe cancels sub. The subscription is closed locally even when
// the orchestrator cannot be told.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	defer sub.close(nil, true)

	s, err := c.session()
	if err != nil {
		return err
	}
	if s.subscription(sub.id) != sub {
		return nil
	}
	sub.markCancelling()
	defer s.removeSubscription(sub.id)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req := wire.NewCancelEventsRequest(sub.id)
	resp, err := c.roundTrip(ctx, s, req)
	if err != nil {
		return err
	}
	if resp.Kind != wire.ResponseEventsCancelAccepted {
		return unexpectedResponse(req, resp)
	}
	c.log.Debug().Str("subscription", sub.id).Msg("Unsubscribed from events")
	return nil
}
