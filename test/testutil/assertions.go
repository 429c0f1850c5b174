// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
)

// AssertUpdateRequest verifies an UpdateState request carrying mask.
func AssertUpdateRequest(t testing.TB, req *wire.Request, mask ...string) {
	t.Helper()
	if assert.NotNil(t, req) {
		assert.Equal(t, wire.RequestUpdateState, req.Kind, "request kind mismatch")
		assert.ElementsMatch(t, mask, req.UpdateMask, "update mask mismatch")
		assert.NotEmpty(t, req.ID, "request id missing")
	}
}

// AssertGetStateRequest verifies a GetState request carrying mask.
func AssertGetStateRequest(t testing.TB, req *wire.Request, mask ...string) {
	t.Helper()
	if assert.NotNil(t, req) {
		assert.Equal(t, wire.RequestGetState, req.Kind, "request kind mismatch")
		assert.ElementsMatch(t, mask, req.FieldMask, "field mask mismatch")
	}
}
