// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/noldarim/wlctl/pkg/controlif"

// tracer uses the global provider so the spans follow whatever the
// application installed.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
