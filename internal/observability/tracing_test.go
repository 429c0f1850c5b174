// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noldarim/wlctl/internal/config"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	tp, err := NewTracerProvider(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	assert.Same(t, before, otel.GetTracerProvider(), "a disabled provider is not installed")
	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderWithExporter(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProviderWithExporter(config.TracingConfig{
		Enabled:     true,
		ServiceName: "wlctl-test",
		SampleRatio: 1,
	}, exporter)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "apply")
	span.SetAttributes(AttrCommand.String("apply"))
	RecordError(ctx, errors.New("rejected"))
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Empty(t, exporter.GetSpans(), "shutdown resets the exporter")

	require.Len(t, spans, 1)
	assert.Equal(t, "apply", spans[0].Name)
	assert.Len(t, spans[0].Events, 1, "the error is recorded as an event")

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "wlctl-test", service)
}
