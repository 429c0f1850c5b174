// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the wlctl command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"github.com/noldarim/wlctl/internal/config"
	"github.com/noldarim/wlctl/internal/logger"
	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/statetree"
)

// app carries what every command shares: configuration, the metrics
// registry and the flags that override the configuration.
type app struct {
	configPath string
	baseDir    string
	timeout    time.Duration
	logLevel   string
	output     string

	cfg      *config.AppConfig
	registry *prometheus.Registry
	metrics  *controlif.Metrics
	tracer   *observability.TracerProvider
	extra    []controlif.Option
}

// setup loads the configuration and starts logging and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.NewConfig(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("base-dir") {
		cfg.ControlInterface.BaseDir = a.baseDir
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ControlInterface.RequestTimeout = a.timeout
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
		cfg.Log.Levels = nil
	}
	a.cfg = cfg

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		a.metrics = controlif.NewMetrics(a.registry, cfg.Metrics.Namespace)
	}

	a.tracer, err = observability.NewTracerProvider(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}
	return nil
}

// teardown flushes spans and closes the log files.
func (a *app) teardown() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			log := logger.GetCLILogger()
			log.Warn().Err(err).Msg("Failed to flush spans")
		}
	}
	_ = logger.CloseGlobal()
}

func (a *app) clientOptions() []controlif.Option {
	ci := a.cfg.ControlInterface
	opts := []controlif.Option{
		controlif.WithBaseDir(ci.BaseDir),
		controlif.WithTimeout(ci.RequestTimeout),
		controlif.WithProtocolVersion(ci.ProtocolVersion),
		controlif.WithWaitForFIFOs(ci.WaitForFIFOs),
		controlif.WithLogger(logger.GetControlLogger()),
	}
	if a.metrics != nil {
		opts = append(opts, controlif.WithMetrics(a.metrics))
	}
	return append(opts, a.extra...)
}

// connect opens a client within the configured connect timeout.
func (a *app) connect(ctx context.Context) (*controlif.Client, error) {
	client := controlif.New(a.clientOptions()...)
	connectCtx, cancel := context.WithTimeout(ctx, a.cfg.ControlInterface.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, err
	}
	return client, nil
}

// withClient adapts fn into a RunE that runs inside a command span with a
// connected client.
func (a *app) withClient(fn func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.teardown()
		ctx, span := observability.StartSpan(cmd.Context(), "wlctl."+cmd.Name())
		defer span.End()
		span.SetAttributes(observability.AttrCommand.String(cmd.CommandPath()))

		log := logger.GetCLILogger()
		client, err := a.connect(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("connect: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close the control interface")
			}
		}()

		if err := fn(ctx, cmd, args, client); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Debug().Err(err).Str("command", cmd.CommandPath()).Msg("Command failed")
			return err
		}
		return nil
	}
}

// print writes v in the selected output format. Values are normalized
// through their JSON form so both formats use the same keys.
func (a *app) print(w io.Writer, v interface{}) error {
	node, ok := v.(*statetree.Node)
	if !ok {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		node = new(statetree.Node)
		if err := json.Unmarshal(data, node); err != nil {
			return err
		}
	}

	switch a.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(node)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}
}
