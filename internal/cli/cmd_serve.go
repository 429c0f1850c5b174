// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/logger"
	"github.com/noldarim/wlctl/internal/server"
	"github.com/noldarim/wlctl/pkg/controlif"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve state, metrics and live events over HTTP",
		Long: "Serve runs the status gateway: a read-only HTTP API over the orchestrator\n" +
			"state, Prometheus metrics and a WebSocket stream of state changes. It stops\n" +
			"when interrupted or when the control interface connection ends.",
		Args: cobra.NoArgs,
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			cfg := a.cfg.Server
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.Host, cfg.Port = host, port
			}

			ctx, stop := context.WithCancel(ctx)
			defer stop()
			go func() {
				select {
				case <-client.Done():
					log := logger.GetAPILogger()
					log.Error().Err(client.Err()).Msg("Control interface connection lost")
					stop()
				case <-ctx.Done():
				}
			}()
			return server.New(&cfg, client, a.registry).Run(ctx)
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (default from config)")
	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", addr)
	}
	return host, port, nil
}
