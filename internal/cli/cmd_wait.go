// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/logger"
	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

func newWaitCmd(a *app) *cobra.Command {
	var deadline time.Duration

	cmd := &cobra.Command{
		Use:     "wait <workloadName.workloadId.agentName> <state>",
		Short:   "Wait until a workload instance reaches an execution state",
		Example: "  wlctl wait nginx.1234.agent_A Running --for 30s",
		Args:    cobra.ExactArgs(2),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			instance, err := workloadstate.ParseInstanceName(args[0])
			if err != nil {
				return err
			}
			state, err := workloadstate.ParseState(args[1])
			if err != nil {
				return err
			}
			observability.SetAttributes(ctx, observability.AttrWorkload.String(instance.WorkloadName))

			if deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, deadline)
				defer cancel()
			}

			log := logger.GetCLILogger()
			log.Info().
				Str("instance", instance.String()).
				Str("state", string(state)).
				Msg("Waiting for workload")
			start := time.Now()
			if err := client.WaitForWorkloadToReachState(ctx, instance, state); err != nil {
				if errors.Is(err, controlif.ErrTimeout) {
					return fmt.Errorf("%s did not reach %s: %w", instance, state, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reached %s after %s\n", instance, state, time.Since(start).Round(time.Millisecond))
			return nil
		}),
	}

	cmd.Flags().DurationVar(&deadline, "for", 0, "how long to wait (default: the request timeout)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [mask...]",
		Short: "Print state changes as JSON lines until interrupted",
		Example: "  wlctl watch workloadStates\n" +
			"  wlctl watch desiredState.workloads.nginx",
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			mask := args
			if len(mask) == 0 {
				mask = []string{workloadstate.RootPath}
			}
			sub, err := client.SubscribeEvents(ctx, mask...)
			if err != nil {
				return err
			}
			log := logger.GetCLILogger()
			log.Info().Str("subscription", sub.ID()).Strs("mask", sub.Mask()).Msg("Watching state")

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						return sub.Err()
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
				case <-ctx.Done():
					stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					if err := client.Unsubscribe(stopCtx, sub); err != nil {
						log.Warn().Err(err).Msg("Failed to cancel the subscription")
					}
					return nil
				}
			}
		}),
	}
}
