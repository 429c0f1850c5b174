// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/logger"
	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		follow bool
		tail   int
		since  string
		until  string
	)

	cmd := &cobra.Command{
		Use:   "logs <workload|workloadName.workloadId.agentName>...",
		Short: "Print the logs of workload instances",
		Long: `Print the logs of workload instances. A bare workload name stands for
every instance of that workload. Lines are prefixed with the workload
name when more than one instance is printed.`,
		Example: "  wlctl logs nginx\n" +
			"  wlctl logs nginx.1234.agent_A --follow --tail 20",
		Args: cobra.MinimumNArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			instances, err := resolveInstances(ctx, client, args)
			if err != nil {
				return err
			}
			observability.SetAttributes(ctx, observability.AttrWorkload.StringSlice(lo.Uniq(lo.Map(instances,
				func(i workloadstate.InstanceName, _ int) string { return i.WorkloadName }))))

			stream, err := client.RequestLogs(ctx, controlif.LogsRequest{
				Instances: instances,
				Follow:    follow,
				Tail:      tail,
				Since:     since,
				Until:     until,
			})
			if err != nil {
				return err
			}
			log := logger.GetCLILogger()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := client.StopReceivingLogs(stopCtx, stream); err != nil {
					log.Warn().Err(err).Msg("Failed to stop the log campaign")
				}
			}()

			accepted := stream.Accepted()
			for _, i := range lo.Without(instances, accepted...) {
				log.Warn().Str("instance", i.String()).Msg("No logs available")
			}
			if len(accepted) == 0 {
				return fmt.Errorf("no logs available for %v", args)
			}

			out := cmd.OutOrStdout()
			prefix := len(accepted) > 1
			for {
				select {
				case line, ok := <-stream.Lines():
					if !ok {
						return stream.Err()
					}
					switch {
					case line.EOF:
						log.Debug().Str("instance", line.Instance.String()).Msg("End of logs")
					case prefix:
						fmt.Fprintf(out, "%s  %s\n", line.Instance.WorkloadName, line.Message)
					default:
						fmt.Fprintln(out, line.Message)
					}
				case <-ctx.Done():
					return nil
				}
			}
		}),
	}

	f := cmd.Flags()
	f.BoolVarP(&follow, "follow", "f", false, "keep streaming new lines until interrupted")
	f.IntVar(&tail, "tail", 0, "start at the last N lines of each instance (0: all)")
	f.StringVar(&since, "since", "", "only lines after this timestamp")
	f.StringVar(&until, "until", "", "only lines before this timestamp")
	return cmd
}

// resolveInstances turns each argument into instance names. Arguments that
// are not full instance names are looked up as workload names in the
// current workload states.
func resolveInstances(ctx context.Context, client *controlif.Client, args []string) ([]workloadstate.InstanceName, error) {
	var (
		out    []workloadstate.InstanceName
		states *workloadstate.Collection
	)
	for _, arg := range args {
		if i, err := workloadstate.ParseInstanceName(arg); err == nil {
			out = append(out, i)
			continue
		}
		if states == nil {
			var err error
			if states, err = client.GetWorkloadStates(ctx); err != nil {
				return nil, err
			}
		}
		matches := states.ForWorkload(arg)
		if len(matches) == 0 {
			return nil, fmt.Errorf("workload %q has no instances", arg)
		}
		for _, ws := range matches {
			out = append(out, ws.Instance)
		}
	}
	return lo.Uniq(out), nil
}
