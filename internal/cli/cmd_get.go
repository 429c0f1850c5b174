// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

func newGetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read state from the orchestrator",
	}
	cmd.AddCommand(
		newGetStateCmd(a),
		newGetWorkloadsCmd(a),
		newGetWorkloadCmd(a),
		newGetAgentsCmd(a),
		newGetConfigsCmd(a),
	)
	return cmd
}

func newGetStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state [mask...]",
		Short: "Print the complete state or the parts selected by field masks",
		Example: "  wlctl get state\n" +
			"  wlctl get state desiredState.workloads.nginx workloadStates.agent_A",
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			state, err := client.GetState(ctx, args...)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), state)
		}),
	}
}

func newGetWorkloadsCmd(a *app) *cobra.Command {
	var agent, name, state string

	cmd := &cobra.Command{
		Use:   "workloads",
		Short: "List the execution states of workload instances",
		Args:  cobra.NoArgs,
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			var want workloadstate.State
			if state != "" {
				var err error
				if want, err = workloadstate.ParseState(state); err != nil {
					return err
				}
			}

			states, err := client.GetWorkloadStates(ctx)
			if err != nil {
				return err
			}
			list := lo.Filter(states.AsList(), func(ws workloadstate.WorkloadState, _ int) bool {
				return (agent == "" || ws.Instance.AgentName == agent) &&
					(name == "" || ws.Instance.WorkloadName == name) &&
					(want == "" || ws.State.State == want)
			})
			return a.print(cmd.OutOrStdout(), map[string]interface{}{"workloadStates": list})
		}),
	}

	cmd.Flags().StringVar(&agent, "agent", "", "only instances on this agent")
	cmd.Flags().StringVar(&name, "name", "", "only instances of this workload")
	cmd.Flags().StringVar(&state, "state", "", "only instances in this execution state")
	return cmd
}

func newGetWorkloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workload <name>",
		Short: "Print the desired configuration of a workload",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			observability.SetAttributes(ctx, observability.AttrWorkload.String(args[0]))
			w, err := client.GetWorkload(ctx, args[0])
			if err != nil {
				return err
			}
			out := statetree.NewMapping()
			out.Set(w.Name(), w.ToNode())
			return a.print(cmd.OutOrStdout(), out)
		}),
	}
}

func newGetAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents [name]",
		Short: "List the connected agents",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			if len(args) == 1 {
				agent, err := client.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), agent)
			}
			agents, err := client.GetAgents(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), agents)
		}),
	}
}

func newGetConfigsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "configs [name]",
		Short: "Print the configs, or a single config",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			var (
				n   *statetree.Node
				err error
			)
			if len(args) == 1 {
				n, err = client.GetConfig(ctx, args[0])
			} else {
				n, err = client.GetConfigs(ctx)
			}
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), n)
		}),
	}
}

func newSetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change configs and agent tags",
	}
	cmd.AddCommand(newSetConfigCmd(a), newSetTagsCmd(a))
	return cmd
}

func newSetConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config <name> <yaml-value>",
		Short: "Add or replace a config",
		Example: "  wlctl set config port '\"8080\"'\n" +
			"  wlctl set config web '{index: index.html}'",
		Args: cobra.ExactArgs(2),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			value, err := statetree.ParseYAML([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("config value: %w", err)
			}
			res, err := client.AddConfig(ctx, args[0], value)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), res)
		}),
	}
}

func newSetTagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <agent> [key=value...]",
		Short: "Replace the tags of an agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			tags := make(map[string]string, len(args)-1)
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid tag %q: want key=value", kv)
				}
				tags[k] = v
			}
			if err := client.SetAgentTags(ctx, args[0], tags); err != nil {
				return err
			}
			agent, err := client.GetAgent(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), agent)
		}),
	}
}
