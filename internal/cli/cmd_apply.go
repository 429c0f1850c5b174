// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
	"github.com/noldarim/wlctl/pkg/manifest"
)

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Apply the workloads and configs of a manifest",
		Long: "Apply makes the workloads and configs declared in the manifest part of the\n" +
			"desired state. Workloads already present are replaced.",
		Args: cobra.ExactArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			m, err := manifest.FromFile(args[0])
			if err != nil {
				return err
			}
			observability.SetAttributes(ctx, observability.AttrManifest.String(args[0]))

			res, err := client.ApplyManifest(ctx, m)
			if err != nil {
				return fmt.Errorf("apply %s: %w", args[0], err)
			}
			return a.print(cmd.OutOrStdout(), res)
		}),
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var (
		workloads []string
		configs   []string
	)

	cmd := &cobra.Command{
		Use:   "delete [manifest]",
		Short: "Delete workloads and configs",
		Long: "Delete removes everything a manifest declares, or the workloads and configs\n" +
			"named with --workload and --config-name.",
		Args: cobra.MaximumNArgs(1),
		RunE: a.withClient(func(ctx context.Context, cmd *cobra.Command, args []string, client *controlif.Client) error {
			if len(args) == 1 {
				m, err := manifest.FromFile(args[0])
				if err != nil {
					return err
				}
				res, err := client.DeleteManifest(ctx, m)
				if err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				return a.print(cmd.OutOrStdout(), res)
			}

			if len(workloads) == 0 && len(configs) == 0 {
				return errors.New("nothing to delete: pass a manifest, --workload or --config-name")
			}

			var out controlif.UpdateResult
			for _, name := range workloads {
				observability.SetAttributes(ctx, observability.AttrWorkload.String(name))
				res, err := client.DeleteWorkload(ctx, name)
				if err != nil {
					return fmt.Errorf("delete workload %s: %w", name, err)
				}
				out.Added = append(out.Added, res.Added...)
				out.Deleted = append(out.Deleted, res.Deleted...)
			}
			for _, name := range configs {
				if err := client.DeleteConfig(ctx, name); err != nil {
					return fmt.Errorf("delete config %s: %w", name, err)
				}
			}
			return a.print(cmd.OutOrStdout(), out)
		}),
	}

	cmd.Flags().StringSliceVar(&workloads, "workload", nil, "workload to delete (repeatable)")
	cmd.Flags().StringSliceVar(&configs, "config-name", nil, "config to delete (repeatable)")
	return cmd
}
