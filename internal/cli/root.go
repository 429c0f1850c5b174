// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noldarim/wlctl/internal/observability"
	"github.com/noldarim/wlctl/pkg/controlif"
)

// NewRootCmd creates the root wlctl command with all subcommands attached.
// opts are applied to every client after the configured ones.
func NewRootCmd(opts ...controlif.Option) *cobra.Command {
	a := &app{extra: opts}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Manage workloads through the control interface",
		Long: "wlctl talks to the orchestrator through the control interface pipes of the\n" +
			"workload it runs in. It applies manifests, reads state and waits for workloads.",
		Example:       rootExamples,
		Version:       fmt.Sprintf("%s %s", appName, observability.Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != "yaml" && a.output != "json" {
				return fmt.Errorf("unknown output format %q", a.output)
			}
			return a.setup(cmd)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "config file (default: search ./config.yaml, /etc/wlctl, ~/.wlctl)")
	f.StringVar(&a.baseDir, "base-dir", controlif.DefaultBaseDir, "directory holding the control interface pipes")
	f.DurationVar(&a.timeout, "timeout", controlif.DefaultTimeout, "timeout of each request")
	f.StringVar(&a.logLevel, "log-level", "info", "log level")
	f.StringVarP(&a.output, "output", "o", "yaml", "output format: yaml or json")

	cmd.AddCommand(
		newApplyCmd(a),
		newDeleteCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newWaitCmd(a),
		newWatchCmd(a),
		newLogsCmd(a),
		newServeCmd(a),
	)

	return cmd
}
