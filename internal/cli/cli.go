// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const appName = "wlctl"

// Execute runs the CLI application until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

const rootExamples = `  ` + appName + ` apply manifest.yaml
  ` + appName + ` get state desiredState.workloads
  ` + appName + ` get workloads --agent agent_A
  ` + appName + ` wait nginx.1234.agent_A Running
  ` + appName + ` delete --workload nginx
  ` + appName + ` watch workloadStates
  ` + appName + ` serve --addr 127.0.0.1:8089`
