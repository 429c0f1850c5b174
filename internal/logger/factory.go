// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Component names, matching the keys of log.levels.
const (
	ControlComponent = "controlif"
	CLIComponent     = "cli"
	APIComponent     = "api"
)

// GetControlLogger returns the logger handed to the control interface client
func GetControlLogger() zerolog.Logger {
	return GetLogger(ControlComponent)
}

// GetCLILogger returns a logger for command execution
func GetCLILogger() zerolog.Logger {
	return GetLogger(CLIComponent)
}

// GetAPILogger returns a logger for the status gateway
func GetAPILogger() zerolog.Logger {
	return GetLogger(APIComponent)
}
