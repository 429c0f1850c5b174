// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/wlctl/internal/config"
)

func jsonConfig(level string, outputs ...config.LogOutputConfig) *config.LogConfig {
	return &config.LogConfig{
		Level:  level,
		Format: "json",
		Output: outputs,
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LogConfig
		wantErr string
	}{
		{
			name:   "console json",
			config: jsonConfig("info", config.LogOutputConfig{Type: "console", Enabled: true}),
		},
		{
			name: "console pretty",
			config: &config.LogConfig{
				Level:  "warn",
				Format: "console",
				Output: []config.LogOutputConfig{{Type: "console", Enabled: true}},
			},
		},
		{
			name: "rotating file",
			config: jsonConfig("debug", config.LogOutputConfig{
				Type:    "file",
				Enabled: true,
				Path:    filepath.Join(t.TempDir(), "logs", "wlctl.log"),
				Rotate:  config.LogRotateConfig{MaxSizeMB: 1, MaxBackups: 2},
			}),
		},
		{
			name:   "no outputs",
			config: jsonConfig("info"),
		},
		{
			name:    "unknown output",
			config:  jsonConfig("info", config.LogOutputConfig{Type: "syslog", Enabled: true}),
			wantErr: "unsupported output type: syslog",
		},
		{
			name:    "file without path",
			config:  jsonConfig("info", config.LogOutputConfig{Type: "file", Enabled: true}),
			wantErr: "needs a path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newManager(tt.config, &bytes.Buffer{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, m.Close())
		})
	}
}

func TestManager_GetLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := jsonConfig("info", config.LogOutputConfig{Type: "console", Enabled: true})
	cfg.Levels = map[string]string{ControlComponent: "debug", APIComponent: "error"}
	m, err := newManager(cfg, &buf)
	require.NoError(t, err)

	control := m.GetLogger(ControlComponent)
	api := m.GetLogger(APIComponent)
	cli := m.GetLogger(CLIComponent)
	control.Debug().Str("request_id", "r-1").Msg("sent")
	api.Warn().Msg("dropped")
	cli.Debug().Msg("dropped")
	cli.Info().Msg("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, ControlComponent, lines[0]["pkg"])
	assert.Equal(t, "r-1", lines[0]["request_id"])
	assert.Equal(t, CLIComponent, lines[1]["pkg"])
	assert.Equal(t, "kept", lines[1]["message"])
}

func TestManager_SetPackageLevel(t *testing.T) {
	var buf bytes.Buffer
	m, err := newManager(jsonConfig("info", config.LogOutputConfig{Type: "console", Enabled: true}), &buf)
	require.NoError(t, err)

	hidden := m.GetLogger(ControlComponent)
	hidden.Debug().Msg("hidden")
	m.SetPackageLevel(ControlComponent, "debug")
	shown := m.GetLogger(ControlComponent)
	shown.Debug().Msg("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestManager_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wlctl.log")
	cfg := &config.LogConfig{
		Level:  "info",
		Format: "console",
		Output: []config.LogOutputConfig{
			{Type: "console", Enabled: false},
			{Type: "file", Enabled: true, Path: path, Rotate: config.LogRotateConfig{MaxSizeMB: 1}},
		},
	}
	m, err := newManager(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		log := m.GetLogger(CLIComponent)
		log.Info().Int("iteration", i).Msg("applied manifest")
	}
	require.NoError(t, m.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "applied manifest")
	assert.NotContains(t, string(content), "\x1b[", "file output is not colored")
}

func TestManager_ConcurrentGetLogger(t *testing.T) {
	m, err := newManager(jsonConfig("info", config.LogOutputConfig{Type: "console", Enabled: true}), &bytes.Buffer{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := m.GetLogger(ControlComponent)
			log.Info().Msg("concurrent")
		}()
	}
	wg.Wait()
	assert.Len(t, m.loggers, 1)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"Info":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(input))
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, CloseGlobal())
	// Nothing is written before Initialize.
	log := GetControlLogger()
	log.Error().Msg("discarded")

	require.NoError(t, Initialize(jsonConfig("info")))
	require.NoError(t, Initialize(jsonConfig("debug")), "initializing again replaces the manager")
	assert.Equal(t, zerolog.DebugLevel, GetCLILogger().GetLevel())

	require.NoError(t, CloseGlobal())
	require.NoError(t, CloseGlobal())
	assert.Equal(t, zerolog.Disabled, GetAPILogger().GetLevel())
}
