// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
)

const (
	// DefaultBaseDir is where the agent mounts the control interface.
	DefaultBaseDir = "/run/ankaios/control_interface"

	// InputFIFO carries frames from the agent to the workload.
	InputFIFO = "input"
	// OutputFIFO carries frames from the workload to the agent.
	OutputFIFO = "output"
)

// CheckFIFO fails with errdefs.ErrConnection unless path is a named pipe.
func CheckFIFO(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrConnection, path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return fmt.Errorf("%w: %s is not a named pipe", errdefs.ErrConnection, path)
	}
	return nil
}

// OpenFIFOs opens the control interface pipes in dir: input for reading
// and output for writing. Opening a pipe blocks until the agent opens the
// other end, so both are opened concurrently and ctx bounds the wait.
func OpenFIFOs(ctx context.Context, dir string) (io.ReadCloser, io.WriteCloser, error) {
	inPath := filepath.Join(dir, InputFIFO)
	outPath := filepath.Join(dir, OutputFIFO)
	for _, p := range []string{inPath, outPath} {
		if err := CheckFIFO(p); err != nil {
			return nil, nil, err
		}
	}

	var in, out *os.File
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := openContext(gctx, inPath, os.O_RDONLY)
		in = f
		return err
	})
	g.Go(func() error {
		f, err := openContext(gctx, outPath, os.O_WRONLY)
		out = f
		return err
	})
	if err := g.Wait(); err != nil {
		for _, f := range []*os.File{in, out} {
			if f != nil {
				_ = f.Close()
			}
		}
		return nil, nil, fmt.Errorf("%w: %w", errdefs.ErrConnection, err)
	}
	return in, out, nil
}

type openResult struct {
	f   *os.File
	err error
}

// openContext opens path in the background and gives up when ctx ends. A
// file opened after giving up is closed as soon as the open returns.
func openContext(ctx context.Context, path string, flag int) (*os.File, error) {
	ch := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(path, flag, 0)
		ch <- openResult{f: f, err: err}
	}()

	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return nil, fmt.Errorf("opening %s: %w", path, ctx.Err())
	}
}

// WaitForFIFOs blocks until both pipes exist in dir or ctx ends.
func WaitForFIFOs(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("%w: watching %s: %w", errdefs.ErrConnection, dir, err)
	}

	present := func() bool {
		for _, name := range []string{InputFIFO, OutputFIFO} {
			if CheckFIFO(filepath.Join(dir, name)) != nil {
				return false
			}
		}
		return true
	}

	for {
		if present() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for pipes in %s: %w", errdefs.ErrConnection, dir, ctx.Err())
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", errdefs.ErrConnection)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", errdefs.ErrConnection)
			}
			return fmt.Errorf("%w: watching %s: %w", errdefs.ErrConnection, dir, err)
		}
	}
}
