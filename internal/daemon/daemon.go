/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package daemon detaches the service from its controlling terminal by
// re-executing the binary in a new session.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// EnvMarker is set in the environment of the detached child.
const EnvMarker = "AUDIOSERVICE_DAEMONIZED"

// IsChild reports whether this process is the detached copy.
func IsChild() bool {
	return os.Getenv(EnvMarker) == "1"
}

// Command builds the detached re-execution of exe with args. extraEnv is
// appended after the inherited environment, so its entries win.
func Command(exe string, args, extraEnv []string, stdio *os.File) *exec.Cmd {
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Env = append(cmd.Env, EnvMarker+"=1")
	cmd.Dir = "/"
	cmd.Stdin = stdio
	cmd.Stdout = stdio
	cmd.Stderr = stdio
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

// Detach starts a detached copy of the running binary with args and extraEnv
// and returns its pid. The child runs in "/", so any path it receives must
// already be absolute. The caller is expected to exit afterwards.
func Detach(args, extraEnv []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := Command(exe, args, extraEnv, devNull)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release detached process: %w", err)
	}
	return pid, nil
}
