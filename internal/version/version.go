/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of audioservice.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/audioservice/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// String returns the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("audioservice %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
