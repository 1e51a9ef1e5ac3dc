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

// Version is the current version of anomalyops.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/anomalyops/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the source revision, set at build time.
var Commit = "dev"

// String renders the version for logs and the CLI.
func String() string {
	return fmt.Sprintf("anomalyops %s (%s, %s)", Version, Commit, runtime.Version())
}
