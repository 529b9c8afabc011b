// SPDX-License-Identifier: MIT

// Package version carries build identity injected via ldflags.
package version

var (
	// Version is the current application version, populated by the build
	// system (ldflags) with a dev fallback.
	Version = "dev"

	// Commit is the abbreviated git revision the binary was built from.
	Commit = "unknown"

	// Date records when the binary was built.
	Date = "unknown"
)
