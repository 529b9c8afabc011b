// SPDX-License-Identifier: MIT

// Command validate checks a touchstream YAML configuration file without
// starting the daemon.
//
// Usage:
//
//	validate -f config.yaml
//	validate --file config.yaml
//
// Exit codes:
//   - 0: configuration is valid
//   - 1: configuration is invalid (parse or validation error)
//   - 2: usage error
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/opentouch/touchstream/internal/config"
	"github.com/opentouch/touchstream/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Version)
		return 0
	}

	if file == "" {
		fmt.Fprintln(stderr, "error: --file is required")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "usage:")
		fmt.Fprintln(stderr, "  validate -f config.yaml")
		fmt.Fprintln(stderr, "  validate --file config.yaml")
		return 2
	}

	// Load applies defaults, the file, env overrides, then validation, so
	// the result here matches exactly what the daemon would start with.
	if _, err := config.NewLoader(file, version.Version).Load(); err != nil {
		fmt.Fprintf(stderr, "configuration error in %s:\n", file)
		fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✓ %s is valid\n", file)
	return 0
}
