// SPDX-License-Identifier: MIT

// Command convert turns a .touch recording into a .otl timeline artifact.
//
// Usage:
//
//	convert [flags] <input.touch> <output.otl>
//
// Exit codes:
//   - 0: full success
//   - 1: conversion failed mid-decode
//   - 2: usage error, or the recording could not be opened
//   - 3: converted with warnings (artifact still written)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/opentouch/touchstream/internal/config"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/pipeline"
	"github.com/opentouch/touchstream/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)

	streams := fs.String("streams", "", "comma-separated stream filter (sensor/stream or bare stream name)")
	stride := fs.Int("stride", 1, "keep every n-th row and column of camera frames")
	onError := fs.String("on-error", config.OnErrorSkipEvent, "decode error policy: skip-event, skip-stream or abort")
	headerMismatch := fs.String("header-mismatch", config.HeaderMismatchWarn, "header cross-check policy: warn or strict")
	prefetch := fs.Bool("prefetch", false, "read the next chunk while decoding the current one")
	quiet := fs.Bool("quiet", false, "suppress the conversion summary")
	showVersion := fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: convert [flags] <input.touch> <output.otl>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "convert %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fs.Usage()
		return 2
	}
	input, output := rest[0], rest[1]

	opts := pipeline.Options{
		CameraStride: *stride,
		Prefetch:     *prefetch,
	}
	if *streams != "" {
		for _, s := range strings.Split(*streams, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Streams = append(opts.Streams, s)
			}
		}
	}

	var err error
	if opts.OnError, err = pipeline.ParseOnError(*onError); err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return 2
	}
	if opts.HeaderMismatch, err = pipeline.ParseHeaderMismatch(*headerMismatch); err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return 2
	}
	if *stride < 1 {
		fmt.Fprintf(stderr, "convert: --stride must be >= 1, got %d\n", *stride)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := jobs.Convert(ctx, jobs.ConvertRequest{Input: input, Output: output, Options: opts})
	if err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		if errors.Is(err, jobs.ErrOpenInput) {
			return 2
		}
		return 1
	}

	if !*quiet {
		printSummary(stdout, status)
	}

	if len(status.Warnings) > 0 {
		return 3
	}
	return 0
}

func printSummary(w io.Writer, status *jobs.Status) {
	name := status.GroupName
	if name == "" {
		name = status.Input
	}
	fmt.Fprintf(w, "✓ %s → %s\n", name, status.Artifact)
	fmt.Fprintf(w, "  chunks: %d  events: %d  samples: %d  dropped: %d\n",
		status.Chunks, status.Events, status.Samples, status.Dropped)
	if len(status.ByKind) > 0 {
		kinds := make([]string, 0, len(status.ByKind))
		for k := range status.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%d", k, status.ByKind[k]))
		}
		fmt.Fprintf(w, "  kinds: %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "  duration: %s\n", status.Duration.Round(time.Millisecond))

	if len(status.Warnings) > 0 {
		fmt.Fprintf(w, "warnings (%d):\n", len(status.Warnings))
		for _, warn := range status.Warnings {
			fmt.Fprintf(w, "  %s\n", warn)
		}
	}
}
