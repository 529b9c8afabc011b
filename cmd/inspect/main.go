// SPDX-License-Identifier: MIT

// Command inspect prints a .touch container summary for debugging:
// the recording config, per-stream event counts, and optionally the
// chunk index.
//
// Usage:
//
//	inspect [flags] <recording.touch>
//
// Exit codes:
//   - 0: summary printed
//   - 1: the container could not be read
//   - 2: usage error
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/version"
	"github.com/opentouch/touchstream/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dumpChunks := fs.Bool("chunks", false, "dump the chunk index")
	showVersion := fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: inspect [flags] <recording.touch>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "inspect %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)

	r, err := container.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "inspect: %v\n", err)
		return 1
	}
	defer r.Close()

	cfg := r.Config()
	chunks := r.Chunks()

	fmt.Fprintf(stdout, "recording: %s\n", path)
	if cfg.GroupName != "" {
		fmt.Fprintf(stdout, "group:     %s\n", cfg.GroupName)
	}
	if cfg.Destination != "" {
		fmt.Fprintf(stdout, "dest:      %s\n", cfg.Destination)
	}

	counts, unreadable := tallyEvents(r, stderr)
	printStreams(stdout, cfg, counts)

	if len(chunks) > 0 {
		first, last := chunks[0], chunks[len(chunks)-1]
		fmt.Fprintf(stdout, "chunks:    %d spanning [%.3fs, %.3fs)\n", len(chunks), first.Start, last.End)
	} else {
		fmt.Fprintln(stdout, "chunks:    0")
	}
	if unreadable > 0 {
		fmt.Fprintf(stdout, "unreadable chunks: %d\n", unreadable)
	}

	if *dumpChunks {
		fmt.Fprintln(stdout, "\nchunk index:")
		fmt.Fprintf(stdout, "  %-5s %-12s %-12s %-10s %-10s\n", "#", "offset", "length", "start", "end")
		for _, c := range chunks {
			fmt.Fprintf(stdout, "  %-5d %-12d %-12d %-10.3f %-10.3f\n", c.Index, c.Offset, c.Length, c.Start, c.End)
		}
	}

	if unreadable > 0 {
		return 1
	}
	return 0
}

// tallyEvents counts events per sensor/stream across every chunk. Damaged
// chunks still contribute the events parsed before the damage.
func tallyEvents(r *container.Reader, stderr io.Writer) (map[string]int, int) {
	counts := make(map[string]int)
	unreadable := 0
	for _, info := range r.Chunks() {
		buf, err := r.ReadChunk(context.Background(), info.Index)
		if err != nil {
			fmt.Fprintf(stderr, "inspect: chunk %d: %v\n", info.Index, err)
			unreadable++
			continue
		}
		events, err := wire.UnpackChunk(buf)
		if err != nil {
			fmt.Fprintf(stderr, "inspect: chunk %d: %v\n", info.Index, err)
			unreadable++
		}
		for _, ev := range events {
			counts[ev.Sensor+"/"+ev.Stream]++
		}
	}
	return counts, unreadable
}

// printStreams lists declared streams with their kinds and counted events,
// then any streams found in chunks that the config never declared.
func printStreams(w io.Writer, cfg container.Config, counts map[string]int) {
	fmt.Fprintln(w, "streams:")
	declared := make(map[string]bool)
	for _, sensor := range cfg.Sensors {
		for _, stream := range sensor.Streams {
			key := sensor.Name + "/" + stream.Name
			declared[key] = true
			fmt.Fprintf(w, "  %-24s %-12s %d events\n", key, string(stream.Kind), counts[key])
		}
	}

	var extras []string
	for key := range counts {
		if !declared[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		fmt.Fprintf(w, "  %-24s %-12s %d events (undeclared)\n", key, "-", counts[key])
	}
}
