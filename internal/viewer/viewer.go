// SPDX-License-Identifier: MIT

// Package viewer resolves the external viewer command, its arguments and
// the layout file handed to every spawned viewer.
package viewer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/opentouch/touchstream/internal/log"
)

const (
	// EnvCommand overrides the viewer command line (shell-split).
	EnvCommand = "TOUCHSTREAM_VIEWER_CMD"
	// EnvArgs holds standing arguments appended to every spawn.
	EnvArgs = "TOUCHSTREAM_VIEWER_ARGS"
	// DefaultCommand is looked up on PATH when EnvCommand is unset.
	DefaultCommand = "otviewer"
)

// ErrNotFound means no viewer command could be resolved.
var ErrNotFound = errors.New("viewer: command not found")

// ResolveCommand returns the viewer argv prefix: the shell-split
// TOUCHSTREAM_VIEWER_CMD when set, otherwise otviewer from PATH.
func ResolveCommand() ([]string, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvCommand)); raw != "" {
		argv, err := shlex.Split(raw)
		if err != nil {
			return nil, fmt.Errorf("viewer: parse %s: %w", EnvCommand, err)
		}
		if len(argv) > 0 {
			return argv, nil
		}
	}
	if path, err := exec.LookPath(DefaultCommand); err == nil {
		return []string{path}, nil
	}
	return nil, fmt.Errorf("%w: set %s or install %q", ErrNotFound, EnvCommand, DefaultCommand)
}

// DefaultArgs returns the operator's standing viewer arguments. Unparseable
// values are logged and dropped instead of failing session creation.
func DefaultArgs() []string {
	raw := strings.TrimSpace(os.Getenv(EnvArgs))
	if raw == "" {
		return nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		log.WithComponent("viewer").Warn().Err(err).Str("value", raw).Msg("ignoring unparseable viewer args")
		return nil
	}
	return args
}

// HasArg reports whether flag occurs as itself or as flag=value.
func HasArg(args []string, flag string) bool {
	prefix := flag + "="
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// NormalizeArgs gives the viewer a private port unless the caller already
// routed it with --port or --connect.
func NormalizeArgs(args []string) ([]string, error) {
	if HasArg(args, "--port") || HasArg(args, "--connect") {
		return args, nil
	}
	port, err := allocatePort()
	if err != nil {
		return nil, fmt.Errorf("viewer: allocate port: %w", err)
	}
	out := make([]string, 0, len(args)+2)
	out = append(out, args...)
	return append(out, "--port", strconv.Itoa(port)), nil
}

// allocatePort asks the kernel for a free ephemeral port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}
