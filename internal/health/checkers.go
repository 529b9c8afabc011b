// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"os"
	"path/filepath"
)

// WritableDirChecker verifies a directory exists and accepts writes.
type WritableDirChecker struct {
	name string
	path string
}

// NewWritableDirChecker creates a checker for directory writability.
func NewWritableDirChecker(name, path string) *WritableDirChecker {
	return &WritableDirChecker{name: name, path: path}
}

func (c *WritableDirChecker) Name() string { return c.name }

func (c *WritableDirChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusUnhealthy, Error: "no directory configured"}
	}
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory does not exist", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.path}
	}

	probe := filepath.Join(c.path, ".touchstream-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "directory not writable", Message: c.path}
	}
	_ = os.Remove(probe)

	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// PingChecker wraps a connectivity probe, e.g. the library store or Redis.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker creates a checker from a ping function.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.ping == nil {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// ViewerChecker reports whether the viewer command resolves. A missing viewer
// degrades readiness but never blocks it: conversions work without a viewer,
// only sessions need one.
type ViewerChecker struct {
	resolve func() ([]string, error)
}

// NewViewerChecker creates a checker from the viewer command resolver.
func NewViewerChecker(resolve func() ([]string, error)) *ViewerChecker {
	return &ViewerChecker{resolve: resolve}
}

func (c *ViewerChecker) Name() string { return "viewer" }

func (c *ViewerChecker) Check(_ context.Context) CheckResult {
	argv, err := c.resolve()
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   err.Error(),
			Message: "sessions unavailable until a viewer is installed",
		}
	}
	if len(argv) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "viewer command empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: argv[0]}
}

// Informational downgrades a checker's failures to degraded, for components
// the daemon can serve without.
func Informational(c Checker) Checker { return informational{inner: c} }

type informational struct {
	inner Checker
}

func (i informational) Name() string { return i.inner.Name() }

func (i informational) Check(ctx context.Context) CheckResult {
	result := i.inner.Check(ctx)
	if result.Status == StatusUnhealthy {
		result.Status = StatusDegraded
	}
	return result
}
