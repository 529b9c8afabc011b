// SPDX-License-Identifier: MIT

// Package fsutil confines user-supplied recording paths to the configured
// roots and provides the small filesystem checks shared by the library
// scanner and the HTTP API.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot marks a path that resolves outside every allowed root.
var ErrOutsideRoot = errors.New("fsutil: path escapes allowed roots")

// Confine resolves target and verifies it lies physically under root,
// following symlinks on both sides. It returns the resolved path.
func Confine(root, target string) (string, error) {
	if strings.Contains(target, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, target)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}

	realPath, err := resolveTarget(target)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, target)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves to %q", ErrOutsideRoot, target, realPath)
	}
	return realPath, nil
}

// ConfineToRoots tries each root in order and returns the first resolved
// path under any of them.
func ConfineToRoots(roots []string, target string) (string, error) {
	if len(roots) == 0 {
		return "", fmt.Errorf("%w: no roots configured", ErrOutsideRoot)
	}
	for _, root := range roots {
		if resolved, err := Confine(root, target); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrOutsideRoot, target)
}

// resolveTarget follows symlinks of the target, or of its parent when the
// target does not exist yet. Failing to resolve an existing path is an
// error; trusting the lexical path there would let a symlink escape.
func resolveTarget(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("fsutil: resolve %q: %w", path, err)
		}
		return realPath, nil
	}

	dir := filepath.Dir(path)
	if realDir, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(realDir, filepath.Base(path)), nil
	} else if _, statErr := os.Stat(dir); statErr == nil {
		return "", fmt.Errorf("fsutil: resolve parent of %q: %w", path, err)
	}
	return path, nil
}

// IsRegularFile reports an error unless path names an existing regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("fsutil: %q is not a regular file", path)
	}
	return nil
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("fsutil: create %q: %w", dir, err)
	}
	return nil
}
