// SPDX-License-Identifier: MIT

// Package artifact caches converted timeline archives keyed by recording
// content, so repeat conversions of an unchanged .touch file are free.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/metrics"
	"github.com/opentouch/touchstream/internal/pipeline"
)

// ConvertFunc produces the artifact at dst from the recording at src. The
// cache calls it on a miss.
type ConvertFunc func(ctx context.Context, src, dst string, opts pipeline.Options) (*jobs.Status, error)

// Converter adapts the standard conversion job to the cache's callback.
func Converter() ConvertFunc {
	return func(ctx context.Context, src, dst string, opts pipeline.Options) (*jobs.Status, error) {
		return jobs.Convert(ctx, jobs.ConvertRequest{Input: src, Output: dst, Options: opts})
	}
}

// Cache materializes .otl artifacts under one directory. Keys combine the
// recording's content hash with the decode-option fingerprint, so an edited
// recording or a different option set converts fresh while unchanged inputs
// reuse the existing artifact.
type Cache struct {
	dir   string
	index *Index
}

// New returns a cache rooted at dir. index may be nil; it feeds the artifact
// listing only and is never consulted for hit decisions.
func New(dir string, index *Index) *Cache {
	return &Cache{dir: dir, index: index}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Index returns the advisory conversion index, or nil.
func (c *Cache) Index() *Index { return c.index }

// Key computes the cache key for src under opts: the hex SHA-256 over the
// file's bytes and the option fingerprint.
func (c *Cache) Key(src string, opts pipeline.Options) (string, error) {
	// #nosec G304 -- recording paths come from the operator or the library
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("artifact: hash %s: %w", src, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("artifact: hash %s: %w", src, err)
	}
	h.Write([]byte{0})
	h.Write([]byte(Fingerprint(opts)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Path returns where the artifact for (src, opts) lives, hashing src.
func (c *Cache) Path(src string, opts pipeline.Options) (string, error) {
	key, err := c.Key(src, opts)
	if err != nil {
		return "", err
	}
	return c.pathForKey(src, key), nil
}

func (c *Cache) pathForKey(src, key string) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	stem = strings.ReplaceAll(stem, " ", "_")
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.otl", stem, key[:12]))
}

// GetOrCreate returns the artifact path for (src, opts), converting on a
// miss. The returned Status is nil on a hit.
func (c *Cache) GetOrCreate(ctx context.Context, src string, opts pipeline.Options, convert ConvertFunc) (string, *jobs.Status, error) {
	logger := log.WithComponentFromContext(ctx, "artifact")

	key, err := c.Key(src, opts)
	if err != nil {
		return "", nil, err
	}
	path := c.pathForKey(src, key)

	if nonEmptyFile(path) {
		metrics.IncArtifactCache("hit")
		logger.Debug().
			Str(log.FieldRecording, src).
			Str(log.FieldArtifact, path).
			Msg("artifact cache hit")
		return path, nil, nil
	}
	metrics.IncArtifactCache("miss")

	status, err := c.create(ctx, src, key, path, opts, convert)
	if err != nil {
		return "", nil, err
	}
	return path, status, nil
}

// Create converts unconditionally, replacing any cached artifact for
// (src, opts). Callers use it to bypass reuse while keeping the keyed
// artifact path and the index entry.
func (c *Cache) Create(ctx context.Context, src string, opts pipeline.Options, convert ConvertFunc) (string, *jobs.Status, error) {
	key, err := c.Key(src, opts)
	if err != nil {
		return "", nil, err
	}
	path := c.pathForKey(src, key)
	status, err := c.create(ctx, src, key, path, opts, convert)
	if err != nil {
		return "", nil, err
	}
	return path, status, nil
}

func (c *Cache) create(ctx context.Context, src, key, path string, opts pipeline.Options, convert ConvertFunc) (*jobs.Status, error) {
	if err := fsutil.EnsureDir(c.dir); err != nil {
		return nil, err
	}
	status, err := convert(ctx, src, path, opts)
	if err != nil {
		return nil, err
	}
	if !nonEmptyFile(path) {
		return nil, fmt.Errorf("artifact: conversion produced no artifact at %s", path)
	}

	if c.index != nil {
		entry := Entry{
			Source:      src,
			Key:         key,
			Fingerprint: Fingerprint(opts),
			Artifact:    path,
			CreatedAt:   time.Now().UTC(),
		}
		if status != nil {
			entry.GroupName = status.GroupName
			entry.Samples = status.Samples
			entry.Warnings = len(status.Warnings)
		}
		if err := c.index.Record(ctx, entry); err != nil {
			logger := log.WithComponentFromContext(ctx, "artifact")
			logger.Warn().Err(err).
				Str(log.FieldArtifact, path).
				Msg("record conversion in artifact index")
		}
	}
	return status, nil
}

func nonEmptyFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// Fingerprint canonicalizes the output-affecting decode options. Prefetch
// changes scheduling only, never artifact bytes, so it stays out of the key.
func Fingerprint(opts pipeline.Options) string {
	streams := make([]string, 0, len(opts.Streams))
	for _, s := range opts.Streams {
		if s = strings.TrimSpace(s); s != "" {
			streams = append(streams, s)
		}
	}
	sort.Strings(streams)

	stride := opts.CameraStride
	if stride < 2 {
		stride = 1
	}

	header := "warn"
	if opts.HeaderMismatch == pipeline.HeaderStrict {
		header = "strict"
	}
	return fmt.Sprintf("streams=%s;stride=%d;on-error=%s;header=%s",
		strings.Join(streams, ","), stride, opts.OnError, header)
}
