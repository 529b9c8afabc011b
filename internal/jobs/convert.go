// SPDX-License-Identifier: MIT

// Package jobs runs the conversion workflow: decode a recording container
// and write the canonical timeline archive.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/metrics"
	"github.com/opentouch/touchstream/internal/pipeline"
	"github.com/opentouch/touchstream/internal/sink"
	"github.com/opentouch/touchstream/internal/telemetry"
)

// ErrOpenInput marks a conversion that failed before decoding started: the
// recording could not be opened at all.
var ErrOpenInput = errors.New("jobs: open recording")

// ConvertRequest names the input container, the artifact to write and the
// decode options.
type ConvertRequest struct {
	Input   string
	Output  string
	Options pipeline.Options
}

// Status reports one finished conversion.
type Status struct {
	Input     string             `json:"input"`
	Artifact  string             `json:"artifact"`
	GroupName string             `json:"group_name,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Chunks    int                `json:"chunks"`
	Events    int                `json:"events"`
	Samples   int                `json:"samples"`
	Dropped   int                `json:"dropped"`
	ByKind    map[string]int     `json:"by_kind,omitempty"`
	Warnings  []pipeline.Warning `json:"warnings,omitempty"`
}

// Convert decodes req.Input and writes the .otl archive to req.Output. The
// artifact is installed atomically: on error no partial file is left behind.
// Decode warnings do not fail the run; they are returned in the Status.
func Convert(ctx context.Context, req ConvertRequest) (*Status, error) {
	if req.Input == "" || req.Output == "" {
		return nil, errors.New("jobs: convert needs input and output paths")
	}

	tracer := telemetry.Tracer("touchstream.jobs")
	ctx, span := tracer.Start(ctx, "convert", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	logger := log.WithComponentFromContext(ctx, "jobs")
	logger.Info().
		Str(log.FieldEvent, "convert.start").
		Str(log.FieldRecording, req.Input).
		Str(log.FieldArtifact, req.Output).
		Msg("starting conversion")

	started := time.Now()
	stream, err := pipeline.Open(req.Input, req.Options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open recording")
		metrics.IncConvert("error")
		return nil, fmt.Errorf("%w %q: %w", ErrOpenInput, req.Input, err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("close recording stream")
		}
	}()

	status, err := writeArchive(ctx, req, stream)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		metrics.IncConvert("error")
		return nil, err
	}
	status.StartedAt = started
	status.Duration = time.Since(started)

	result := "ok"
	if len(status.Warnings) > 0 {
		result = "warnings"
	}
	metrics.IncConvert(result)
	metrics.ObserveConvertDuration(status.Duration)
	emitConvertObs(ctx, span, status, result)

	logger.Info().
		Str(log.FieldEvent, "convert.success").
		Str(log.FieldArtifact, status.Artifact).
		Str(log.FieldGroup, status.GroupName).
		Int(log.FieldSamples, status.Samples).
		Int(log.FieldWarnings, len(status.Warnings)).
		Dur("duration", status.Duration).
		Msg("conversion completed")
	return status, nil
}

// writeArchive drains the stream into a pending file and installs it.
func writeArchive(ctx context.Context, req ConvertRequest, stream *pipeline.Stream) (*Status, error) {
	logger := log.FromContext(ctx)

	if err := fsutil.EnsureDir(filepath.Dir(req.Output)); err != nil {
		return nil, err
	}
	pending, err := renameio.NewPendingFile(req.Output)
	if err != nil {
		return nil, fmt.Errorf("create pending artifact: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending artifact")
		}
	}()

	cfg := stream.Config()
	w, err := sink.NewWriter(pending, sink.Manifest{
		GroupName: cfg.GroupName,
		Source:    req.Input,
		CreatedAt: time.Now().UTC(),
		Sensors:   cfg.Sensors,
	})
	if err != nil {
		return nil, err
	}

	for {
		sample, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", req.Input, err)
		}
		if err := w.WriteSample(sample); err != nil {
			return nil, fmt.Errorf("write artifact: %w", err)
		}
	}

	sum := stream.Summary()
	byKind := make(map[string]int, len(sum.ByKind))
	for kind, n := range sum.ByKind {
		byKind[string(kind)] = n
	}
	if err := w.Finish(sink.Summary{
		Chunks:   sum.Chunks,
		Events:   sum.Events,
		Samples:  sum.Samples,
		Dropped:  sum.Dropped,
		Warnings: len(sum.Warnings),
		ByKind:   byKind,
	}); err != nil {
		return nil, fmt.Errorf("finish artifact: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("install artifact: %w", err)
	}

	return &Status{
		Input:     req.Input,
		Artifact:  req.Output,
		GroupName: cfg.GroupName,
		Chunks:    sum.Chunks,
		Events:    sum.Events,
		Samples:   sum.Samples,
		Dropped:   sum.Dropped,
		ByKind:    byKind,
		Warnings:  sum.Warnings,
	}, nil
}

// emitConvertObs records the run on the active span and the OTel meter.
func emitConvertObs(ctx context.Context, span trace.Span, status *Status, result string) {
	span.SetAttributes(telemetry.ConvertAttributes(
		status.Input, status.Artifact,
		status.Samples, len(status.Warnings), status.Dropped,
	)...)
	span.SetAttributes(telemetry.JobAttributes("convert", result, status.Duration)...)

	meter := otel.GetMeterProvider().Meter("touchstream.jobs")
	converted, err := meter.Int64Counter("touchstream_convert_samples_total",
		metric.WithDescription("Canonical samples written to artifacts"))
	if err != nil {
		return
	}
	converted.Add(ctx, int64(status.Samples), metric.WithAttributes(
		attribute.String("result", result),
	))
}

// SummaryKinds lists the kinds of a conversion in config order, for human
// output in the CLI.
func SummaryKinds(cfg container.Config, byKind map[string]int) []string {
	seen := map[string]bool{}
	var kinds []string
	for _, sensor := range cfg.Sensors {
		for _, stream := range sensor.Streams {
			k := string(stream.Kind)
			if byKind[k] > 0 && !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}
