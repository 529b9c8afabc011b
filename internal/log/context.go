// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	sessionIDKey ctxKey = "session_id"
	jobIDKey     ctxKey = "job_id"
)

// correlationFields lists every id the package knows how to carry through a
// context, paired with the log field it lands in.
var correlationFields = [...]struct {
	key   ctxKey
	field string
}{
	{requestIDKey, FieldRequestID},
	{sessionIDKey, FieldSessionID},
	{jobIDKey, FieldJobID},
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key).(string)
	return id
}

// ContextWithRequestID attaches the HTTP request correlation id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestIDKey, id)
}

// ContextWithSessionID attaches a viewer session id to ctx.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionIDKey, id)
}

// ContextWithJobID attaches a conversion job id to ctx.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return withID(ctx, jobIDKey, id)
}

// RequestIDFromContext returns the request id, or "" when ctx carries none.
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestIDKey)
}

// SessionIDFromContext returns the viewer session id, or "" when ctx
// carries none.
func SessionIDFromContext(ctx context.Context) string {
	return idFrom(ctx, sessionIDKey)
}

// JobIDFromContext returns the conversion job id, or "" when ctx carries
// none.
func JobIDFromContext(ctx context.Context) string {
	return idFrom(ctx, jobIDKey)
}

// WithContext copies whichever correlation ids ctx carries onto the logger,
// so a conversion kicked off by an HTTP request keeps its request id
// through every pipeline stage.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	found := 0
	for _, cf := range correlationFields {
		if id := idFrom(ctx, cf.key); id != "" {
			builder = builder.Str(cf.field, id)
			found++
		}
	}
	if found == 0 {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext combines FromContext, WithContext and a
// component annotation. Handlers and workers obtain their logger this way.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := FromContext(ctx)
	return WithContext(ctx, *l).With().Str(FieldComponent, component).Logger()
}

// FromContext returns the logger zerolog stored in ctx, falling back to the
// package base logger when none is stored.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
