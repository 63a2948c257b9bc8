// Package requestctx carries per-request values (logger, trace ids, caller) across package boundaries.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	actorKey  struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the span the request runs under.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger attaches the request scoped logger. A nil logger is stored as a no-op one.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a real logger was injected.
func HasLogger(ctx context.Context) bool {
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok && logger != noopLogger
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// WithActor records the authenticated caller so service log lines can be attributed
// without threading the identity through every call.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// Actor returns the caller recorded by WithActor, or "".
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
