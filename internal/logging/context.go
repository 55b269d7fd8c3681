package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type itemCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if id := ItemIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("item.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// WithRunID tags ctx with a reconciliation pass id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the reconciliation pass id, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithItemID tags ctx with the tree item being processed.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemCtxKey{}, id)
}

// ItemIDFromContext returns the tree item id, or "".
func ItemIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(itemCtxKey{}).(string)
	return id
}

// WithRequestID tags ctx with an inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the inbound request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Wrap(nil)
}
