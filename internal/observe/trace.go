package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the speechblobs tracer.
const tracerName = "github.com/MrWong99/speechblobs"

// Span attribute keys shared by the dictation pipeline.
const (
	AttrRecordID   = attribute.Key("speechblobs.record.id")
	AttrProvider   = attribute.Key("speechblobs.provider")
	AttrAudioBytes = attribute.Key("speechblobs.audio.bytes")
)

// Tracer returns the speechblobs tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartRecordSpan starts a span for work on one document record. The
// returned logger carries the trace IDs and the record ID so every log line
// of that work can be joined with its span.
func StartRecordSpan(ctx context.Context, name, recordID string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *slog.Logger) {
	attrs = append([]attribute.KeyValue{AttrRecordID.String(recordID)}, attrs...)
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span, Logger(ctx).With("record", recordID)
}

// FailSpan marks span as failed with err. A nil err is ignored.
func FailSpan(span trace.Span, err error, msg string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none. HTTP responses echo it so a client report can be matched
// to server logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx holds an active span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
