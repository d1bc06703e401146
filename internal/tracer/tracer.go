// Package tracer provides the tracing seam for Recora. The default is
// a no-op; production wiring adapts an OpenTelemetry tracer.
package tracer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer opens spans around statement execution.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is one traced operation.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	End()
}

// NoopTracer discards everything. It is the default when no tracer is
// configured.
type NoopTracer struct{}

// StartSpan returns the context unchanged with a no-op span.
func (n *NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &NoopSpan{}
}

// NoopSpan is a span that does nothing.
type NoopSpan struct{}

func (n *NoopSpan) SetAttributes(_ ...attribute.KeyValue) {}
func (n *NoopSpan) RecordError(_ error)                   {}
func (n *NoopSpan) SetStatus(_ codes.Code, _ string)      {}
func (n *NoopSpan) End()                                  {}

// OtelTracer implements Tracer over an OpenTelemetry trace.Tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps an OpenTelemetry tracer. It must not be nil.
func NewOtelTracer(tracer trace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: tracer}
}

// StartSpan starts a new OpenTelemetry span.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &OtelSpan{span: span}
}

// OtelSpan wraps an OpenTelemetry span.
type OtelSpan struct {
	span trace.Span
}

func (s *OtelSpan) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }
func (s *OtelSpan) RecordError(err error)                     { s.span.RecordError(err) }
func (s *OtelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s *OtelSpan) End() { s.span.End() }

// QueryMetadata describes one executed statement for span annotation.
type QueryMetadata struct {
	SQL      string
	Args     []any
	Duration time.Duration
	// Rows is the row count for queries, the affected count for writes.
	Rows  int64
	Error error
	// Dialect is the database system tag (postgres, mysql, sqlite).
	Dialect   string
	Operation string
}

// AddQueryAttributes annotates a span following the OpenTelemetry
// database semantic conventions.
func AddQueryAttributes(span Span, meta *QueryMetadata) {
	span.SetAttributes(
		attribute.String("db.system", meta.Dialect),
		attribute.String("db.statement", meta.SQL),
		attribute.String("db.operation", meta.Operation),
		attribute.Int64("db.rows", meta.Rows),
		attribute.Float64("db.duration_ms", float64(meta.Duration.Microseconds())/1000.0),
	)
	if meta.Error != nil {
		span.RecordError(meta.Error)
		span.SetStatus(codes.Error, meta.Error.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
