package storage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for storage spans.
const defaultTracerName = "localstore/storage"

// TraceOption configures Traced.
type TraceOption func(*traced)

// WithTracer sets the tracer. Default: otel.Tracer("localstore/storage")
// from the global provider.
func WithTracer(tracer trace.Tracer) TraceOption {
	return func(t *traced) {
		t.tracer = tracer
	}
}

// WithBackendName sets the "localstore.backend" span attribute.
func WithBackendName(name string) TraceOption {
	return func(t *traced) {
		t.backend = name
	}
}

type traced struct {
	next    Storage
	tracer  trace.Tracer
	backend string
}

// Traced wraps s so every operation runs in its own span named
// "localstore.GetItem", "localstore.SetItem" or "localstore.RemoveItem".
// Spans carry the key, the backend name and, for reads, whether the key
// was found. Errors are recorded and set the span status.
func Traced(s Storage, opts ...TraceOption) Storage {
	t := &traced{next: s, backend: "unknown"}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(defaultTracerName)
	}
	return t
}

func (t *traced) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "localstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("localstore.key", key),
			attribute.String("localstore.backend", t.backend),
		),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *traced) GetItem(ctx context.Context, key string) (string, bool, error) {
	ctx, span := t.start(ctx, "GetItem", key)
	value, ok, err := t.next.GetItem(ctx, key)
	span.SetAttributes(attribute.Bool("localstore.found", ok))
	finish(span, err)
	return value, ok, err
}

func (t *traced) SetItem(ctx context.Context, key, value string) error {
	ctx, span := t.start(ctx, "SetItem", key)
	span.SetAttributes(attribute.Int("localstore.value_bytes", len(value)))
	err := t.next.SetItem(ctx, key, value)
	finish(span, err)
	return err
}

func (t *traced) RemoveItem(ctx context.Context, key string) error {
	ctx, span := t.start(ctx, "RemoveItem", key)
	err := t.next.RemoveItem(ctx, key)
	finish(span, err)
	return err
}

// Unwrap returns the wrapped store.
func (t *traced) Unwrap() Storage {
	return t.next
}
