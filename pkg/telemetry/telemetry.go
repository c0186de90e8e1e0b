// Package telemetry provides tracing spans around Helmsman's long-running
// operations (optimization runs, deployment phases, recovery executions),
// following the tracer-per-package pattern used by other production
// deployment engines in the wild (see DESIGN.md) rather than introducing
// a bespoke span abstraction.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the package-scoped tracer for component. Callers that
// never configure a TracerProvider still get otel's no-op tracer, so
// spans are always safe to start.
func Tracer(component string) trace.Tracer {
	return otel.Tracer("github.com/cuemby/helmsman/" + component)
}

// StartSpan starts a span named name on the component's tracer, returning
// the derived context and a function to end the span. Callers defer the
// returned func the way they'd defer span.End() directly:
//
//	ctx, end := telemetry.StartSpan(ctx, "optimizer", "ga.run")
//	defer end()
func StartSpan(ctx context.Context, component, name string) (context.Context, func()) {
	ctx, span := Tracer(component).Start(ctx, name)
	return ctx, func() { span.End() }
}

// RecordError marks the current span (if any) as failed with err. No-op
// when err is nil or ctx carries no active span.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}
