// Package tracing wires one OpenTelemetry span per step as a child of the
// run's root span.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an otel trace.Tracer with the run/step span conventions this
// engine uses, satisfying workflow.StepTracer without that package needing
// to import otel directly.
type Tracer struct {
	tracer trace.Tracer
}

// New wraps t; a nil t still works by falling back to the noop tracer
// otel's own API already provides for this exact situation.
func New(t trace.Tracer) *Tracer {
	if t == nil {
		t = noop.NewTracerProvider().Tracer("")
	}
	return &Tracer{tracer: t}
}

// StartRun opens the per-run root span and returns an end function that
// records the run's final error.
func (t *Tracer) StartRun(ctx context.Context, workflowName string) (context.Context, func(error)) {
	spanCtx, span := t.tracer.Start(ctx, "workflow."+workflowName, trace.WithAttributes(
		attribute.String("maverick.workflow_name", workflowName),
	))
	return spanCtx, func(err error) { end(span, err) }
}

// StartStep opens a child span for one step execution and returns an end
// function to call once the step completes.
func (t *Tracer) StartStep(ctx context.Context, stepName, stepType, stepPath string) (context.Context, func(error)) {
	spanCtx, span := t.tracer.Start(ctx, "step."+stepType, trace.WithAttributes(
		attribute.String("maverick.step_name", stepName),
		attribute.String("maverick.step_path", stepPath),
	))
	return spanCtx, func(err error) { end(span, err) }
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
