package operations

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "insightpipe.pipeline"
)

// PipelineTracer opens one span per run and one child span per stage or
// delegated task.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer uses the global tracer provider when tp is nil.
func NewPipelineTracer(tp trace.TracerProvider) *PipelineTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &PipelineTracer{tracer: tp.Tracer(TracerName)}
}

// StartRun creates a span for the entire pipeline run
func (pt *PipelineTracer) StartRun(ctx context.Context, runID, source string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("pipeline.source", source),
		),
	)
}

// StartStage creates a span for one stage of a run
func (pt *PipelineTracer) StartStage(ctx context.Context, runID string, stage StageID) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.stage."+string(stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("pipeline.stage", string(stage)),
		),
	)
}

// StartTask creates a span for a delegated task
func (pt *PipelineTracer) StartTask(ctx context.Context, kind TaskKind) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.task."+string(kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pipeline.task", string(kind))),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
