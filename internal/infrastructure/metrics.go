package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// PipelineMetrics holds the business instruments shared by the pipeline
// components. Methods are safe on a nil receiver.
type PipelineMetrics struct {
	RunsTotal        metric.Int64Counter
	RunDuration      metric.Float64Histogram
	StageDuration    metric.Float64Histogram
	QualityScore     metric.Float64Histogram
	CheckpointsSaved metric.Int64Counter
	ReportsExported  metric.Int64Counter
	BackendCalls     metric.Int64Counter
	StateTransitions metric.Int64Counter
}

type instrument struct {
	name, desc, unit string
	counter          *metric.Int64Counter
	histogram        *metric.Float64Histogram
}

// NewPipelineMetrics registers the instruments on meter. A nil meter yields
// no-op instruments.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	m := &PipelineMetrics{}
	table := []instrument{
		{name: "insight_pipeline_runs_total", desc: "Pipeline runs by final status", counter: &m.RunsTotal},
		{name: "insight_pipeline_run_duration_seconds", desc: "End-to-end pipeline run duration", unit: "s", histogram: &m.RunDuration},
		{name: "insight_stage_duration_seconds", desc: "Pipeline stage duration", unit: "s", histogram: &m.StageDuration},
		{name: "insight_quality_score", desc: "Quality score of cleaned datasets", histogram: &m.QualityScore},
		{name: "insight_checkpoints_saved_total", desc: "Model checkpoints written to the registry", counter: &m.CheckpointsSaved},
		{name: "insight_reports_exported_total", desc: "Report files exported by format", counter: &m.ReportsExported},
		{name: "insight_backend_calls_total", desc: "Model backend calls by operation and status", counter: &m.BackendCalls},
		{name: "insight_controller_transitions_total", desc: "Controller state transitions by target state", counter: &m.StateTransitions},
	}
	for _, in := range table {
		var err error
		if in.counter != nil {
			*in.counter, err = meter.Int64Counter(in.name, metric.WithDescription(in.desc))
		} else {
			opts := []metric.Float64HistogramOption{metric.WithDescription(in.desc)}
			if in.unit != "" {
				opts = append(opts, metric.WithUnit(in.unit))
			}
			*in.histogram, err = meter.Float64Histogram(in.name, opts...)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRun records a finished pipeline run.
func (m *PipelineMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStage records one stage or task execution.
func (m *PipelineMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", outcome(success))))
}

// RecordBackendCall counts a model backend call.
func (m *PipelineMetrics) RecordBackendCall(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.BackendCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", outcome(err == nil))))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
