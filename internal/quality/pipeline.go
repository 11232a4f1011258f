package quality

import (
	"context"
	"log/slog"

	"insightpipe/internal/dataset"
	"insightpipe/internal/infrastructure"
)

// Pipeline wraps the pure quality functions with logging and metrics for
// use inside pipeline runs.
type Pipeline struct {
	policy      CleaningPolicy
	mcThreshold float64
	logger      *slog.Logger
	metrics     *infrastructure.PipelineMetrics
}

// NewPipeline validates policy up front so a bad config fails before any run.
func NewPipeline(policy CleaningPolicy, mcThreshold float64, logger *slog.Logger, metrics *infrastructure.PipelineMetrics) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if mcThreshold <= 0 {
		mcThreshold = DefaultMulticollinearityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		policy:      policy,
		mcThreshold: mcThreshold,
		logger:      logger.With(slog.String("component", "quality_pipeline")),
		metrics:     metrics,
	}, nil
}

// Clean runs Clean with the pipeline policy.
func (p *Pipeline) Clean(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	p.logger.InfoContext(ctx, "cleaning_started",
		slog.Int("rows", ds.NumRows()),
		slog.Int("columns", ds.NumCols()),
		slog.String("fill_strategy", p.policy.NullFillStrategy),
		slog.Bool("remove_outliers", p.policy.RemoveOutliers))

	out, err := Clean(ds, p.policy)
	if err != nil {
		p.logger.ErrorContext(ctx, "cleaning_failed", slog.String("error", err.Error()))
		return nil, err
	}

	p.logger.InfoContext(ctx, "cleaning_completed",
		slog.Int("rows_in", ds.NumRows()),
		slog.Int("rows_out", out.NumRows()))
	return out, nil
}

// Validate checks ds against schema; a nil schema only logs a warning.
func (p *Pipeline) Validate(ctx context.Context, ds *dataset.Dataset, schema *Schema) error {
	if schema == nil {
		p.logger.WarnContext(ctx, "schema_missing_validation_skipped")
		return nil
	}
	if err := ValidateStructure(ds, schema.Columns); err != nil {
		p.logger.ErrorContext(ctx, "structure_invalid", slog.String("error", err.Error()))
		return err
	}
	p.logger.InfoContext(ctx, "structure_validated", slog.Int("expected_columns", len(schema.Columns)))
	return nil
}

// Report builds the quality report with the pipeline's outlier settings
// and records the score.
func (p *Pipeline) Report(ctx context.Context, ds *dataset.Dataset) (Report, error) {
	report, err := BuildReport(ds, p.policy.OutlierMethod, p.policy.OutlierThreshold, p.mcThreshold)
	if err != nil {
		return Report{}, err
	}
	if p.metrics != nil {
		p.metrics.QualityScore.Record(ctx, report.Score)
	}
	p.logger.InfoContext(ctx, "quality_scored",
		slog.Float64("score", report.Score),
		slog.Float64("null_ratio", report.NullRatio),
		slog.Float64("outlier_ratio", report.OutlierRatio),
		slog.Int("multicollinear_pairs", len(report.Multicollinear)))
	return report, nil
}
