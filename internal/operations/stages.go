package operations

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/exporter"
	"insightpipe/internal/files"
	"insightpipe/internal/prompt"
	"insightpipe/internal/quality"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
)

// Report section titles written by the report stage.
const (
	SectionAnalysis       = "Analysis"
	SectionQuality        = "Data quality"
	SectionInterpretation = "Interpretation"
)

// InterpretationUnavailable replaces the interpretation when the model
// backend cannot produce one.
const InterpretationUnavailable = "The interpretation could not be generated for this report."

// Session memory keys written by the analyze stage.
const (
	MemoryKeyAnalysis     = "last_analysis"
	MemoryKeySource       = "last_source"
	MemoryKeyQualityScore = "last_quality_score"
	MemoryKeyRunID        = "last_run_id"
	MemoryKeyUpdatedAt    = "updated_at"
)

// runState carries data between the stages of one run.
type runState struct {
	id     string
	source string
	req    RunRequest

	path     string
	raw      *dataset.Dataset
	clean    *dataset.Dataset
	quality  quality.Report
	analysis string
	version  *registry.ModelVersion

	result RunResult
}

// metadata describes the dataset for prompts and report metadata.
func (rs *runState) metadata() map[string]string {
	meta := map[string]string{"source": rs.path}
	ds := rs.clean
	if ds == nil {
		ds = rs.raw
	}
	if ds != nil {
		meta["rows"] = strconv.Itoa(ds.NumRows())
		meta["columns"] = strconv.Itoa(ds.NumCols())
	}
	if rs.clean != nil {
		meta["quality_score"] = strconv.FormatFloat(rs.quality.Score, 'f', 4, 64)
	}
	if rs.version != nil {
		meta["model_version"] = rs.version.Name
	}
	return meta
}

// stage binds a stage id to its handler and the controller state it runs in.
type stage struct {
	id    StageID
	state State
	run   func(ctx context.Context, rs *runState) error
}

func (c *Controller) pipeline() []stage {
	return []stage{
		{StageLoad, StateRunning, c.loadStage},
		{StageClean, StateRunning, c.cleanStage},
		{StageValidate, StateRunning, c.validateStage},
		{StageAnalyze, StateRunning, c.analyzeStage},
		{StageFineTune, StateTraining, c.fineTuneStage},
		{StageReport, StateRunning, c.reportStage},
	}
}

// PipelineStages lists the stages of a run in execution order.
func PipelineStages() []StageID {
	return []StageID{StageLoad, StageClean, StageValidate, StageAnalyze, StageFineTune, StageReport}
}

func (c *Controller) loadStage(ctx context.Context, rs *runState) error {
	path, ok, err := files.LatestDataset(rs.source)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError("dataset " + rs.source)
		}
		return apperrors.NewStorageError("failed to resolve dataset source", err).WithContext("source", rs.source)
	}
	if !ok {
		return apperrors.NewNotFoundError("dataset in " + rs.source)
	}

	ds, err := dataset.Load(path)
	if err != nil {
		return err
	}
	rs.path = path
	rs.raw = ds
	rs.result.Dataset = path
	c.logger.InfoContext(ctx, "dataset_loaded",
		slog.String("path", path),
		slog.Int("rows", ds.NumRows()),
		slog.Int("columns", ds.NumCols()))
	return nil
}

func (c *Controller) cleanStage(ctx context.Context, rs *runState) error {
	cleaned, err := c.quality.Clean(ctx, rs.raw)
	if err != nil {
		return err
	}
	qr, err := c.quality.Report(ctx, cleaned)
	if err != nil {
		return err
	}
	rs.clean = cleaned
	rs.quality = qr
	rs.result.QualityScore = qr.Score
	return nil
}

func (c *Controller) validateStage(ctx context.Context, rs *runState) error {
	return c.quality.Validate(ctx, rs.clean, c.schema)
}

func (c *Controller) analyzeStage(ctx context.Context, rs *runState) error {
	session := c.settings.SessionID
	recalled, err := c.memory.RecallContext(ctx, session)
	if err != nil {
		return err
	}

	meta := rs.metadata()
	if prev, ok := recalled[MemoryKeySource]; ok {
		meta["previous_source"] = cast.ToString(prev)
	}
	if prev, ok := recalled[MemoryKeyQualityScore]; ok {
		meta["previous_quality_score"] = strconv.FormatFloat(cast.ToFloat64(prev), 'f', 4, 64)
	}

	doc, err := c.prompts.Analysis(ctx, rs.clean, meta, c.settings.Instruction)
	if err != nil {
		return err
	}
	body, err := prompt.Strip(doc.Text())
	if err != nil {
		return err
	}
	text, err := c.backend.Generate(ctx, body, c.settings.Generate)
	if err != nil {
		return err
	}
	rs.analysis = text
	rs.result.Analysis = text

	return c.memory.StoreContext(ctx, session, map[string]any{
		MemoryKeyAnalysis:     text,
		MemoryKeySource:       rs.path,
		MemoryKeyQualityScore: rs.quality.Score,
		MemoryKeyRunID:        rs.id,
		MemoryKeyUpdatedAt:    c.now().UTC().Format(time.RFC3339),
	})
}

func (c *Controller) fineTuneStage(ctx context.Context, rs *runState) error {
	path, err := exporter.SaveProcessed(c.paths, rs.clean, c.settings.ProcessedName, c.logger)
	if err != nil {
		return err
	}
	rs.result.ProcessedPath = path

	version, err := c.train(ctx, rs.clean, "")
	if err != nil {
		return err
	}
	rs.version = &version
	rs.result.Version = version.Name
	return nil
}

// train splits ds, fine-tunes on it and saves the artifact as a new
// checkpoint. Numeric artifact metadata is recorded as evaluation metrics.
func (c *Controller) train(ctx context.Context, ds *dataset.Dataset, name string) (registry.ModelVersion, error) {
	trainSet, valSet, err := dataset.Split(ds, c.settings.TestFraction)
	if err != nil {
		return registry.ModelVersion{}, err
	}
	artifact, err := c.backend.Train(ctx, trainSet, valSet, c.settings.Train)
	if err != nil {
		return registry.ModelVersion{}, err
	}
	version, err := c.registry.Save(ctx, artifact, name)
	if err != nil {
		return registry.ModelVersion{}, err
	}

	if metrics := numericMetadata(artifact.Metadata); len(metrics) > 0 {
		if err := c.registry.RecordEvaluation(ctx, version.Name, metrics); err != nil {
			return version, err
		}
		version.Metrics = metrics
	}
	return version, nil
}

// numericMetadata keeps the metadata values that parse as numbers.
func numericMetadata(meta map[string]string) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range meta {
		if f, err := cast.ToFloat64E(strings.TrimSpace(v)); err == nil {
			out[k] = f
		}
	}
	return out
}

func (c *Controller) reportStage(ctx context.Context, rs *runState) error {
	b := c.reports()
	b.BuildStructure(nil)
	meta := rs.metadata()
	for k, v := range rs.req.Metadata {
		meta[k] = v
	}
	b.AppendMetadata(meta)

	b.AddTextSections(
		report.Section{Title: SectionAnalysis, Body: rs.analysis},
		report.Section{Title: SectionQuality, Body: qualitySummary(rs.quality)},
	)
	b.AddModelSummary(SectionInterpretation, c.interpret(ctx, rs.clean, meta))
	b.EmbedCharts(rs.req.Charts...)

	if err := b.InsertMetrics(rs.req.Results); err != nil {
		return err
	}

	out, err := b.Finalize(ctx, c.settings.ReportFormats, c.settings.ReportFilename)
	rs.result.ReportPaths = out.Paths
	rs.result.FailedFormats = out.Failed
	return err
}

// interpret asks the backend for an executive summary. Failures degrade to
// InterpretationUnavailable.
func (c *Controller) interpret(ctx context.Context, ds *dataset.Dataset, meta map[string]string) string {
	doc, err := c.prompts.Summary(ctx, ds, meta)
	if err == nil {
		var body, text string
		if body, err = prompt.Strip(doc.Text()); err == nil {
			if text, err = c.backend.Generate(ctx, body, c.settings.Generate); err == nil {
				return text
			}
		}
	}
	c.logger.WarnContext(ctx, "interpretation_failed", slog.String("error", err.Error()))
	return InterpretationUnavailable
}

func qualitySummary(r quality.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rows: %d, columns: %d.\n", r.Rows, r.Columns)
	fmt.Fprintf(&sb, "Quality score: %.4f (null ratio %.4f, outlier ratio %.4f).", r.Score, r.NullRatio, r.OutlierRatio)
	if len(r.Multicollinear) > 0 {
		sb.WriteString("\nHighly correlated pairs:")
		for _, p := range r.Multicollinear {
			fmt.Fprintf(&sb, "\n- %s ↔ %s: %.2f", p.A, p.B, p.Value)
		}
	}
	return sb.String()
}
