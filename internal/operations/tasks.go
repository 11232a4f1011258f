package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/exporter"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
)

// TaskKind names a delegated operation.
type TaskKind string

const (
	TaskClean    TaskKind = "clean_data"
	TaskFineTune TaskKind = "fine_tune"
	TaskReport   TaskKind = "generate_report"
)

// TaskKinds lists every delegable task.
func TaskKinds() []TaskKind {
	return []TaskKind{TaskClean, TaskFineTune, TaskReport}
}

// Task is one delegated operation. The set is closed: only the task types
// of this package implement it.
type Task interface {
	Kind() TaskKind
	isTask()
}

// CleanTask loads, cleans and validates a dataset, then saves the result
// under the processed directory.
type CleanTask struct {
	Source     string `json:"source" validate:"required"`
	OutputName string `json:"output_name,omitempty"`
}

// FineTuneTask trains on a dataset as is and saves a checkpoint. An empty
// Version gets an automatic name.
type FineTuneTask struct {
	Source  string `json:"source" validate:"required"`
	Version string `json:"version,omitempty"`
}

// ReportTask assembles and exports a report. Source is optional; with it the
// report gets dataset metadata and a model interpretation.
type ReportTask struct {
	Source   string              `json:"source,omitempty"`
	Sections map[string]string   `json:"sections,omitempty"`
	Results  report.ModelResults `json:"results"`
	Charts   []string            `json:"charts,omitempty"`
	Formats  []string            `json:"formats,omitempty"`
	Filename string              `json:"filename,omitempty"`
}

func (CleanTask) Kind() TaskKind    { return TaskClean }
func (FineTuneTask) Kind() TaskKind { return TaskFineTune }
func (ReportTask) Kind() TaskKind   { return TaskReport }

func (CleanTask) isTask()    {}
func (FineTuneTask) isTask() {}
func (ReportTask) isTask()   {}

// TaskResult is the outcome of a delegated task. Only the fields relevant
// to the task kind are set.
type TaskResult struct {
	Kind        TaskKind               `json:"kind"`
	Summary     *dataset.Summary       `json:"summary,omitempty"`
	Path        string                 `json:"path,omitempty"`
	Version     *registry.ModelVersion `json:"version,omitempty"`
	Metrics     map[string]float64     `json:"metrics,omitempty"`
	ReportPaths []string               `json:"report_paths,omitempty"`
	// FailedFormats are report formats whose export failed.
	FailedFormats []string `json:"failed_formats,omitempty"`
}

var validate = validator.New()

// DecodeTask builds a typed task from its name and JSON parameters. An
// unknown name is an UnknownTaskError; malformed parameters are a
// ValidationError.
func DecodeTask(kind string, params json.RawMessage) (Task, error) {
	var task Task
	switch TaskKind(kind) {
	case TaskClean:
		var t CleanTask
		if err := decodeParams(params, &t); err != nil {
			return nil, err
		}
		task = t
	case TaskFineTune:
		var t FineTuneTask
		if err := decodeParams(params, &t); err != nil {
			return nil, err
		}
		task = t
	case TaskReport:
		var t ReportTask
		if err := decodeParams(params, &t); err != nil {
			return nil, err
		}
		task = t
	default:
		return nil, apperrors.NewUnknownTaskError(kind).WithContext("known_tasks", TaskKinds())
	}
	return task, nil
}

func decodeParams(params json.RawMessage, out interface{}) error {
	if len(bytes.TrimSpace(params)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return apperrors.NewValidationError("invalid task parameters: " + err.Error())
		}
	}
	if err := validate.Struct(out); err != nil {
		return apperrors.NewValidationError("invalid task parameters: " + err.Error())
	}
	return nil
}

// dispatch routes task to its handler.
func (c *Controller) dispatch(ctx context.Context, task Task) (TaskResult, error) {
	switch t := task.(type) {
	case CleanTask:
		return c.cleanTask(ctx, t)
	case FineTuneTask:
		return c.fineTuneTask(ctx, t)
	case ReportTask:
		return c.reportTask(ctx, t)
	default:
		kind := "<nil>"
		if task != nil {
			kind = string(task.Kind())
		}
		return TaskResult{}, apperrors.NewUnknownTaskError(kind)
	}
}

func (c *Controller) cleanTask(ctx context.Context, t CleanTask) (TaskResult, error) {
	if err := validate.Struct(t); err != nil {
		return TaskResult{}, apperrors.NewValidationError(err.Error())
	}
	rs := &runState{source: t.Source}
	for _, fn := range []func(context.Context, *runState) error{c.loadStage, c.cleanStage, c.validateStage} {
		if err := fn(ctx, rs); err != nil {
			return TaskResult{}, err
		}
	}

	path, err := exporter.SaveProcessed(c.paths, rs.clean, t.OutputName, c.logger)
	if err != nil {
		return TaskResult{}, err
	}
	summary := dataset.Summarize(rs.clean)
	return TaskResult{Kind: TaskClean, Summary: &summary, Path: path}, nil
}

func (c *Controller) fineTuneTask(ctx context.Context, t FineTuneTask) (TaskResult, error) {
	if err := validate.Struct(t); err != nil {
		return TaskResult{}, apperrors.NewValidationError(err.Error())
	}
	rs := &runState{source: t.Source}
	if err := c.loadStage(ctx, rs); err != nil {
		return TaskResult{}, err
	}
	version, err := c.train(ctx, rs.raw, t.Version)
	if err != nil {
		return TaskResult{}, err
	}
	return TaskResult{Kind: TaskFineTune, Version: &version, Metrics: version.Metrics}, nil
}

func (c *Controller) reportTask(ctx context.Context, t ReportTask) (TaskResult, error) {
	b := c.reports()
	b.BuildStructure(nil)

	if t.Source != "" {
		rs := &runState{source: t.Source}
		for _, fn := range []func(context.Context, *runState) error{c.loadStage, c.cleanStage} {
			if err := fn(ctx, rs); err != nil {
				return TaskResult{}, err
			}
		}
		meta := rs.metadata()
		b.AppendMetadata(meta)
		b.AddModelSummary(SectionInterpretation, c.interpret(ctx, rs.clean, meta))
	}

	titles := make([]string, 0, len(t.Sections))
	for title := range t.Sections {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	for _, title := range titles {
		b.AddTextSections(report.Section{Title: title, Body: t.Sections[title]})
	}
	b.EmbedCharts(t.Charts...)

	if err := b.InsertMetrics(t.Results); err != nil {
		return TaskResult{}, err
	}

	formats := t.Formats
	if len(formats) == 0 {
		formats = c.settings.ReportFormats
	}
	filename := t.Filename
	if filename == "" {
		filename = c.settings.ReportFilename
	}
	out, err := b.Finalize(ctx, formats, filename)
	res := TaskResult{
		Kind:          TaskReport,
		Metrics:       b.Document().Metrics,
		ReportPaths:   out.Paths,
		FailedFormats: out.Failed,
	}
	if err != nil {
		return res, err
	}
	c.logger.InfoContext(ctx, "report_task_completed",
		slog.Int("files", len(out.Paths)),
		slog.Int("failed", len(out.Failed)),
		slog.String("formats", fmt.Sprint(formats)))
	return res, nil
}
